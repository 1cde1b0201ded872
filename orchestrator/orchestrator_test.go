package orchestrator

import (
	"context"
	"testing"
	"time"

	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/pipeline"
	"airweave.dev/syncengine/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	pages []source.Page
	calls int

	// block, if non-nil, is waited on before the first call returns, so
	// tests can exercise cancellation of a job still in its first page.
	block <-chan struct{}
}

func (f *fakeDriver) Metadata() source.Metadata                               { return source.Metadata{ShortName: "fake"} }
func (f *fakeDriver) Validate(ctx context.Context, connectionID string) error { return nil }
func (f *fakeDriver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (source.Page, error) {
	if f.block != nil && f.calls == 0 {
		select {
		case <-f.block:
		case <-ctx.Done():
			return source.Page{}, ctx.Err()
		}
	}
	if f.calls >= len(f.pages) {
		return source.Page{HasMore: false}, nil
	}
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

type fakeDestination struct{ upserted []*entity.Entity }

func (f *fakeDestination) BulkUpsert(ctx context.Context, entities []*entity.Entity) error {
	f.upserted = append(f.upserted, entities...)
	return nil
}
func (f *fakeDestination) BulkDelete(ctx context.Context, ids []string) error          { return nil }
func (f *fakeDestination) BulkDeleteByParent(ctx context.Context, ids []string) error  { return nil }
func (f *fakeDestination) HasKeywordIndex() bool                                      { return false }
func (f *fakeDestination) GetContentProcessor() contentprocessor.Processor            { return contentprocessor.RawPassthrough{} }

func testSync() entity.Sync {
	return entity.Sync{ID: "sync-1", ConnectionID: "conn-1"}
}

func TestOrchestrator_RunJob_CompletesAndCountsEntities(t *testing.T) {
	dest := &fakeDestination{}
	driver := &fakeDriver{pages: []source.Page{
		{Entities: []*entity.Entity{{EntityID: "e1"}, {EntityID: "e2"}}, HasMore: false},
	}}

	build := func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*JobDeps, error) {
		pool := pipeline.NewPool(pipeline.Config{
			SyncID: sync.ID, Dedup: pipeline.NewDedupIndex(),
			Destinations: []pipeline.DestinationSlot{{Dest: dest, AcceptsNew: true}},
			Concurrency:  2,
		})
		return &JobDeps{Driver: driver, Pipeline: pool}, nil
	}

	orch := New(NewInMemoryJobStore(), nil, build)
	job, err := orch.RunJob(context.Background(), "job-1", testSync(), false)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, job.Status)
	assert.Equal(t, 2, job.EntitiesInserted)
	assert.Len(t, dest.upserted, 2)
}

func TestOrchestrator_RunJob_RejectsConcurrentJobWithoutForce(t *testing.T) {
	jobs := NewInMemoryJobStore()
	require.NoError(t, jobs.Create(context.Background(), &entity.SyncJob{ID: "existing", SyncID: "sync-1", Status: entity.JobRunning}))

	build := func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*JobDeps, error) {
		t.Fatal("build should not be called when pre-flight rejects the job")
		return nil, nil
	}

	orch := New(jobs, nil, build)
	_, err := orch.RunJob(context.Background(), "job-2", testSync(), false)
	require.Error(t, err)
}

func TestOrchestrator_RunJob_FailsWhenBuildErrors(t *testing.T) {
	build := func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*JobDeps, error) {
		return nil, assert.AnError
	}
	orch := New(NewInMemoryJobStore(), nil, build)

	job, err := orch.RunJob(context.Background(), "job-1", testSync(), false)
	require.Error(t, err)
	assert.Equal(t, entity.JobFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)
}

func TestOrchestrator_Cancel_StopsAnInFlightJob(t *testing.T) {
	dest := &fakeDestination{}
	block := make(chan struct{}) // never closed: List blocks until ctx is cancelled
	driver := &fakeDriver{block: block}

	build := func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*JobDeps, error) {
		pool := pipeline.NewPool(pipeline.Config{
			SyncID: sync.ID, Dedup: pipeline.NewDedupIndex(),
			Destinations: []pipeline.DestinationSlot{{Dest: dest, AcceptsNew: true}},
			Concurrency:  2,
		})
		return &JobDeps{Driver: driver, Pipeline: pool}, nil
	}

	orch := New(NewInMemoryJobStore(), nil, build)

	done := make(chan struct{})
	var job *entity.SyncJob
	var runErr error
	go func() {
		defer close(done)
		job, runErr = orch.RunJob(context.Background(), "job-1", testSync(), false)
	}()

	// Poll until RunJob has registered its cancel func (it does so before
	// calling the driver), then cancel it mid-first-page.
	require.Eventually(t, func() bool {
		return orch.Cancel(context.Background(), "job-1") == nil
	}, time.Second, time.Millisecond)

	<-done
	require.NoError(t, runErr)
	require.NotNil(t, job)
	assert.Equal(t, entity.JobCancelled, job.Status)
}

func TestOrchestrator_CleanupStuckJobs_ForceCancelsStalePending(t *testing.T) {
	jobs := NewInMemoryJobStore()
	stale := &entity.SyncJob{ID: "stuck-1", SyncID: "sync-1", Status: entity.JobPending, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, jobs.Create(context.Background(), stale))

	orch := New(jobs, nil, nil)
	cleaned, err := orch.CleanupStuckJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	got, err := jobs.Get(context.Background(), "stuck-1")
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
}

func TestOrchestrator_CleanupStuckJobs_IgnoresFreshPending(t *testing.T) {
	jobs := NewInMemoryJobStore()
	fresh := &entity.SyncJob{ID: "fresh-1", SyncID: "sync-1", Status: entity.JobPending, CreatedAt: time.Now()}
	require.NoError(t, jobs.Create(context.Background(), fresh))

	orch := New(jobs, nil, nil)
	cleaned, err := orch.CleanupStuckJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned)
}
