package workerruntime

import (
	"context"
	"sync"
	"testing"
	"time"

	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/orchestrator"
	"airweave.dev/syncengine/pipeline"
	"airweave.dev/syncengine/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	acked  []Task
	nacked []Task
}

func newFakeTaskQueue(tasks ...Task) *fakeTaskQueue {
	return &fakeTaskQueue{tasks: tasks}
}

func (q *fakeTaskQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeTaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &t, nil
}

func (q *fakeTaskQueue) Ack(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, task)
	return nil
}

func (q *fakeTaskQueue) Nack(ctx context.Context, task Task, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, task)
	return nil
}

func (q *fakeTaskQueue) Close() error { return nil }

type fakeDriver struct{}

func (f *fakeDriver) Metadata() source.Metadata                               { return source.Metadata{ShortName: "fake"} }
func (f *fakeDriver) Validate(ctx context.Context, connectionID string) error { return nil }
func (f *fakeDriver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (source.Page, error) {
	return source.Page{Entities: []*entity.Entity{{EntityID: "e1"}}, HasMore: false}, nil
}

type fakeDestination struct{ upserted []*entity.Entity }

func (f *fakeDestination) BulkUpsert(ctx context.Context, entities []*entity.Entity) error {
	f.upserted = append(f.upserted, entities...)
	return nil
}
func (f *fakeDestination) BulkDelete(ctx context.Context, ids []string) error         { return nil }
func (f *fakeDestination) BulkDeleteByParent(ctx context.Context, ids []string) error { return nil }
func (f *fakeDestination) HasKeywordIndex() bool                                     { return false }
func (f *fakeDestination) GetContentProcessor() contentprocessor.Processor           { return contentprocessor.RawPassthrough{} }

func newTestRuntime(t *testing.T, q TaskQueue) *Runtime {
	t.Helper()
	dest := &fakeDestination{}
	build := func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*orchestrator.JobDeps, error) {
		pool := pipeline.NewPool(pipeline.Config{
			SyncID: sync.ID, Dedup: pipeline.NewDedupIndex(),
			Destinations: []pipeline.DestinationSlot{{Dest: dest, AcceptsNew: true}},
			Concurrency:  2,
		})
		return &orchestrator.JobDeps{Driver: &fakeDriver{}, Pipeline: pool}, nil
	}
	orch := orchestrator.New(orchestrator.NewInMemoryJobStore(), nil, build)
	lookup := func(ctx context.Context, syncID string) (entity.Sync, error) {
		return entity.Sync{ID: syncID, ConnectionID: "conn-1"}, nil
	}

	return New(Config{
		WorkerID:     "worker-1",
		Queue:        q,
		Orchestrator: orch,
		LookupSync:   lookup,
		Concurrency:  1,
		Namespace:    "test_" + t.Name(),
	})
}

func TestRuntime_Run_ProcessesQueuedTaskAndAcks(t *testing.T) {
	q := newFakeTaskQueue(Task{JobID: "job-1", SyncID: "sync-1", SourceShortName: "fake"})
	rt := newTestRuntime(t, q)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, rt.Run(ctx))

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Len(t, q.acked, 1)
	assert.Empty(t, q.nacked)
}

func TestRuntime_Drain_StopsAcceptingNewTasks(t *testing.T) {
	q := newFakeTaskQueue(Task{JobID: "job-1", SyncID: "sync-1", SourceShortName: "fake"})
	rt := newTestRuntime(t, q)
	rt.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, rt.Run(ctx))

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.acked, "a drained runtime must not pick up new tasks")
	assert.Len(t, q.tasks, 1, "the queued task must remain untouched")
}

func TestRuntime_Status_ReportsActiveJobsAndDraining(t *testing.T) {
	q := newFakeTaskQueue()
	rt := newTestRuntime(t, q)
	assert.False(t, rt.isDraining())
	rt.Drain()
	assert.True(t, rt.isDraining())
}
