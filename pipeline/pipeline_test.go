package pipeline

import (
	"context"
	"testing"

	"airweave.dev/syncengine/contentprocessor"
	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDestination struct {
	upserted        []*entity.Entity
	deleted         []string
	deletedByParent []string
	failUpsert      error
}

func (f *fakeDestination) BulkUpsert(ctx context.Context, entities []*entity.Entity) error {
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.upserted = append(f.upserted, entities...)
	return nil
}
func (f *fakeDestination) BulkDelete(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}
func (f *fakeDestination) BulkDeleteByParent(ctx context.Context, ids []string) error {
	f.deletedByParent = append(f.deletedByParent, ids...)
	return nil
}
func (f *fakeDestination) HasKeywordIndex() bool                               { return false }
func (f *fakeDestination) GetContentProcessor() contentprocessor.Processor     { return contentprocessor.RawPassthrough{} }

func newTestPool(t *testing.T, dest *fakeDestination) *Pool {
	t.Helper()
	return NewPool(Config{
		SourceName:   "jira",
		SyncID:       "sync-1",
		SyncJobID:    "job-1",
		Dedup:        NewDedupIndex(),
		Destinations: []DestinationSlot{{Dest: dest, State: entity.SlotActive, AcceptsNew: true}},
		Concurrency:  4,
	})
}

func TestPool_Run_InsertsNewEntity(t *testing.T) {
	dest := &fakeDestination{}
	p := newTestPool(t, dest)

	in := make(chan *entity.Entity, 1)
	in <- &entity.Entity{EntityID: "e1", Name: "one"}
	close(in)

	require.NoError(t, p.Run(context.Background(), in))
	inserted, _, _, _, _ := p.Counters().Snapshot()
	assert.Equal(t, 1, inserted)
	require.Len(t, dest.upserted, 1)
	assert.Equal(t, "e1", dest.upserted[0].EntityID)
}

func TestPool_Run_SecondIdenticalPassIsKept(t *testing.T) {
	dest := &fakeDestination{}
	dedup := NewDedupIndex()
	cfg := Config{
		SyncID: "sync-1", SyncJobID: "job-1", Dedup: dedup,
		Destinations: []DestinationSlot{{Dest: dest, AcceptsNew: true}},
		Concurrency:  1,
	}

	p1 := NewPool(cfg)
	in1 := make(chan *entity.Entity, 1)
	in1 <- &entity.Entity{EntityID: "e1", Name: "one"}
	close(in1)
	require.NoError(t, p1.Run(context.Background(), in1))

	p2 := NewPool(cfg)
	in2 := make(chan *entity.Entity, 1)
	in2 <- &entity.Entity{EntityID: "e1", Name: "one"}
	close(in2)
	require.NoError(t, p2.Run(context.Background(), in2))

	_, _, _, kept, _ := p2.Counters().Snapshot()
	assert.Equal(t, 1, kept)
	assert.Len(t, dest.upserted, 1, "kept entities must not be re-persisted")
}

func TestPool_Run_ChangedEntityIsUpdatedAndDeletesOldChunksFirst(t *testing.T) {
	dest := &fakeDestination{}
	dedup := NewDedupIndex()
	cfg := Config{
		SyncID: "sync-1", SyncJobID: "job-1", Dedup: dedup,
		Destinations: []DestinationSlot{{Dest: dest, AcceptsNew: true}},
		Concurrency:  1,
	}

	p1 := NewPool(cfg)
	in1 := make(chan *entity.Entity, 1)
	in1 <- &entity.Entity{EntityID: "e1", Name: "one"}
	close(in1)
	require.NoError(t, p1.Run(context.Background(), in1))

	p2 := NewPool(cfg)
	in2 := make(chan *entity.Entity, 1)
	in2 <- &entity.Entity{EntityID: "e1", Name: "changed"}
	close(in2)
	require.NoError(t, p2.Run(context.Background(), in2))

	_, updated, _, _, _ := p2.Counters().Snapshot()
	assert.Equal(t, 1, updated)
	assert.Equal(t, []string{"e1"}, dest.deletedByParent)
}

func TestPool_Run_DeletionEntityBypassesDedupAndDeletes(t *testing.T) {
	dest := &fakeDestination{}
	p := newTestPool(t, dest)

	in := make(chan *entity.Entity, 1)
	in <- &entity.Entity{EntityID: "e1", Kind: entity.KindDeletion, Deletion: &entity.DeletionFields{DeletionStatus: "removed"}}
	close(in)

	require.NoError(t, p.Run(context.Background(), in))
	_, _, deleted, _, _ := p.Counters().Snapshot()
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"e1"}, dest.deleted)
}

func TestPool_Run_EntityProcessingErrorIsIsolatedAndCountedSkipped(t *testing.T) {
	dest := &fakeDestination{failUpsert: &syncerrors.EntityProcessingError{EntityID: "e1", Stage: "persist"}}
	p := newTestPool(t, dest)

	in := make(chan *entity.Entity, 2)
	in <- &entity.Entity{EntityID: "e1"}
	in <- &entity.Entity{EntityID: "e2"}
	close(in)

	err := p.Run(context.Background(), in)
	require.NoError(t, err, "a per-entity EntityProcessingError must not fail the whole run")
	_, _, _, _, skipped := p.Counters().Snapshot()
	assert.Equal(t, 2, skipped)
}

func TestPool_Run_SyncFailureErrorAbortsTheRun(t *testing.T) {
	dedup := NewDedupIndex()
	cfg := Config{
		SyncID: "sync-1", SyncJobID: "job-1", Dedup: dedup,
		Destinations: []DestinationSlot{{Dest: &fakeDestination{failUpsert: &syncerrors.SyncFailureError{Reason: "destination unreachable"}}, AcceptsNew: true}},
		Concurrency:  1,
	}
	p := NewPool(cfg)

	in := make(chan *entity.Entity, 1)
	in <- &entity.Entity{EntityID: "e1"}
	close(in)

	err := p.Run(context.Background(), in)
	require.Error(t, err)
	var fatal *syncerrors.SyncFailureError
	assert.ErrorAs(t, err, &fatal)
}

func TestComputeHash_IsStableAndChangesWithContent(t *testing.T) {
	e1 := &entity.Entity{EntityID: "e1", Name: "one"}
	e2 := &entity.Entity{EntityID: "e1", Name: "one"}
	e3 := &entity.Entity{EntityID: "e1", Name: "two"}

	h1, err := ComputeHash(e1)
	require.NoError(t, err)
	h2, err := ComputeHash(e2)
	require.NoError(t, err)
	h3, err := ComputeHash(e3)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestDedupIndex_Decide_FollowsInsertKeepUpdate(t *testing.T) {
	idx := NewDedupIndex()
	assert.Equal(t, DecisionInsert, idx.Decide("e1", "h1"))
	assert.Equal(t, DecisionKeep, idx.Decide("e1", "h1"))
	assert.Equal(t, DecisionUpdate, idx.Decide("e1", "h2"))
}
