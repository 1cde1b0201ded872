package multiplex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"airweave.dev/syncengine/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory sqlite database migrated with the same
// slotRow model NewStore uses against postgres in production, so Fork/
// Switch's transactional logic can be exercised without live infrastructure
// (mirroring how token's tests fake the store rather than hitting postgres).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&slotRow{}))
	return &Store{db: db}
}

type fakeReplayRunner struct {
	mu    sync.Mutex
	calls int
	jobID string
	err   error
}

func (f *fakeReplayRunner) RunReplay(ctx context.Context, syncID string, slot entity.DestinationSlot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

type fakeResyncer struct {
	jobID string
	err   error
}

func (f *fakeResyncer) TriggerFullSync(ctx context.Context, syncID string) (string, error) {
	return f.jobID, f.err
}

func TestMultiplexer_Fork_CreatesShadowSlot(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	slot, jobID, err := m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a", DestinationType: "qdrant"}, false)
	require.NoError(t, err)
	assert.Nil(t, jobID)
	assert.Equal(t, entity.SlotShadow, slot.State)
	assert.Equal(t, "sync-1", slot.SyncID)

	slots, err := m.ListDestinations(ctx, "sync-1")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, entity.SlotShadow, slots[0].State)
}

func TestMultiplexer_Fork_RejectsDuplicateNonDeprecatedSlot(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	_, _, err := m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a", DestinationType: "qdrant"}, false)
	require.NoError(t, err)

	_, _, err = m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a", DestinationType: "qdrant"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlotConflict))
}

func TestMultiplexer_Fork_AllowsReforkAfterDeprecation(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	slot, _, err := m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a", DestinationType: "qdrant"}, false)
	require.NoError(t, err)
	require.NoError(t, store.db.Model(&slotRow{}).Where("sync_id = ? AND connection_id = ?", "sync-1", "conn-a").
		Update("role", string(entity.SlotDeprecated)).Error)

	_, _, err = m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a", DestinationType: "qdrant"}, false)
	assert.NoError(t, err)
	assert.NotEmpty(t, slot.ID)
}

func TestMultiplexer_Fork_StartsReplayWhenRequested(t *testing.T) {
	store := newTestStore(t)
	replay := &fakeReplayRunner{jobID: "job-123"}
	m := New(store, replay, nil)
	ctx := context.Background()

	_, jobID, err := m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a"}, true)
	require.NoError(t, err)
	require.NotNil(t, jobID)
	assert.Equal(t, "job-123", *jobID)
	assert.Equal(t, 1, replay.calls)
}

func TestMultiplexer_Fork_ReplayWithoutRunnerFails(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	_, _, err := m.Fork(ctx, "sync-1", entity.DestinationSlot{ID: "conn-a"}, true)
	assert.Error(t, err)
}

func TestMultiplexer_Switch_PromotesShadowAndDemotesActive(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	var shadowRow entity.DestinationSlot
	err := store.db.Transaction(func(tx *gorm.DB) error {
		if _, err := createSlot(tx, entity.DestinationSlot{SyncID: "sync-1", ID: "conn-active", State: entity.SlotActive}); err != nil {
			return err
		}
		row, err := createSlot(tx, entity.DestinationSlot{SyncID: "sync-1", ID: "conn-shadow", State: entity.SlotShadow})
		shadowRow = row
		return err
	})
	require.NoError(t, err)

	require.NoError(t, m.Switch(ctx, "sync-1", shadowRow.ID))

	slots, err := m.ListDestinations(ctx, "sync-1")
	require.NoError(t, err)
	require.Len(t, slots, 2)

	var active, deprecated int
	for _, s := range slots {
		switch s.State {
		case entity.SlotActive:
			active++
			assert.NotNil(t, s.PromotedAt)
		case entity.SlotDeprecated:
			deprecated++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, deprecated)
}

func TestMultiplexer_Switch_FailsWhenTargetSlotMissing(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	err := m.Switch(ctx, "sync-1", "does-not-exist")
	assert.Error(t, err)
}

func TestMultiplexer_ResyncFromSource_DelegatesToResyncer(t *testing.T) {
	store := newTestStore(t)
	resyncer := &fakeResyncer{jobID: "resync-job"}
	m := New(store, nil, resyncer)

	jobID, err := m.ResyncFromSource(context.Background(), "sync-1")
	require.NoError(t, err)
	assert.Equal(t, "resync-job", jobID)
}

func TestMultiplexer_ResyncFromSource_WithoutResyncerFails(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)

	_, err := m.ResyncFromSource(context.Background(), "sync-1")
	assert.Error(t, err)
}

func TestMultiplexer_ListDestinations_OrdersActiveShadowDeprecated(t *testing.T) {
	store := newTestStore(t)
	m := New(store, nil, nil)
	ctx := context.Background()

	err := store.db.Transaction(func(tx *gorm.DB) error {
		for _, s := range []entity.DestinationSlot{
			{SyncID: "sync-1", ID: "c1", State: entity.SlotDeprecated},
			{SyncID: "sync-1", ID: "c2", State: entity.SlotActive},
			{SyncID: "sync-1", ID: "c3", State: entity.SlotShadow},
		} {
			if _, err := createSlot(tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	slots, err := m.ListDestinations(ctx, "sync-1")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, entity.SlotActive, slots[0].State)
	assert.Equal(t, entity.SlotShadow, slots[1].State)
	assert.Equal(t, entity.SlotDeprecated, slots[2].State)
}
