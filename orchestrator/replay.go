package orchestrator

import (
	"context"
	"fmt"
	"log"

	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/multiplex"
	"airweave.dev/syncengine/pipeline"
	"airweave.dev/syncengine/rawdata"
)

// ReplayBuilder constructs the collaborators one replay run needs: the
// rawdata.Service holding syncID's archived entities, and a Pool wired to
// write only into the newly-forked slot.
type ReplayBuilder func(ctx context.Context, syncID string, slot entity.DestinationSlot) (*rawdata.Service, *pipeline.Pool, error)

// SyncLookup resolves a Sync by ID, needed by Replayer.TriggerFullSync to
// start a full RunJob without multiplex ever depending on the Sync store
// itself.
type SyncLookup func(ctx context.Context, syncID string) (entity.Sync, error)

// Replayer implements multiplex.ReplayRunner and multiplex.SourceResyncer on
// top of an Orchestrator, satisfying the dependency multiplex.Multiplexer
// declares (spec.md §4.12) without multiplex importing orchestrator or
// pipeline.
type Replayer struct {
	orch        *Orchestrator
	buildReplay ReplayBuilder
	lookupSync  SyncLookup
	nextJobID   func() string
}

// NewReplayer wires an Orchestrator up as a multiplex.ReplayRunner and
// multiplex.SourceResyncer. nextJobID generates unique job IDs (e.g. a
// ulid/uuid generator supplied by cmd/syncworker).
func NewReplayer(orch *Orchestrator, buildReplay ReplayBuilder, lookupSync SyncLookup, nextJobID func() string) *Replayer {
	return &Replayer{orch: orch, buildReplay: buildReplay, lookupSync: lookupSync, nextJobID: nextJobID}
}

var (
	_ multiplex.ReplayRunner   = (*Replayer)(nil)
	_ multiplex.SourceResyncer = (*Replayer)(nil)
)

// RunReplay streams syncID's raw-data archive through a pipeline into slot,
// bypassing the source driver entirely (spec.md §4.12 fork's
// replay_from_arf path). It returns as soon as the replay has started;
// callers observe completion via the raw-data manifest or destination
// counts rather than blocking here.
func (r *Replayer) RunReplay(ctx context.Context, syncID string, slot entity.DestinationSlot) (string, error) {
	raw, pool, err := r.buildReplay(ctx, syncID, slot)
	if err != nil {
		return "", fmt.Errorf("orchestrator: build replay for sync %s: %w", syncID, err)
	}

	jobID := r.nextJobID()
	entityCh := make(chan *entity.Entity, 64)

	go func() {
		defer close(entityCh)
		if err := raw.IterEntities(ctx, func(e *entity.Entity) error {
			select {
			case entityCh <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}); err != nil {
			log.Printf("orchestrator: replay %s for sync %s: reading archive: %v", jobID, syncID, err)
		}
	}()

	go func() {
		if err := pool.Run(ctx, entityCh); err != nil {
			log.Printf("orchestrator: replay %s for sync %s failed: %v", jobID, syncID, err)
		}
	}()

	return jobID, nil
}

// TriggerFullSync starts a force_full_sync=true RunJob in the background and
// returns its job ID immediately (spec.md §4.12 resync_from_source "starts"
// a full sync; it does not wait for it to finish).
func (r *Replayer) TriggerFullSync(ctx context.Context, syncID string) (string, error) {
	sync, err := r.lookupSync(ctx, syncID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: lookup sync %s: %w", syncID, err)
	}

	jobID := r.nextJobID()
	go func() {
		if _, err := r.orch.RunJob(context.Background(), jobID, sync, true); err != nil {
			log.Printf("orchestrator: resync job %s for sync %s failed: %v", jobID, syncID, err)
		}
	}()
	return jobID, nil
}
