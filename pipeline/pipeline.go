// Package pipeline implements the C13 entity pipeline (spec.md §4.13): the
// seven-step per-entity processing chain (enrich, hash, dedup, download,
// shape, persist, archive) run over a bounded worker pool, grounded on the
// teacher's worker.Pool/worker.Worker(Queue, JobProcessor) shape from
// worker/pool.go, generalized so the "job" is one entity.Entity and the
// "queue" is the source driver's entity stream channel rather than a Redis
// queue.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"path"
	"sync"
	"sync/atomic"

	"airweave.dev/syncengine/destination"
	"airweave.dev/syncengine/download"
	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
	"airweave.dev/syncengine/rawdata"
	"airweave.dev/syncengine/storage"
)

// DestinationSlot pairs a configured destination.Destination with the
// multiplexer role it currently serves, so the pipeline knows whether to
// write into it (spec.md §4.13 step 6: "ACTIVE always; SHADOW only if
// actively being back-filled or live-mirrored").
type DestinationSlot struct {
	Dest        destination.Destination
	State       entity.MultiplexState
	AcceptsNew  bool // true for ACTIVE, and for SHADOW slots being back-filled/live-mirrored
}

// Counters accumulates per-decision counts for one run, folded into
// entity.SyncJob via AddCounters at the end of a batch (spec.md §4.13/§4.14).
type Counters struct {
	Inserted int64
	Updated  int64
	Deleted  int64
	Kept     int64
	Skipped  int64
}

func (c *Counters) add(d Decision) {
	switch d {
	case DecisionInsert:
		atomic.AddInt64(&c.Inserted, 1)
	case DecisionUpdate:
		atomic.AddInt64(&c.Updated, 1)
	case DecisionDelete:
		atomic.AddInt64(&c.Deleted, 1)
	case DecisionKeep:
		atomic.AddInt64(&c.Kept, 1)
	}
}

func (c *Counters) addSkipped() {
	atomic.AddInt64(&c.Skipped, 1)
}

// Snapshot reads the counters as plain ints for entity.SyncJob.AddCounters.
func (c *Counters) Snapshot() (inserted, updated, deleted, kept, skipped int) {
	return int(atomic.LoadInt64(&c.Inserted)), int(atomic.LoadInt64(&c.Updated)),
		int(atomic.LoadInt64(&c.Deleted)), int(atomic.LoadInt64(&c.Kept)), int(atomic.LoadInt64(&c.Skipped))
}

// Config wires every collaborator the pipeline's seven steps need.
type Config struct {
	SourceName      string
	SyncID          string
	SyncJobID       string
	ConnectionID    string
	SourceShortName string

	Dedup        *DedupIndex
	Downloader   *download.Downloader
	// Backend is the same storage.Backend the Downloader writes into; the
	// archive step (C11) reads a downloaded file back out of it so the
	// raw-data archive holds its own independent copy (spec.md §4.11).
	Backend      storage.Backend
	Destinations []DestinationSlot
	RawData      *rawdata.Service

	// Concurrency bounds the worker pool size (spec.md §5: "size
	// configurable; default in the tens").
	Concurrency int
}

// Pool is the bounded worker pool processing one sync job's entity stream
// (spec.md §5: "entities flow through a bounded async worker pool").
type Pool struct {
	cfg      Config
	counters Counters
}

// DefaultConcurrency matches spec.md §5's "default in the tens".
const DefaultConcurrency = 20

// NewPool builds a Pool. cfg.Concurrency <= 0 falls back to DefaultConcurrency.
func NewPool(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pool{cfg: cfg}
}

// Counters exposes the running totals so the orchestrator can heartbeat
// progress without waiting for Run to return.
func (p *Pool) Counters() *Counters { return &p.counters }

// Run drains entities from in, processing up to cfg.Concurrency concurrently,
// stopping early (returning the triggering error) on the first
// SyncFailureError, or on ctx cancellation. EntityProcessingError failures
// are isolated per spec.md §4.13: they increment the skipped counter and
// processing continues (grounded on worker.Worker.processNext's "don't exit
// on error, continue processing").
func (p *Pool) Run(ctx context.Context, in <-chan *entity.Entity) error {
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Concurrency)

	fatalCh := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reportFatal := func(err error) {
		select {
		case fatalCh <- err:
			cancel()
		default:
		}
	}

	for {
		select {
		case <-runCtx.Done():
			wg.Wait()
			return firstFatal(fatalCh, runCtx.Err())
		case e, ok := <-in:
			if !ok {
				wg.Wait()
				return firstFatal(fatalCh, nil)
			}

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				wg.Wait()
				return firstFatal(fatalCh, runCtx.Err())
			}

			wg.Add(1)
			go func(e *entity.Entity) {
				defer wg.Done()
				defer func() { <-sem }()

				if err := p.processOne(runCtx, e); err != nil {
					var fatal *syncerrors.SyncFailureError
					if errors.As(err, &fatal) {
						reportFatal(err)
						return
					}
					var epe *syncerrors.EntityProcessingError
					if errors.As(err, &epe) {
						p.counters.addSkipped()
						log.Printf("pipeline: entity %s skipped at stage %s: %v", epe.EntityID, epe.Stage, epe.Err)
						return
					}
					// Unclassified errors are treated as a single-entity
					// failure rather than failing the whole job, matching
					// the teacher's processNext: log and move on.
					p.counters.addSkipped()
					log.Printf("pipeline: entity %s failed: %v", e.EntityID, err)
				}
			}(e)
		}
	}
}

func firstFatal(fatalCh chan error, fallback error) error {
	select {
	case err := <-fatalCh:
		return err
	default:
		return fallback
	}
}

// processOne runs the seven steps of spec.md §4.13 for a single entity.
// Ordering guarantees hold strictly within one entity (spec.md §5); across
// entities no order is guaranteed, which is safe because dedup is keyed by
// entity_id alone.
func (p *Pool) processOne(ctx context.Context, e *entity.Entity) error {
	// Step 1: enrichment.
	stampEnrichment(e, p.cfg.SourceName, p.cfg.SyncID, p.cfg.SyncJobID, e.SystemMetadata.EntityType)

	// DeletionEntity bypasses hashing/dedup entirely (spec.md §4.13 step 3).
	if e.IsDeletion() {
		p.counters.add(DecisionDelete)
		return p.persistDelete(ctx, e)
	}

	// Step 2: hashing.
	hash, err := ComputeHash(e)
	if err != nil {
		return &syncerrors.SyncFailureError{Reason: "hash computation failed", Err: err}
	}
	e.SystemMetadata.Hash = hash

	// Step 3: dedup decision.
	decision := p.cfg.Dedup.Decide(e.EntityID, hash)
	p.counters.add(decision)
	if decision == DecisionKeep {
		return nil
	}

	// Step 4: file handling.
	if e.Kind == entity.KindFile && e.File != nil {
		if err := p.cfg.Downloader.DownloadFromURL(ctx, e, p.cfg.ConnectionID, p.cfg.SourceShortName); err != nil {
			return err // already an EntityProcessingError or SyncFailureError
		}
	}

	// UPDATE must delete old chunks before new ones write (spec.md §4.13
	// step 3, cross-referencing §4.10 bulk_delete_by_parent).
	if decision == DecisionUpdate {
		if err := p.deleteOldChunks(ctx, e.EntityID); err != nil {
			return err
		}
	}

	// Step 5 (shaping) + step 6 (persist) per destination slot: each
	// destination may shape the entity differently (spec.md §4.9).
	for _, slot := range p.cfg.Destinations {
		if !slot.AcceptsNew {
			continue
		}
		shaped, err := slot.Dest.GetContentProcessor().Process(ctx, e)
		if err != nil {
			return &syncerrors.EntityProcessingError{EntityID: e.EntityID, Stage: "shape", Err: err}
		}
		if len(shaped) == 0 {
			continue
		}
		if err := slot.Dest.BulkUpsert(ctx, shaped); err != nil {
			return &syncerrors.EntityProcessingError{EntityID: e.EntityID, Stage: "persist", Err: err}
		}
	}

	// Step 7: archive.
	if p.cfg.RawData != nil {
		if err := p.archive(ctx, e); err != nil {
			return &syncerrors.EntityProcessingError{EntityID: e.EntityID, Stage: "archive", Err: err}
		}
	}
	return nil
}

func (p *Pool) persistDelete(ctx context.Context, e *entity.Entity) error {
	for _, slot := range p.cfg.Destinations {
		if err := slot.Dest.BulkDelete(ctx, []string{e.EntityID}); err != nil {
			return &syncerrors.EntityProcessingError{EntityID: e.EntityID, Stage: "delete", Err: err}
		}
	}
	p.cfg.Dedup.Forget(e.EntityID)
	if p.cfg.RawData != nil {
		if err := p.cfg.RawData.DeleteEntity(ctx, e.EntityID); err != nil {
			return &syncerrors.EntityProcessingError{EntityID: e.EntityID, Stage: "archive-delete", Err: err}
		}
	}
	return nil
}

func (p *Pool) deleteOldChunks(ctx context.Context, entityID string) error {
	for _, slot := range p.cfg.Destinations {
		if err := slot.Dest.BulkDeleteByParent(ctx, []string{entityID}); err != nil {
			return &syncerrors.EntityProcessingError{EntityID: entityID, Stage: "delete-old-chunks", Err: err}
		}
	}
	return nil
}

func (p *Pool) archive(ctx context.Context, e *entity.Entity) error {
	if e.File == nil || e.File.LocalPath == "" || p.cfg.Backend == nil {
		return p.cfg.RawData.UpsertEntity(ctx, e, "", nil)
	}

	r, err := p.cfg.Backend.Get(ctx, e.File.LocalPath)
	if err != nil {
		return err
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	fileName := e.EntityID + path.Ext(e.File.LocalPath)
	return p.cfg.RawData.UpsertEntity(ctx, e, fileName, body)
}
