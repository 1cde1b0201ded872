// Package orchestrator implements the C14 sync orchestrator (spec.md
// §4.14): the job lifecycle state machine, pre-flight/post-flight checks,
// heartbeating, cooperative cancellation, and the periodic cleanup job for
// stuck jobs. Grounded on the teacher's statemanager/manager.go operation-
// tracking shape (generalized from an ad-hoc operation map into
// entity.SyncJob's typed state machine) and db/bolt for crash-recovery
// checkpointing.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
	"airweave.dev/syncengine/pipeline"
	"airweave.dev/syncengine/rawdata"
	"airweave.dev/syncengine/source"
)

// waitForOtherJobPollInterval/maxWait mirror spec.md §4.14's "polling every
// 30s, up to 1h" wait for an in-flight job when force_full_sync=true.
const (
	waitForOtherJobPollInterval = 30 * time.Second
	waitForOtherJobMaxWait      = time.Hour

	heartbeatInterval = 5 * time.Second

	// Cleanup-job thresholds (spec.md §4.14).
	stuckCancellingOrPendingAfter = 3 * time.Minute
	stuckRunningNoProgressAfter   = 10 * time.Minute
)

// JobDeps bundles every per-job collaborator the pipeline's seven steps
// need, built by the caller (cmd/syncworker) from a Sync's connection,
// collection, and destination slots. The orchestrator only sequences
// lifecycle around these; it does not construct them.
type JobDeps struct {
	Driver       source.Driver
	Pipeline     *pipeline.Pool
	RawData      *rawdata.Service
	CleanupFiles func(ctx context.Context) error // downloader.CleanupSyncDirectory, bound to this job
}

// Builder constructs a JobDeps for one run of sync. force_full_sync resets
// the dedup index and ignores any saved checkpoint.
type Builder func(ctx context.Context, sync entity.Sync, forceFullSync bool) (*JobDeps, error)

// Orchestrator sequences the PENDING -> RUNNING -> {COMPLETED, FAILED,
// CANCELLED} / CANCELLING -> CANCELLED state machine for sync jobs
// (spec.md §4.14).
type Orchestrator struct {
	jobs       JobStore
	checkpoint *Checkpoint
	build      Builder

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	lastSeen  map[string]time.Time // jobID -> last entity-progress timestamp, for the cleanup job
}

// New builds an Orchestrator. checkpoint may be nil if crash-recovery
// checkpointing is not wired (jobs always resume from the Sync's own
// persisted cursor instead).
func New(jobs JobStore, checkpoint *Checkpoint, build Builder) *Orchestrator {
	return &Orchestrator{
		jobs:       jobs,
		checkpoint: checkpoint,
		build:      build,
		cancels:    map[string]context.CancelFunc{},
		lastSeen:   map[string]time.Time{},
	}
}

// RunJob executes one full lifecycle for sync: pre-flight, main loop,
// post-flight, exactly as spec.md §4.14 describes. jobID must be unique;
// the caller (typically workerruntime's activity poller) generates it.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string, sync entity.Sync, forceFullSync bool) (*entity.SyncJob, error) {
	if err := o.preflight(ctx, sync, forceFullSync); err != nil {
		return nil, err
	}

	job := &entity.SyncJob{ID: jobID, SyncID: sync.ID, Status: entity.JobPending, Cursor: sync.Cursor, CreatedAt: time.Now()}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.lastSeen[jobID] = time.Now()
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		delete(o.lastSeen, jobID)
		o.mu.Unlock()
		cancel()
	}()

	if err := job.Transition(entity.JobRunning); err != nil {
		return job, err
	}
	_ = o.jobs.Update(ctx, job)

	deps, err := o.build(runCtx, sync, forceFullSync)
	if err != nil {
		return o.fail(ctx, job, err)
	}
	if deps.RawData != nil {
		defer func() {
			if ferr := deps.RawData.FlushManifest(context.Background()); ferr != nil {
				log.Printf("orchestrator: job %s raw-data manifest flush failed: %v", job.ID, ferr)
			}
		}()
	}

	runErr := o.mainLoop(runCtx, job, sync, deps, forceFullSync)

	// Post-flight always runs, even on cancellation or failure (spec.md
	// §4.14: "always call cleanup_sync_directory ... in a terminal
	// finally-path").
	if deps.CleanupFiles != nil {
		if cerr := deps.CleanupFiles(context.Background()); cerr != nil {
			log.Printf("orchestrator: job %s cleanup_sync_directory failed: %v", job.ID, cerr)
		}
	}

	if runErr != nil {
		if runCtx.Err() != nil {
			return o.finishCancelled(ctx, job)
		}
		return o.fail(ctx, job, runErr)
	}

	if forceFullSync && deps.RawData != nil {
		deps.RawData.StartSyncTracking() // no-op if already tracking from mainLoop
		if _, cerr := deps.RawData.CleanupStaleEntities(ctx); cerr != nil {
			log.Printf("orchestrator: job %s stale-entity cleanup failed: %v", job.ID, cerr)
		}
	}
	if o.checkpoint != nil {
		_ = o.checkpoint.Clear(sync.ID)
	}

	if err := job.Transition(entity.JobCompleted); err != nil {
		return job, err
	}
	_ = o.jobs.Update(ctx, job)
	return job, nil
}

// preflight verifies no conflicting job is already active for this sync,
// waiting (up to 1h, polling every 30s) if forceFullSync is set (spec.md
// §4.14).
func (o *Orchestrator) preflight(ctx context.Context, sync entity.Sync, forceFullSync bool) error {
	deadline := time.Now().Add(waitForOtherJobMaxWait)
	for {
		active, err := o.jobs.ListActiveForSync(ctx, sync.ID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}
		if !forceFullSync {
			return &syncerrors.SyncFailureError{Reason: fmt.Sprintf("sync %s already has an active job", sync.ID)}
		}
		if time.Now().After(deadline) {
			return &syncerrors.SyncFailureError{Reason: fmt.Sprintf("sync %s: timed out waiting for active job to terminate", sync.ID)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitForOtherJobPollInterval):
		}
	}
}

// mainLoop drives the driver's pages into the pipeline, heartbeating and
// observing cancellation between pages (spec.md §4.14).
func (o *Orchestrator) mainLoop(ctx context.Context, job *entity.SyncJob, sync entity.Sync, deps *JobDeps, forceFullSync bool) error {
	cursor := sync.Cursor
	if !forceFullSync && o.checkpoint != nil {
		if saved, err := o.checkpoint.Load(sync.ID); err == nil && !saved.IsZero() {
			cursor = saved
		}
	}
	if forceFullSync && deps.RawData != nil {
		deps.RawData.StartSyncTracking()
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	entityCh := make(chan *entity.Entity, 64)
	pipelineErrCh := make(chan error, 1)
	go func() {
		pipelineErrCh <- deps.Pipeline.Run(ctx, entityCh)
	}()

	var loopErr error
pageLoop:
	for {
		select {
		case <-ctx.Done():
			loopErr = ctx.Err()
			break pageLoop
		default:
		}

		page, err := deps.Driver.List(ctx, sync.ConnectionID, cursor)
		if err != nil {
			loopErr = err
			break pageLoop
		}

		for _, e := range page.Entities {
			select {
			case entityCh <- e:
				o.touch(job.ID)
			case <-ctx.Done():
				loopErr = ctx.Err()
				break pageLoop
			}
		}

		cursor = page.NextCursor
		job.Cursor = cursor
		if o.checkpoint != nil {
			_ = o.checkpoint.Save(sync.ID, cursor)
		}

		if !page.HasMore {
			break
		}

		select {
		case <-heartbeat.C:
			_ = o.jobs.Update(ctx, job)
		default:
		}
	}

	close(entityCh)
	pipelineErr := <-pipelineErrCh

	inserted, updated, deleted, kept, skipped := deps.Pipeline.Counters().Snapshot()
	job.AddCounters(inserted, updated, deleted, kept, skipped)
	_ = o.jobs.Update(ctx, job)

	if loopErr != nil {
		return loopErr
	}
	return pipelineErr
}

func (o *Orchestrator) touch(jobID string) {
	o.mu.Lock()
	o.lastSeen[jobID] = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) fail(ctx context.Context, job *entity.SyncJob, err error) (*entity.SyncJob, error) {
	job.ErrorMessage = err.Error()
	if terr := job.Transition(entity.JobFailed); terr != nil {
		// already terminal or illegal edge; record what we can
		job.Status = entity.JobFailed
	}
	_ = o.jobs.Update(ctx, job)
	return job, err
}

// finishCancelled moves job through its remaining legal edge(s) into
// CANCELLED. job is RunJob's own in-process instance (the only one that
// tracks the true state machine — JobStore copies are a persisted mirror),
// so Running -> Cancelling -> Cancelled is always a legal sequence here.
func (o *Orchestrator) finishCancelled(ctx context.Context, job *entity.SyncJob) (*entity.SyncJob, error) {
	if job.Status == entity.JobRunning {
		_ = job.Transition(entity.JobCancelling)
	}
	if err := job.Transition(entity.JobCancelled); err != nil {
		job.Status = entity.JobCancelled
	}
	_ = o.jobs.Update(ctx, job)
	return job, nil
}

// Cancel requests cooperative cancellation of a running job (spec.md
// §4.14/§5: "drain stops new work, cancel stops this work"). The in-flight
// entity finishes; no new entities are consumed afterward. The job's own
// RunJob goroutine observes runCtx cancellation and drives the CANCELLING ->
// CANCELLED transition itself; Cancel only signals it.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: job %s is not running on this process", jobID)
	}
	cancel()
	return nil
}

// CleanupStuckJobs force-cancels jobs stuck in CANCELLING/PENDING beyond
// stuckCancellingOrPendingAfter, and RUNNING jobs with no entity progress
// beyond stuckRunningNoProgressAfter (spec.md §4.14's periodic cleanup job).
func (o *Orchestrator) CleanupStuckJobs(ctx context.Context) (cleaned int, err error) {
	stuck, err := o.jobs.ListStuck(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for _, job := range stuck {
		var stale bool
		switch job.Status {
		case entity.JobPending:
			stale = now.Sub(job.CreatedAt) > stuckCancellingOrPendingAfter
		case entity.JobCancelling:
			stale = job.StartedAt == nil || now.Sub(*job.StartedAt) > stuckCancellingOrPendingAfter
		case entity.JobRunning:
			o.mu.Lock()
			last, tracked := o.lastSeen[job.ID]
			o.mu.Unlock()
			stale = !tracked || now.Sub(last) > stuckRunningNoProgressAfter
		}
		if !stale {
			continue
		}

		job.ErrorMessage = "force-cancelled by cleanup job: no progress"
		target := entity.JobFailed
		if job.Status == entity.JobCancelling {
			target = entity.JobCancelled
		}
		if err := job.Transition(target); err != nil {
			job.Status = target
		}
		if err := o.jobs.Update(ctx, job); err != nil {
			log.Printf("orchestrator: cleanup failed to update job %s: %v", job.ID, err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}
