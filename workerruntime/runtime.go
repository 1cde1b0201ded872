package workerruntime

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"airweave.dev/syncengine/orchestrator"
)

// pollTimeout bounds each blocking Dequeue call so Drain can notice a
// stopped runtime promptly even with nothing in the queue (worker/pool.go
// uses the same "5s timeout" shape for its Dequeue calls).
const pollTimeout = 5 * time.Second

// Runtime is the C15 syncworker process shell: it polls a TaskQueue,
// dispatches each Task into the orchestrator, and exposes the health/drain/
// metrics/status control surface (spec.md §4.15).
type Runtime struct {
	id          string
	queue       TaskQueue
	orch        *orchestrator.Orchestrator
	lookupSync  orchestrator.SyncLookup
	metrics     *Metrics
	concurrency int

	mu       sync.Mutex
	draining bool
	active   int64
	started  time.Time
}

// Config configures a Runtime.
type Config struct {
	WorkerID     string
	Queue        TaskQueue
	Orchestrator *orchestrator.Orchestrator
	LookupSync   orchestrator.SyncLookup
	Concurrency  int    // number of concurrent poll loops; defaults to 4
	Namespace    string // metrics namespace; defaults to "syncengine"
}

// New builds a Runtime.
func New(cfg Config) *Runtime {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runtime{
		id:          cfg.WorkerID,
		queue:       cfg.Queue,
		orch:        cfg.Orchestrator,
		lookupSync:  cfg.LookupSync,
		metrics:     NewMetrics(cfg.Namespace),
		concurrency: cfg.Concurrency,
		started:     time.Now(),
	}
}

// Run starts concurrency poll loops and blocks until ctx is cancelled, at
// which point it stops accepting new tasks and waits for in-flight jobs to
// finish draining (spec.md §4.15: "SIGTERM / /drain must not cancel
// in-flight activities").
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pollLoop(ctx)
		}()
	}

	<-ctx.Done()
	r.Drain()
	wg.Wait()
	return nil
}

func (r *Runtime) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if r.isDraining() {
			return
		}

		task, err := r.queue.Dequeue(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("workerruntime: dequeue error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue // poll timeout, nothing available
		}

		r.runTask(context.WithoutCancel(ctx), *task)
	}
}

func (r *Runtime) runTask(ctx context.Context, task Task) {
	atomic.AddInt64(&r.active, 1)
	defer atomic.AddInt64(&r.active, -1)

	r.metrics.jobStarted(r.id, task.SourceShortName)
	start := time.Now()

	sync, err := r.lookupSync(ctx, task.SyncID)
	if err != nil {
		r.metrics.jobFinished(r.id, task.SourceShortName, "failed", time.Since(start))
		_ = r.queue.Nack(ctx, task, err)
		log.Printf("workerruntime: task %s: lookup sync %s: %v", task.JobID, task.SyncID, err)
		return
	}

	job, err := r.orch.RunJob(ctx, task.JobID, sync, task.ForceFullSync)
	status := "completed"
	if err != nil {
		status = "failed"
		if job != nil {
			status = string(job.Status)
		}
	} else if job != nil {
		status = string(job.Status)
	}
	r.metrics.jobFinished(r.id, task.SourceShortName, status, time.Since(start))

	if err != nil {
		_ = r.queue.Nack(ctx, task, err)
		log.Printf("workerruntime: task %s failed: %v", task.JobID, err)
		return
	}
	if ackErr := r.queue.Ack(ctx, task); ackErr != nil {
		log.Printf("workerruntime: task %s: ack failed: %v", task.JobID, ackErr)
	}
}

// Drain stops this runtime from picking up new tasks; in-flight jobs are
// left to finish on their own (spec.md §4.15).
func (r *Runtime) Drain() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
}

func (r *Runtime) isDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}
