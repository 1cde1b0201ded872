package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"airweave.dev/syncengine/entity"
)

// JobStore persists entity.SyncJob rows, mirroring the "sync_job" table
// named in spec.md §6. An in-memory implementation is provided for tests
// and single-process deployments; a production deployment would back this
// with the same relational store as token/gormstore.go and multiplex/store.go.
type JobStore interface {
	Create(ctx context.Context, job *entity.SyncJob) error
	Update(ctx context.Context, job *entity.SyncJob) error
	Get(ctx context.Context, jobID string) (*entity.SyncJob, error)
	// ListActiveForSync returns every job for syncID not yet in a terminal
	// status, used by the pre-flight uniqueness check (spec.md §4.14).
	ListActiveForSync(ctx context.Context, syncID string) ([]*entity.SyncJob, error)
	// ListStuck returns every non-terminal job across all syncs, for the
	// periodic cleanup job (spec.md §4.14).
	ListStuck(ctx context.Context) ([]*entity.SyncJob, error)
}

// InMemoryJobStore is a process-local JobStore.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*entity.SyncJob
}

// NewInMemoryJobStore builds an empty store.
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: map[string]*entity.SyncJob{}}
}

func (s *InMemoryJobStore) Create(ctx context.Context, job *entity.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("orchestrator: job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *InMemoryJobStore) Update(ctx context.Context, job *entity.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *InMemoryJobStore) Get(ctx context.Context, jobID string) (*entity.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *InMemoryJobStore) ListActiveForSync(ctx context.Context, syncID string) ([]*entity.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.SyncJob
	for _, job := range s.jobs {
		if job.SyncID == syncID && !job.Status.IsTerminal() {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryJobStore) ListStuck(ctx context.Context) ([]*entity.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.SyncJob
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}
