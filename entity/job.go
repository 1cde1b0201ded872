package entity

import (
	"fmt"
	"time"
)

// JobStatus is the SyncJob state machine from spec §4.14:
// PENDING -> RUNNING -> {COMPLETED, FAILED, CANCELLED}
// RUNNING -> CANCELLING -> CANCELLED
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelling JobStatus = "cancelling"
	JobCancelled  JobStatus = "cancelled"
)

// validTransitions enumerates the only allowed JobStatus edges.
var validTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobRunning, JobCancelled},
	JobRunning:    {JobCompleted, JobFailed, JobCancelling, JobCancelled},
	JobCancelling: {JobCancelled, JobFailed},
}

// CanTransition reports whether moving from -> to is a legal SyncJob edge.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a JobStatus is a final state the orchestrator
// will never move out of.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// SyncJob is one execution of a Sync (spec §3).
type SyncJob struct {
	ID     string
	SyncID string
	Status JobStatus

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Counters accumulate across the whole job per spec §4.13/§4.14.
	EntitiesInserted int
	EntitiesUpdated  int
	EntitiesDeleted  int
	EntitiesKept     int
	EntitiesSkipped  int

	// ErrorMessage is set when Status == JobFailed.
	ErrorMessage string

	// Cursor is the position this job started from (copied from the Sync at
	// job creation) and the position it will checkpoint forward to as it runs.
	Cursor Cursor
}

// Transition moves the job to newStatus, returning an error if the edge is
// not in validTransitions. Callers hold the orchestrator's per-job lock
// (or a DB row lock) around this call; SyncJob itself is not concurrency-safe.
func (j *SyncJob) Transition(newStatus JobStatus) error {
	if !CanTransition(j.Status, newStatus) {
		return fmt.Errorf("sync job %s: illegal transition %s -> %s", j.ID, j.Status, newStatus)
	}
	j.Status = newStatus
	now := time.Now()
	switch newStatus {
	case JobRunning:
		j.StartedAt = &now
	case JobCompleted, JobFailed, JobCancelled:
		j.CompletedAt = &now
	}
	return nil
}

// RequestCancellation moves a running job into CANCELLING; a job that has
// not started yet is cancelled immediately since there is nothing to drain.
func (j *SyncJob) RequestCancellation() error {
	if j.Status == JobPending {
		return j.Transition(JobCancelled)
	}
	return j.Transition(JobCancelling)
}

// AddCounters accumulates one batch of entity-processing counters onto the job.
func (j *SyncJob) AddCounters(inserted, updated, deleted, kept, skipped int) {
	j.EntitiesInserted += inserted
	j.EntitiesUpdated += updated
	j.EntitiesDeleted += deleted
	j.EntitiesKept += kept
	j.EntitiesSkipped += skipped
}
