package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the persisted lifecycle state of one background job.
// Transitions only move forward; once terminal the record is never mutated
// again.
type JobStatus string

const (
	JobStatusInProgress          JobStatus = "IN_PROGRESS"
	JobStatusCancellationPending JobStatus = "CANCELLATION_PENDING"
	JobStatusCancelled           JobStatus = "CANCELLED"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusFailed              JobStatus = "FAILED"
)

// Terminal reports whether s admits no further transition.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
// COMPLETED and FAILED are reachable from CANCELLATION_PENDING as well as
// IN_PROGRESS: a pipeline may finish before it observes the cancellation
// flag. CANCELLED is only reachable through CANCELLATION_PENDING.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusInProgress:
		return next == JobStatusCancellationPending || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusCancellationPending:
		return next == JobStatusCancelled || next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// TransitionSources returns the set of states from which next is reachable.
func TransitionSources(next JobStatus) []JobStatus {
	var sources []JobStatus
	for _, s := range []JobStatus{JobStatusInProgress, JobStatusCancellationPending} {
		if s.CanTransitionTo(next) {
			sources = append(sources, s)
		}
	}
	return sources
}

// Job is the persisted record of one long-running background task.
type Job struct {
	ID               uuid.UUID `gorm:"primaryKey;"`
	Kind             string    `gorm:"type:VARCHAR(32);not null"`
	Status           JobStatus `gorm:"type:VARCHAR(32);not null"`
	RecordsPublished int64     `gorm:"not null;default:0"`
	SubmittedDate    time.Time `gorm:"not null"`
	Params           []byte    `gorm:"type:jsonb"`
}

type JobList []Job

func NewJob(kind string, params []byte) Job {
	return Job{
		ID:            uuid.New(),
		Kind:          kind,
		Status:        JobStatusInProgress,
		SubmittedDate: time.Now().UTC(),
		Params:        params,
	}
}

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
