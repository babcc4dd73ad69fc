package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/openlibris/catalog-storage/internal/store/model"
	"gorm.io/gorm"
)

// Job persists the state machine of background jobs. Status updates are
// guarded so a record never leaves a terminal state.
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context) (model.JobList, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, recordsPublished int64) error
	UpdateStatus(ctx context.Context, id uuid.UUID, next model.JobStatus) error
	RequestCancellation(ctx context.Context, id uuid.UUID) (*model.Job, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if result := s.getDB(ctx).Create(&job); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context) (model.JobList, error) {
	var jobs model.JobList
	if result := s.getDB(ctx).Order("submitted_date DESC").Find(&jobs); result.Error != nil {
		return nil, fmt.Errorf("listing jobs: %w", result.Error)
	}
	return jobs, nil
}

func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, recordsPublished int64) error {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Update("records_published", recordsPublished)
	if result.Error != nil {
		return fmt.Errorf("updating job progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateStatus moves the job to next. The update is a single guarded write:
// it only matches rows whose current status legally precedes next, so a
// terminal record is never mutated.
func (s *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, next model.JobStatus) error {
	sources := model.TransitionSources(next)
	if len(sources) == 0 {
		return ErrInvalidTransition
	}

	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, sources).
		Update("status", next)
	if result.Error != nil {
		return fmt.Errorf("updating job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// RequestCancellation flips an IN_PROGRESS job to CANCELLATION_PENDING. The
// running job observes the flag at its own progress-check cadence.
func (s *JobStore) RequestCancellation(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusInProgress).
		Update("status", model.JobStatusCancellationPending)
	if result.Error != nil {
		return nil, fmt.Errorf("requesting job cancellation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// already pending or terminal
		if job.Status == model.JobStatusCancellationPending {
			return job, nil
		}
		return nil, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
