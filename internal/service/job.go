package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/openlibris/catalog-storage/internal/jobs"
	"github.com/openlibris/catalog-storage/internal/store"
	"github.com/openlibris/catalog-storage/internal/store/model"
)

// JobService is the external surface of the job subsystem: submit a job,
// query its progress, request its cancellation. Cancellation only flips the
// persisted flag; the running job observes it at its own cadence.
type JobService struct {
	store  store.Store
	runner *jobs.Runner
}

func NewJobService(s store.Store, runner *jobs.Runner) *JobService {
	return &JobService{store: s, runner: runner}
}

func (s *JobService) Submit(ctx context.Context, kind string, params jobs.Params) (*model.Job, error) {
	k, err := jobs.ParseKind(kind)
	if err != nil {
		return nil, NewErrInvalidRequest(err.Error())
	}

	job, err := s.runner.Submit(ctx, k, params)
	if err != nil {
		return nil, NewErrInvalidRequest(err.Error())
	}
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context) (model.JobList, error) {
	return s.store.Job().List(ctx)
}

func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().RequestCancellation(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return nil, NewErrJobNotFound(id)
		case errors.Is(err, store.ErrInvalidTransition):
			return nil, NewErrJobNotCancellable(id)
		}
		return nil, err
	}
	return job, nil
}
