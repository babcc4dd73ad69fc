package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/openlibris/catalog-storage/internal/events"
	"github.com/openlibris/catalog-storage/internal/export"
	"github.com/openlibris/catalog-storage/internal/store"
	"github.com/openlibris/catalog-storage/internal/store/model"
	"github.com/openlibris/catalog-storage/internal/streaming"
	"github.com/openlibris/catalog-storage/internal/taskpool"
	"github.com/openlibris/catalog-storage/pkg/metrics"
	"go.uber.org/zap"
)

// ErrCanceled is returned from inside a pipeline when the job's persisted
// status was flipped to CANCELLATION_PENDING. It tags the stop as a
// cancellation so the record lands in CANCELLED rather than FAILED.
var ErrCanceled = errors.New("job canceled")

const defaultCheckpointEvery int64 = 1000

// StatusSink receives job lifecycle events. Satisfied by
// events.EventProducer; may be nil.
type StatusSink interface {
	Write(ctx context.Context, kind string, body io.Reader, opts ...events.MessageOption) error
}

type RunnerConfig struct {
	// RecordTopicPrefix derives record topics as
	// {prefix}.{tenant}.{recordType} unless the job params name a topic.
	RecordTopicPrefix string

	// CheckpointEvery is the number of confirmed rows between progress
	// persists and cancellation checks.
	CheckpointEvery int64
}

// Runner owns the lifecycle of long-running background jobs. Each job runs
// as one task on the shared bounded pool, owns one exclusive read
// transaction for its whole lifetime, checkpoints progress periodically and
// polls the persisted status for cancellation.
type Runner struct {
	store     store.Store
	publisher *streaming.Publisher
	exporter  *export.Orchestrator
	pool      *taskpool.Pool
	sink      StatusSink
	cfg       RunnerConfig
	log       *zap.SugaredLogger
}

func NewRunner(s store.Store, publisher *streaming.Publisher, exporter *export.Orchestrator, pool *taskpool.Pool, sink StatusSink, cfg RunnerConfig) *Runner {
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	return &Runner{
		store:     s,
		publisher: publisher,
		exporter:  exporter,
		pool:      pool,
		sink:      sink,
		cfg:       cfg,
		log:       zap.S().Named("job_runner"),
	}
}

// Submit persists a new IN_PROGRESS job record and queues the work on the
// pool. It returns as soon as the record exists; the work itself waits for a
// free worker.
func (r *Runner) Submit(ctx context.Context, kind Kind, params Params) (*model.Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding job params: %w", err)
	}

	job, err := r.store.Job().Create(ctx, model.NewJob(string(kind), raw))
	if err != nil {
		return nil, err
	}
	metrics.IncreaseJobsSubmitted(string(kind))

	r.pool.Submit(context.Background(), func() error {
		r.run(job.ID, kind, params)
		return nil
	})

	return job, nil
}

// Wait blocks until all queued jobs have finished. Used on shutdown.
func (r *Runner) Wait() {
	r.pool.Wait()
}

func (r *Runner) run(jobID uuid.UUID, kind Kind, params Params) {
	ctx := context.Background()
	log := r.log.With("job_id", jobID, "kind", kind)

	// the cursor reads through the job's own transaction; job-record
	// updates go through the base context so an externally requested
	// cancellation stays visible
	txCtx, err := r.store.NewTransactionContext(ctx)
	if err != nil {
		r.finish(ctx, jobID, kind, 0, fmt.Errorf("opening transaction: %w", err))
		return
	}
	defer func() {
		if _, err := store.Rollback(txCtx); err != nil {
			log.Errorw("failed to release job transaction", "error", err)
		}
	}()

	progress := r.progressFunc(ctx, jobID)
	openCursor := func() (streaming.Cursor, error) {
		return r.store.Record().Cursor(txCtx, params.Tenant, params.RecordType, params.FromID, params.ToID)
	}

	var count int64
	var runErr error
	switch kind {
	case KindExport:
		if r.exporter == nil {
			r.finish(ctx, jobID, kind, 0, errors.New("object storage is not configured"))
			return
		}
		var res export.UploadResult
		res, runErr = r.exporter.Export(ctx, export.Request{
			Tenant:     params.Tenant,
			RecordType: params.RecordType,
			RangeID:    rangeID(params),
			FromID:     params.FromID,
			ToID:       params.ToID,
			TraceID:    params.TraceID,
		}, openCursor, progress)
		count = res.Records

	default:
		var cur streaming.Cursor
		cur, runErr = openCursor()
		if runErr != nil {
			runErr = fmt.Errorf("opening cursor: %w", runErr)
			break
		}
		defer cur.Close()

		count, runErr = r.publisher.Publish(ctx, cur, streaming.Options{
			Topic:    r.topicFor(params),
			Value:    recordEventValue(kind, params),
			Progress: progress,
			OnFailure: func(row streaming.Row, err error) {
				// keep the failed payload in the durable log; the pipeline
				// carries on
				log.Errorw("record not published", "id", row.ID, "payload", string(row.Document), "error", err)
			},
		})
	}

	r.finish(ctx, jobID, kind, count, runErr)
}

// progressFunc persists the confirmed count every CheckpointEvery rows and
// re-reads the job status. Cancellation latency is bounded by this cadence;
// there is no second live coordination channel.
func (r *Runner) progressFunc(ctx context.Context, jobID uuid.UUID) func(int64) error {
	var lastCheckpoint int64
	return func(published int64) error {
		if published-lastCheckpoint < r.cfg.CheckpointEvery {
			return nil
		}
		lastCheckpoint = published

		if err := r.store.Job().UpdateProgress(ctx, jobID, published); err != nil {
			return fmt.Errorf("persisting job progress: %w", err)
		}

		job, err := r.store.Job().Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("reading job status: %w", err)
		}
		if job.Status == model.JobStatusCancellationPending {
			return ErrCanceled
		}
		return nil
	}
}

func (r *Runner) finish(ctx context.Context, jobID uuid.UUID, kind Kind, count int64, runErr error) {
	log := r.log.With("job_id", jobID, "kind", kind)

	if err := r.store.Job().UpdateProgress(ctx, jobID, count); err != nil {
		log.Errorw("failed to persist final count", "error", err)
	}

	status := model.JobStatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrCanceled):
		status = model.JobStatusCancelled
	default:
		status = model.JobStatusFailed
	}

	if err := r.store.Job().UpdateStatus(ctx, jobID, status); err != nil {
		log.Errorw("failed to persist job status", "status", status, "error", err)
	}

	switch status {
	case model.JobStatusCompleted:
		log.Infow("job completed", "records_published", count)
	case model.JobStatusCancelled:
		log.Infow("job cancelled", "records_published", count)
	default:
		log.Errorw("job failed", "records_published", count, "error", runErr)
	}

	r.emitStatus(ctx, jobID, kind, status, count)
}

func (r *Runner) emitStatus(ctx context.Context, jobID uuid.UUID, kind Kind, status model.JobStatus, count int64) {
	if r.sink == nil {
		return
	}

	body, err := json.Marshal(events.JobStatusEvent{
		JobID:            jobID.String(),
		Kind:             string(kind),
		Status:           string(status),
		RecordsPublished: count,
	})
	if err != nil {
		return
	}
	if err := r.sink.Write(ctx, events.JobStatusMessageKind, bytes.NewReader(body), events.WithSubject(jobID.String())); err != nil {
		r.log.Errorw("failed to emit job status event", "job_id", jobID, "error", err)
	}
}

func (r *Runner) topicFor(params Params) string {
	if params.Topic != "" {
		return params.Topic
	}
	return fmt.Sprintf("%s.%s.%s", r.cfg.RecordTopicPrefix, params.Tenant, params.RecordType)
}

func rangeID(params Params) string {
	if params.FromID == "" && params.ToID == "" {
		return "all"
	}
	return fmt.Sprintf("%s-%s", params.FromID, params.ToID)
}
