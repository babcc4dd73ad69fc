package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/openlibris/catalog-storage/internal/events"
	"github.com/openlibris/catalog-storage/internal/streaming"
	"github.com/openlibris/catalog-storage/pkg/metrics"
	"go.uber.org/zap"
)

// Request describes one bulk export: which tenant and record range to
// materialize. A blank TraceID is defaulted to a generated identifier.
type Request struct {
	Tenant     string
	RecordType string
	RangeID    string
	FromID     string
	ToID       string
	TraceID    string
}

// CursorSelector opens the cursor for the requested record range. How the
// range maps onto a query is the caller's concern.
type CursorSelector func() (streaming.Cursor, error)

// NotificationSink is where completed exports are announced. Satisfied by
// events.EventProducer.
type NotificationSink interface {
	Write(ctx context.Context, kind string, body io.Reader, opts ...events.MessageOption) error
}

// Orchestrator coordinates one export request: it obtains the cursor, drives
// the uploader against a deterministically derived object key and, on
// success, publishes a file-ready notification. The notification goes out if
// and only if the export completed, including the zero-row case.
type Orchestrator struct {
	uploader *Uploader
	notifier NotificationSink
	bucket   string
	log      *zap.SugaredLogger
}

func NewOrchestrator(uploader *Uploader, notifier NotificationSink, bucket string) *Orchestrator {
	return &Orchestrator{
		uploader: uploader,
		notifier: notifier,
		bucket:   bucket,
		log:      zap.S().Named("export_orchestrator"),
	}
}

func (o *Orchestrator) Export(ctx context.Context, req Request, open CursorSelector, progress func(rows int64) error) (UploadResult, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	cur, err := open()
	if err != nil {
		metrics.IncreaseExports("failed")
		return UploadResult{}, fmt.Errorf("opening cursor: %w", err)
	}
	defer cur.Close()

	key := ObjectKey(req)
	res, err := o.uploader.Upload(ctx, cur, key, progress)
	if err != nil {
		metrics.IncreaseExports("failed")
		return res, err
	}

	if err := o.notify(ctx, req, res); err != nil {
		metrics.IncreaseExports("failed")
		return res, err
	}

	metrics.IncreaseExports("completed")
	o.log.Infow("export completed", "key", res.Key, "records", res.Records, "bytes", res.Bytes, "parts", res.Parts)
	return res, nil
}

// ObjectKey derives the storage key for an export request.
func ObjectKey(req Request) string {
	return fmt.Sprintf("%s/%s/%s/%s.ndjson", req.Tenant, req.RecordType, req.TraceID, req.RangeID)
}

func (o *Orchestrator) notify(ctx context.Context, req Request, res UploadResult) error {
	n := events.FileReadyNotification{
		Tenant:     req.Tenant,
		RecordType: req.RecordType,
		TraceID:    req.TraceID,
		RangeID:    req.RangeID,
		FromID:     req.FromID,
		ToID:       req.ToID,
		Bucket:     o.bucket,
		Key:        res.Key,
		Records:    res.Records,
		Bytes:      res.Bytes,
		CreatedAt:  time.Now().UTC(),
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding file-ready notification: %w", err)
	}

	if err := o.notifier.Write(ctx, events.FileReadyMessageKind, bytes.NewReader(body),
		events.WithSubject(req.RangeID), events.WithTenant(req.Tenant)); err != nil {
		return fmt.Errorf("publishing file-ready notification: %w", err)
	}
	return nil
}
