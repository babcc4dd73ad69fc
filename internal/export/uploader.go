package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openlibris/catalog-storage/internal/streaming"
	"github.com/openlibris/catalog-storage/internal/taskpool"
	"github.com/openlibris/catalog-storage/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultPartSize is the multipart rotation threshold: 5 MiB, the minimum
// part size most object stores accept.
const DefaultPartSize int64 = 5 << 20

const abortTimeout = 30 * time.Second

// UploadContext is the ephemeral state of one multipart upload. It is owned
// exclusively by the export that created it. The invariant
// len(Parts) == PartNumber-1 holds at every observation point.
type UploadContext struct {
	ObjectKey  string
	UploadID   string
	PartNumber int
	Parts      []CompletedPart

	file *os.File
	size int64
}

func (uc *UploadContext) openBuffer(dir string) error {
	f, err := os.CreateTemp(dir, "export-*.part")
	if err != nil {
		return fmt.Errorf("creating part buffer: %w", err)
	}
	uc.file = f
	uc.size = 0
	return nil
}

// writeLine appends one JSON document plus the line delimiter to the active
// buffer and returns the number of bytes written.
func (uc *UploadContext) writeLine(doc []byte) (int64, error) {
	n, err := uc.file.Write(doc)
	if err != nil {
		return int64(n), err
	}
	m, err := uc.file.Write([]byte{'\n'})
	written := int64(n + m)
	uc.size += written
	return written, err
}

// rotate closes the active buffer and hands its path and size to the caller.
// A fresh buffer is not opened here; the caller decides whether another part
// follows.
func (uc *UploadContext) rotate() (string, int64, error) {
	f := uc.file
	uc.file = nil
	size := uc.size
	uc.size = 0

	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", 0, fmt.Errorf("closing part buffer: %w", err)
	}
	return name, size, nil
}

func (uc *UploadContext) removeBuffer(log *zap.SugaredLogger) {
	if uc.file == nil {
		return
	}
	name := uc.file.Name()
	_ = uc.file.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		log.Warnw("failed to remove part buffer", "path", name, "error", err)
	}
	uc.file = nil
	uc.size = 0
}

// UploadResult describes one export object. On failure only Records is
// meaningful.
type UploadResult struct {
	Key     string
	Records int64
	Bytes   int64
	Parts   int
}

// Uploader materializes a cursor's rows as one NDJSON object via multipart
// upload, bounding memory by rotating to a new part once the active buffer
// reaches the configured threshold. Part uploads run on the shared task
// pool; the cursor stays paused until the in-flight part confirms, so at
// most one part is ever uploading per export.
type Uploader struct {
	store    ObjectStore
	pool     *taskpool.Pool
	partSize int64
	tmpDir   string
	log      *zap.SugaredLogger
}

func NewUploader(store ObjectStore, pool *taskpool.Pool, partSize int64, tmpDir string) *Uploader {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &Uploader{
		store:    store,
		pool:     pool,
		partSize: partSize,
		tmpDir:   tmpDir,
		log:      zap.S().Named("export_uploader"),
	}
}

// Upload drains the cursor into the object at key. A zero-row stream still
// produces a readable empty object, never a dangling multipart upload. On
// any failure after initiation the upload is aborted best-effort and the
// local buffer removed before the error is returned; a failure to initiate
// fails immediately with nothing to abort. The result reports the rows
// consumed so far even when the upload fails, so callers never observe the
// count going backwards.
func (u *Uploader) Upload(ctx context.Context, cur streaming.Cursor, key string, progress func(rows int64) error) (UploadResult, error) {
	uploadID, err := u.store.InitiateMultipartUpload(ctx, key)
	if err != nil {
		return UploadResult{}, err
	}

	uc := &UploadContext{ObjectKey: key, UploadID: uploadID, PartNumber: 1}
	if err := uc.openBuffer(u.tmpDir); err != nil {
		u.abort(uc)
		return UploadResult{}, err
	}
	defer uc.removeBuffer(u.log)

	var records, totalBytes int64
	for {
		select {
		case <-ctx.Done():
			u.abort(uc)
			return UploadResult{Records: records}, ctx.Err()

		case row, ok := <-cur.Rows():
			if !ok {
				if err := cur.Err(); err != nil {
					u.abort(uc)
					return UploadResult{Records: records}, fmt.Errorf("cursor: %w", err)
				}
				return u.finish(ctx, uc, records, totalBytes)
			}

			cur.Pause()
			n, err := uc.writeLine(row.Document)
			if err != nil {
				u.abort(uc)
				return UploadResult{Records: records}, fmt.Errorf("buffering record %s: %w", row.ID, err)
			}
			records++
			totalBytes += n

			if uc.size >= u.partSize {
				if err := u.flushPart(ctx, uc, true); err != nil {
					u.abort(uc)
					return UploadResult{Records: records}, err
				}
			}
			cur.Resume()

			if progress != nil {
				if err := progress(records); err != nil {
					cur.Pause()
					u.abort(uc)
					return UploadResult{Records: records}, err
				}
			}
		}
	}
}

func (u *Uploader) finish(ctx context.Context, uc *UploadContext, records, totalBytes int64) (UploadResult, error) {
	if records == 0 {
		// abort before writing the empty object; the upload is never
		// completed with zero parts
		u.abort(uc)
		if err := u.store.PutObject(ctx, uc.ObjectKey, bytes.NewReader(nil), 0); err != nil {
			return UploadResult{}, err
		}
		return UploadResult{Key: uc.ObjectKey}, nil
	}

	if uc.size > 0 {
		if err := u.flushPart(ctx, uc, false); err != nil {
			u.abort(uc)
			return UploadResult{Records: records}, err
		}
	}

	if err := u.store.CompleteMultipartUpload(ctx, uc.ObjectKey, uc.UploadID, uc.Parts); err != nil {
		u.abort(uc)
		return UploadResult{Records: records}, err
	}

	return UploadResult{
		Key:     uc.ObjectKey,
		Records: records,
		Bytes:   totalBytes,
		Parts:   len(uc.Parts),
	}, nil
}

// flushPart uploads the active buffer as the next part on the task pool and
// waits for it to confirm before returning, keeping the cursor suspended for
// the duration.
func (u *Uploader) flushPart(ctx context.Context, uc *UploadContext, reopen bool) error {
	path, size, err := uc.rotate()
	if err != nil {
		return err
	}

	partNumber := uc.PartNumber
	key, uploadID := uc.ObjectKey, uc.UploadID

	var part CompletedPart
	result := u.pool.Submit(ctx, func() error {
		defer os.Remove(path)
		var uploadErr error
		part, uploadErr = u.store.UploadPart(ctx, key, uploadID, partNumber, path, size)
		return uploadErr
	})
	if err := <-result; err != nil {
		return fmt.Errorf("uploading part %d: %w", partNumber, err)
	}

	uc.Parts = append(uc.Parts, part)
	uc.PartNumber++
	metrics.IncreaseExportParts()

	if reopen {
		return uc.openBuffer(u.tmpDir)
	}
	return nil
}

// abort tears the upload down best-effort: abort failures are logged, never
// escalated, and never mask the error that got us here.
func (u *Uploader) abort(uc *UploadContext) {
	actx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	if err := u.store.AbortMultipartUpload(actx, uc.ObjectKey, uc.UploadID); err != nil {
		u.log.Errorw("failed to abort multipart upload", "key", uc.ObjectKey, "upload_id", uc.UploadID, "error", err)
	}
	uc.removeBuffer(u.log)
}
