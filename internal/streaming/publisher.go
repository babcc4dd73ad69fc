package streaming

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openlibris/catalog-storage/internal/bus"
	"github.com/openlibris/catalog-storage/pkg/metrics"
	"go.uber.org/zap"
)

// Options configures one publishing run.
type Options struct {
	Topic string

	// Key derives the message key from a row. Defaults to the row id.
	Key func(Row) []byte

	// Value derives the message body from a row. Defaults to the raw
	// document.
	Value func(Row) ([]byte, error)

	// OnFailure is invoked for every row whose send was not confirmed.
	// Failures do not stop the run. Defaults to logging the row id.
	OnFailure func(Row, error)

	// Progress is invoked after every row with the current confirmed count.
	// Returning an error stops the run and surfaces that error unchanged,
	// so callers can tag cancellation distinctly from transport faults.
	Progress func(published int64) error
}

// Publisher drains a cursor and republishes every row as one message on a
// bus topic, throttled by the producer's outbound buffer.
type Publisher struct {
	producer bus.Producer
	log      *zap.SugaredLogger
}

func NewPublisher(producer bus.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      zap.S().Named("record_publisher"),
	}
}

// Publish pushes every row from the cursor onto the configured topic.
// It returns the number of confirmed sends. A non-nil error means the run
// stopped early: cursor failure, unrecoverable submit failure, context
// cancellation, or a Progress veto. Individual send failures are routed to
// OnFailure and do not stop the run.
func (p *Publisher) Publish(ctx context.Context, cur Cursor, opts Options) (int64, error) {
	keyOf := opts.Key
	if keyOf == nil {
		keyOf = func(r Row) []byte { return []byte(r.ID) }
	}
	valueOf := opts.Value
	if valueOf == nil {
		valueOf = func(r Row) ([]byte, error) { return r.Document, nil }
	}
	onFailure := opts.OnFailure
	if onFailure == nil {
		onFailure = func(r Row, err error) {
			p.log.Errorw("record not published", "id", r.ID, "topic", opts.Topic, "error", err)
		}
	}

	var published atomic.Int64
	var confirms sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			cur.Pause()
			confirms.Wait()
			return published.Load(), ctx.Err()

		case row, ok := <-cur.Rows():
			if !ok {
				confirms.Wait()
				if err := cur.Err(); err != nil {
					return published.Load(), fmt.Errorf("cursor: %w", err)
				}
				return published.Load(), nil
			}

			value, err := valueOf(row)
			if err != nil {
				onFailure(row, err)
				metrics.IncreasePublishFailures(opts.Topic)
			} else {
				msg := &bus.Message{Topic: opts.Topic, Key: keyOf(row), Value: value}
				confirms.Add(1)
				sendErr := p.producer.Send(msg, func(confirmErr error) {
					if confirmErr != nil {
						onFailure(row, confirmErr)
						metrics.IncreasePublishFailures(opts.Topic)
					} else {
						published.Add(1)
						metrics.IncreaseRecordsPublished(opts.Topic)
					}
					confirms.Done()
				})
				if sendErr != nil {
					confirms.Done()
					cur.Pause()
					confirms.Wait()
					return published.Load(), fmt.Errorf("submitting record %s: %w", row.ID, sendErr)
				}
			}

			if p.producer.BufferFull() {
				cur.Pause()
				drained := make(chan struct{})
				p.producer.OnDrain(func() { close(drained) })
				select {
				case <-drained:
					cur.Resume()
				case <-ctx.Done():
					confirms.Wait()
					return published.Load(), ctx.Err()
				}
			}

			if opts.Progress != nil {
				if err := opts.Progress(published.Load()); err != nil {
					cur.Pause()
					confirms.Wait()
					return published.Load(), err
				}
			}
		}
	}
}
