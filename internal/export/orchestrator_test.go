package export

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openlibris/catalog-storage/internal/events"
	"github.com/openlibris/catalog-storage/internal/streaming"
	"github.com/openlibris/catalog-storage/internal/taskpool"
)

var _ = Describe("orchestrator", Ordered, func() {
	var (
		store    *testObjectStore
		writer   *captureWriter
		notifier *events.EventProducer
		orch     *Orchestrator
	)

	BeforeEach(func() {
		store = newTestObjectStore()
		writer = &captureWriter{}
		notifier = events.NewEventProducer(writer)

		uploader := NewUploader(store, taskpool.New(1), DefaultPartSize, GinkgoT().TempDir())
		orch = NewOrchestrator(uploader, notifier, "catalog-exports")
	})

	AfterEach(func() {
		_ = notifier.Close()
	})

	request := func() Request {
		return Request{
			Tenant:     "tenant1",
			RecordType: "instance",
			RangeID:    "a-m",
			FromID:     "a",
			ToID:       "m",
			TraceID:    "trace-1",
		}
	}

	Context("export", func() {
		It("uploads the range and announces the file", func() {
			open := func() (streaming.Cursor, error) {
				return newTestCursor(testRows(3)...), nil
			}

			res, err := orch.Export(context.TODO(), request(), open, nil)
			Expect(err).To(BeNil())
			Expect(res.Key).To(Equal("tenant1/instance/trace-1/a-m.ndjson"))
			Expect(res.Records).To(Equal(int64(3)))

			Eventually(writer.Events).Should(HaveLen(1))
			e := writer.Events()[0]
			Expect(e.Type()).To(Equal(events.FileReadyMessageKind))
			Expect(e.Subject()).To(Equal("a-m"))
			Expect(e.Extensions()["tenant"]).To(Equal("tenant1"))

			var n events.FileReadyNotification
			Expect(json.Unmarshal(e.Data(), &n)).To(BeNil())
			Expect(n.Bucket).To(Equal("catalog-exports"))
			Expect(n.Key).To(Equal("tenant1/instance/trace-1/a-m.ndjson"))
			Expect(n.Records).To(Equal(int64(3)))
			Expect(n.TraceID).To(Equal("trace-1"))
			Expect(n.FromID).To(Equal("a"))
			Expect(n.ToID).To(Equal("m"))
		})

		It("announces a zero row export as well", func() {
			open := func() (streaming.Cursor, error) {
				return newTestCursor(), nil
			}

			res, err := orch.Export(context.TODO(), request(), open, nil)
			Expect(err).To(BeNil())
			Expect(res.Records).To(Equal(int64(0)))

			Eventually(writer.Events).Should(HaveLen(1))
			var n events.FileReadyNotification
			Expect(json.Unmarshal(writer.Events()[0].Data(), &n)).To(BeNil())
			Expect(n.Records).To(Equal(int64(0)))
		})

		It("generates a trace id when the request has none", func() {
			open := func() (streaming.Cursor, error) {
				return newTestCursor(testRows(1)...), nil
			}

			req := request()
			req.TraceID = ""
			res, err := orch.Export(context.TODO(), req, open, nil)
			Expect(err).To(BeNil())

			Eventually(writer.Events).Should(HaveLen(1))
			var n events.FileReadyNotification
			Expect(json.Unmarshal(writer.Events()[0].Data(), &n)).To(BeNil())
			Expect(n.TraceID).ToNot(BeEmpty())
			Expect(res.Key).To(ContainSubstring(n.TraceID))
		})

		It("does nothing when the cursor cannot be opened", func() {
			open := func() (streaming.Cursor, error) {
				return nil, errors.New("range query failed")
			}

			_, err := orch.Export(context.TODO(), request(), open, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("opening cursor"))

			Expect(store.initiated).To(Equal(0))
			Consistently(writer.Events).Should(BeEmpty())
		})

		It("does not announce a failed export", func() {
			store.completeErr = errors.New("upload expired")
			open := func() (streaming.Cursor, error) {
				return newTestCursor(testRows(2)...), nil
			}

			_, err := orch.Export(context.TODO(), request(), open, nil)
			Expect(err).To(HaveOccurred())
			Consistently(writer.Events).Should(BeEmpty())
		})
	})
})

type captureWriter struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (w *captureWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *captureWriter) Close(_ context.Context) error { return nil }

func (w *captureWriter) Events() []cloudevents.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]cloudevents.Event{}, w.events...)
}
