package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openlibris/catalog-storage/internal/bus"
)

var _ = Describe("publisher", Ordered, func() {
	Context("publish", func() {
		It("publishes every row and reports the confirmed count", func() {
			cur := newTestCursor(testRows(4)...)
			producer := &testProducer{}

			count, err := NewPublisher(producer).Publish(context.TODO(), cur, Options{Topic: "topic1"})
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(4)))

			sent := producer.Sent()
			Expect(sent).To(HaveLen(4))
			Expect(sent[0].Topic).To(Equal("topic1"))
			Expect(sent[0].Key).To(Equal([]byte("id-1")))
			Expect(string(sent[0].Value)).To(Equal(`{"n":1}`))
			Expect(sent[3].Key).To(Equal([]byte("id-4")))
		})

		It("pauses the cursor when the buffer fills and resumes once drained", func() {
			cur := newTestCursor(testRows(6)...)
			producer := &testProducer{fullAfter: map[int]bool{3: true, 5: true}}

			count, err := NewPublisher(producer).Publish(context.TODO(), cur, Options{Topic: "topic1"})
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(6)))

			Expect(cur.pauses.Load()).To(Equal(int32(2)))
			Expect(cur.resumes.Load()).To(Equal(int32(2)))
			Expect(producer.Drains()).To(Equal(2))
		})

		It("routes send failures to the failure callback without stopping", func() {
			cur := newTestCursor(testRows(4)...)
			producer := &testProducer{
				confirmErr: func(n int) error {
					if n == 2 || n == 4 {
						return errors.New("broker rejected")
					}
					return nil
				},
			}

			var failedMu sync.Mutex
			failed := []string{}
			count, err := NewPublisher(producer).Publish(context.TODO(), cur, Options{
				Topic: "topic1",
				OnFailure: func(row Row, err error) {
					failedMu.Lock()
					failed = append(failed, row.ID)
					failedMu.Unlock()
				},
			})
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))
			Expect(failed).To(ConsistOf("id-2", "id-4"))
		})

		It("stops on a progress veto and surfaces the error unchanged", func() {
			stop := errors.New("stop now")
			cur := newTestCursor(testRows(6)...)
			producer := &testProducer{}

			count, err := NewPublisher(producer).Publish(context.TODO(), cur, Options{
				Topic: "topic1",
				Progress: func(published int64) error {
					if published >= 4 {
						return stop
					}
					return nil
				},
			})
			Expect(err).To(Equal(stop))
			Expect(count).To(Equal(int64(4)))

			// the run was abandoned, the cursor stays suspended
			Expect(cur.pauses.Load()).To(Equal(int32(1)))
			Expect(cur.resumes.Load()).To(Equal(int32(0)))
		})

		It("stops when a message cannot be submitted at all", func() {
			cur := newTestCursor(testRows(5)...)
			producer := &testProducer{submitErrAt: 3}

			count, err := NewPublisher(producer).Publish(context.TODO(), cur, Options{Topic: "topic1"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("submitting record id-3"))
			Expect(count).To(Equal(int64(2)))
		})

		It("surfaces a cursor failure after the stream ends", func() {
			cur := newTestCursor(testRows(2)...)
			cur.err = errors.New("connection reset")

			count, err := NewPublisher(&testProducer{}).Publish(context.TODO(), cur, Options{Topic: "topic1"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cursor"))
			Expect(count).To(Equal(int64(2)))
		})

		It("returns the context error when canceled mid-stream", func() {
			ctx, cancel := context.WithCancel(context.TODO())
			cur := &testCursor{out: make(chan Row)} // never delivers
			cancel()

			_, err := NewPublisher(&testProducer{}).Publish(ctx, cur, Options{Topic: "topic1"})
			Expect(err).To(Equal(context.Canceled))
		})
	})
})

func testRows(n int) []Row {
	rows := make([]Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, Row{
			ID:       fmt.Sprintf("id-%d", i),
			Document: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	return rows
}

type testCursor struct {
	out     chan Row
	err     error
	pauses  atomic.Int32
	resumes atomic.Int32
}

func newTestCursor(rows ...Row) *testCursor {
	c := &testCursor{out: make(chan Row)}
	go func() {
		defer close(c.out)
		for _, r := range rows {
			c.out <- r
		}
	}()
	return c
}

func (c *testCursor) Rows() <-chan Row { return c.out }
func (c *testCursor) Err() error       { return c.err }
func (c *testCursor) Pause()           { c.pauses.Add(1) }
func (c *testCursor) Resume()          { c.resumes.Add(1) }
func (c *testCursor) Close() error     { return nil }

// testProducer confirms every send synchronously. A send index listed in
// fullAfter makes the buffer report full until the next OnDrain registration.
type testProducer struct {
	confirmErr  func(n int) error
	submitErrAt int
	fullAfter   map[int]bool

	mu     sync.Mutex
	sent   []*bus.Message
	full   bool
	drains int
}

func (p *testProducer) Send(msg *bus.Message, confirm func(error)) error {
	p.mu.Lock()
	n := len(p.sent) + 1
	if p.submitErrAt != 0 && n >= p.submitErrAt {
		p.mu.Unlock()
		return errors.New("producer queue closed")
	}
	p.sent = append(p.sent, msg)
	if p.fullAfter[n] {
		p.full = true
	}
	var err error
	if p.confirmErr != nil {
		err = p.confirmErr(n)
	}
	p.mu.Unlock()

	confirm(err)
	return nil
}

func (p *testProducer) BufferFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.full
}

func (p *testProducer) OnDrain(fn func()) {
	p.mu.Lock()
	p.full = false
	p.drains++
	p.mu.Unlock()
	fn()
}

func (p *testProducer) Close() error { return nil }

func (p *testProducer) Sent() []*bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*bus.Message{}, p.sent...)
}

func (p *testProducer) Drains() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drains
}
