package events

import (
	"context"
	"encoding/json"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openlibris/catalog-storage/internal/bus"
)

var _ = Describe("bus writer", Ordered, func() {
	newEvent := func() cloudevents.Event {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(eventSource)
		e.SetType(FileReadyMessageKind)
		e.SetSubject("a-m")
		e.SetExtension(tenantExtension, "tenant1")
		_ = e.SetData(*cloudevents.StringOfApplicationJSON(), []byte(`{"records":3}`))
		return e
	}

	Context("write", func() {
		It("maps the event onto a bus message", func() {
			producer := &recordingProducer{}
			w := NewBusWriter(producer)

			err := w.Write(context.TODO(), "topic1", newEvent())
			Expect(err).To(BeNil())

			Expect(producer.messages).To(HaveLen(1))
			msg := producer.messages[0]
			Expect(msg.Topic).To(Equal("topic1"))
			Expect(msg.Key).To(Equal([]byte("a-m")))
			Expect(msg.Headers).To(HaveKeyWithValue(tenantExtension, "tenant1"))

			var decoded cloudevents.Event
			Expect(json.Unmarshal(msg.Value, &decoded)).To(BeNil())
			Expect(decoded.Type()).To(Equal(FileReadyMessageKind))
		})

		It("leaves the key empty without a subject", func() {
			producer := &recordingProducer{}
			w := NewBusWriter(producer)

			e := newEvent()
			e.SetSubject("")
			err := w.Write(context.TODO(), "topic1", e)
			Expect(err).To(BeNil())
			Expect(producer.messages[0].Key).To(BeNil())
		})
	})
})

type recordingProducer struct {
	mu       sync.Mutex
	messages []*bus.Message
}

func (p *recordingProducer) Send(msg *bus.Message, confirm func(error)) error {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	if confirm != nil {
		confirm(nil)
	}
	return nil
}

func (p *recordingProducer) BufferFull() bool    { return false }
func (p *recordingProducer) OnDrain(fn func())   { fn() }
func (p *recordingProducer) Close() error        { return nil }
