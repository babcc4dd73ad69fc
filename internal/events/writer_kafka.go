package events

import (
	"context"
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/openlibris/catalog-storage/internal/bus"
	"go.uber.org/zap"
)

// BusWriter publishes cloudevents through the shared bus producer. The event
// subject becomes the message key and the tenant extension travels as a
// header, so downstream consumers can route without decoding the body.
type BusWriter struct {
	producer bus.Producer
}

func NewBusWriter(producer bus.Producer) *BusWriter {
	return &BusWriter{producer: producer}
}

func (w *BusWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.ID(), err)
	}

	msg := &bus.Message{
		Topic: topic,
		Value: body,
	}
	if e.Subject() != "" {
		msg.Key = []byte(e.Subject())
	}
	if tenant, ok := e.Extensions()[tenantExtension].(string); ok {
		msg.Headers = map[string]string{tenantExtension: tenant}
	}

	eventID := e.ID()
	return w.producer.Send(msg, func(err error) {
		if err != nil {
			zap.S().Named("bus_writer").Errorw("event not delivered", "event_id", eventID, "topic", topic, "error", err)
		}
	})
}

func (w *BusWriter) Close(_ context.Context) error {
	// the bus producer is owned by the composition root
	return nil
}
