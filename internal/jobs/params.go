package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/openlibris/catalog-storage/internal/streaming"
)

// Kind names the work a job performs.
type Kind string

const (
	// KindReindex republishes every record of a range as reindex events.
	KindReindex Kind = "reindex"
	// KindIteration republishes every record of a range as domain events.
	KindIteration Kind = "iteration"
	// KindExport materializes a range as one NDJSON object in storage.
	KindExport Kind = "export"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindReindex, KindIteration, KindExport:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// Params is the kind-specific configuration persisted with the job record.
type Params struct {
	Tenant     string `json:"tenant"`
	RecordType string `json:"record_type"`

	// Topic overrides the derived record topic, for reindex and iteration
	// jobs.
	Topic     string `json:"topic,omitempty"`
	EventType string `json:"event_type,omitempty"`

	// Record range. Blank bounds are open.
	FromID string `json:"from_id,omitempty"`
	ToID   string `json:"to_id,omitempty"`

	// TraceID groups the objects of one export run. Defaulted when blank.
	TraceID string `json:"trace_id,omitempty"`
}

func (p Params) Validate() error {
	if p.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if p.RecordType == "" {
		return fmt.Errorf("record type is required")
	}
	return nil
}

// recordEvent is the message body published for every streamed record.
type recordEvent struct {
	Type   string          `json:"type"`
	Tenant string          `json:"tenant"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

func recordEventValue(kind Kind, params Params) func(streaming.Row) ([]byte, error) {
	eventType := params.EventType
	if eventType == "" {
		if kind == KindReindex {
			eventType = "REINDEX"
		} else {
			eventType = "ITERATE"
		}
	}
	return func(row streaming.Row) ([]byte, error) {
		return json.Marshal(recordEvent{
			Type:   eventType,
			Tenant: params.Tenant,
			ID:     row.ID,
			Record: row.Document,
		})
	}
}
