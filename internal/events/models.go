package events

import "time"

// FileReadyNotification announces that one export object has been durably
// written and is ready for downstream consumption. It is produced exactly
// once per successful export and never retried with a different payload.
type FileReadyNotification struct {
	Tenant     string    `json:"tenant"`
	RecordType string    `json:"record_type"`
	TraceID    string    `json:"trace_id"`
	RangeID    string    `json:"range_id"`
	FromID     string    `json:"from_id,omitempty"`
	ToID       string    `json:"to_id,omitempty"`
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	Records    int64     `json:"records"`
	Bytes      int64     `json:"bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobStatusEvent reports a job reaching a terminal state.
type JobStatusEvent struct {
	JobID            string `json:"job_id"`
	Kind             string `json:"kind"`
	Status           string `json:"status"`
	RecordsPublished int64  `json:"records_published"`
}
