package bus

import "errors"

var ErrProducerClosed = errors.New("producer is closed")

// Message is one record on its way to a bus topic.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer is the transport consumed by the streaming pipelines. Send is
// asynchronous: the confirm callback fires exactly once when the transport
// has either acknowledged or dropped the message. A Send error means the
// message was never submitted at all.
//
// BufferFull and OnDrain implement cooperative backpressure: when the
// outbound buffer is full the caller pauses its source and registers an
// OnDrain callback to resume. Implementations must be safe for use by
// concurrent jobs.
type Producer interface {
	Send(msg *Message, confirm func(error)) error
	BufferFull() bool
	OnDrain(fn func())
	Close() error
}
