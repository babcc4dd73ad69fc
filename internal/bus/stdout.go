package bus

import (
	"go.uber.org/zap"
)

// StdoutProducer is the producer used in dev mode when no brokers are
// configured. Every message is confirmed immediately.
type StdoutProducer struct{}

func (s *StdoutProducer) Send(msg *Message, confirm func(error)) error {
	zap.S().Named("stdout_producer").Infow("message sent", "topic", msg.Topic, "key", string(msg.Key), "bytes", len(msg.Value))
	if confirm != nil {
		confirm(nil)
	}
	return nil
}

func (s *StdoutProducer) BufferFull() bool {
	return false
}

func (s *StdoutProducer) OnDrain(fn func()) {
	fn()
}

func (s *StdoutProducer) Close() error {
	return nil
}
