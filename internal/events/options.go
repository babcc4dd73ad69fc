package events

type ProducerOptions func(e *EventProducer)

func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		e.topic = topic
	}
}

type MessageOption func(m *message)

// WithSubject sets the event subject, which kafka-backed writers use as the
// message key.
func WithSubject(subject string) MessageOption {
	return func(m *message) {
		m.Subject = subject
	}
}

// WithTenant propagates the tenant as an event extension and message header.
func WithTenant(tenant string) MessageOption {
	return func(m *message) {
		m.Tenant = tenant
	}
}
