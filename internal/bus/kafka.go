package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaProducer wraps a sarama async producer behind the Producer interface.
// It tracks the number of in-flight messages itself so the streaming
// pipelines get a synchronous buffer-full signal to pause on.
type KafkaProducer struct {
	producer sarama.AsyncProducer

	maxInFlight int64
	drainBelow  int64
	inFlight    atomic.Int64

	mu       sync.Mutex
	drainFns []func()

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type KafkaConfig struct {
	Brokers     []string
	ClientID    string
	Version     string
	MaxInFlight int
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("parsing kafka version %q: %w", cfg.Version, err)
		}
		sc.Version = v
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return newKafkaProducer(producer, int64(cfg.MaxInFlight)), nil
}

func newKafkaProducer(producer sarama.AsyncProducer, maxInFlight int64) *KafkaProducer {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	drainBelow := maxInFlight / 2
	if drainBelow < 1 {
		drainBelow = 1
	}

	kp := &KafkaProducer{
		producer:    producer,
		maxInFlight: maxInFlight,
		drainBelow:  drainBelow,
		done:        make(chan struct{}),
	}

	kp.wg.Add(2)
	go kp.consumeSuccesses()
	go kp.consumeErrors()

	return kp
}

func (p *KafkaProducer) Send(msg *Message, confirm func(error)) error {
	pm := &sarama.ProducerMessage{
		Topic:    msg.Topic,
		Value:    sarama.ByteEncoder(msg.Value),
		Metadata: confirm,
	}
	if msg.Key != nil {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}
	for k, v := range msg.Headers {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	p.inFlight.Add(1)
	select {
	case p.producer.Input() <- pm:
		return nil
	case <-p.done:
		p.inFlight.Add(-1)
		return ErrProducerClosed
	}
}

func (p *KafkaProducer) BufferFull() bool {
	return p.inFlight.Load() >= p.maxInFlight
}

// OnDrain registers fn to run once the in-flight count falls below the drain
// threshold. If the producer already has capacity the callback fires
// immediately on the caller's goroutine.
func (p *KafkaProducer) OnDrain(fn func()) {
	p.mu.Lock()
	if p.inFlight.Load() < p.drainBelow {
		p.mu.Unlock()
		fn()
		return
	}
	p.drainFns = append(p.drainFns, fn)
	p.mu.Unlock()
}

func (p *KafkaProducer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// flushes pending messages, then closes the confirmation channels
		err = p.producer.Close()
		p.wg.Wait()
		zap.S().Named("kafka_producer").Info("kafka producer closed")
	})
	return err
}

func (p *KafkaProducer) consumeSuccesses() {
	defer p.wg.Done()
	for msg := range p.producer.Successes() {
		p.settle(msg, nil)
	}
}

func (p *KafkaProducer) consumeErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		zap.S().Named("kafka_producer").Errorw("failed to send message", "topic", perr.Msg.Topic, "error", perr.Err)
		p.settle(perr.Msg, perr.Err)
	}
}

func (p *KafkaProducer) settle(msg *sarama.ProducerMessage, err error) {
	remaining := p.inFlight.Add(-1)

	if remaining < p.drainBelow {
		p.mu.Lock()
		fns := p.drainFns
		p.drainFns = nil
		p.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}

	if confirm, ok := msg.Metadata.(func(error)); ok && confirm != nil {
		confirm(err)
	}
}
