package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/quickbuy/internal/logger"
)

var ErrProducerClosed = errors.New("kafka producer closed")

const flushTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in an inbox and writes them from one goroutine,
// so request handlers never wait on the broker.
type Producer struct {
	w       messageWriter
	topic   string
	inbox   chan kafka.Message
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
	log     *logger.Logger

	// mu orders Publish against shutdown: a message is only accepted while
	// closed is false, and closed flips before quit is closed.
	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, log *logger.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, topic, buf, log)
}

func newProducer(w messageWriter, topic string, buf int, log *logger.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Producer{
		w:     w,
		topic: topic,
		inbox: make(chan kafka.Message, buf),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.loop(ctx)
}

func (p *Producer) loop(ctx context.Context) {
	defer close(p.done)
	cancelled := ctx.Done()
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		case <-cancelled:
			cancelled = nil
			// keep draining while stop waits out in-flight Publish calls
			go p.stop()
		case <-p.quit:
			p.flush()
			return
		}
	}
}

func (p *Producer) stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.quit)
		p.mu.Unlock()
	})
}

// flush drains whatever is still buffered, then closes the writer.
func (p *Producer) flush() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Error(context.Background(), "kafka.writer.close", err)
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		lctx := p.log.WithFields(ctx, map[string]any{"topic": p.topic, "key": string(m.Key)})
		p.log.Error(lctx, "kafka.publish.failed", err)
	}
}

// Publish queues a message. A nil error means the message will be written
// before Close returns.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	m := kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and waits until the buffer is flushed.
func (p *Producer) Close() {
	p.stop()
	if p.started.Load() {
		<-p.done
	}
}
