package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/ariefcatur/quickbuy/internal/logger"
)

const (
	HeaderDeadLetterError     = "x-dead-letter-error"
	HeaderDeadLetterTopic     = "x-dead-letter-topic"
	HeaderDeadLetterPartition = "x-dead-letter-partition"
	HeaderDeadLetterOffset    = "x-dead-letter-offset"

	defaultMaxAttempts = 5
	defaultRetryBase   = 200 * time.Millisecond
	defaultRetryCap    = 10 * time.Second
)

// Handler must return nil only when the message may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetter receives messages whose handler kept failing.
type DeadLetter interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Consumer fans messages out to workers by partition, so each partition is
// handled and committed strictly in offset order. A failing message blocks
// its partition until it succeeds, goes to the dead-letter topic, or the
// consumer stops; it is never committed over.
type Consumer struct {
	r           messageReader
	workers     int
	log         *logger.Logger
	dlq         DeadLetter
	maxAttempts uint64
	retryBase   time.Duration
	retryCap    time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit manually after the handler succeeds
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *logger.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		r:           r,
		workers:     workers,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
	}
}

// WithDeadLetter parks messages that still fail after maxAttempts in dlq and
// moves on. Without a dead-letter topic a failing message is retried until
// it succeeds or the consumer stops.
func (c *Consumer) WithDeadLetter(dlq DeadLetter, maxAttempts int) *Consumer {
	c.dlq = dlq
	if maxAttempts > 0 {
		c.maxAttempts = uint64(maxAttempts)
	}
	return c
}

// Start blocks until ctx is cancelled or the consumer cannot go on. A
// cancelled ctx is a clean shutdown and returns nil.
func (c *Consumer) Start(parent context.Context, h Handler) error {
	defer c.r.Close()
	ctx, stop := context.WithCancelCause(parent)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 2)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if err := c.handle(ctx, h, m); err != nil {
					stop(err)
					// drain so the fetch loop never blocks on this lane
					for range jobs {
					}
					return
				}
			}
		}(lanes[i])
	}
	defer wg.Wait()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()
	defer stop(nil)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.stopErr(parent, ctx)
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return c.stopErr(parent, ctx)
		}
	}
}

func (c *Consumer) stopErr(parent, ctx context.Context) error {
	if parent.Err() != nil {
		return nil
	}
	return context.Cause(ctx)
}

// handle settles m: handled and committed, or parked in the dead-letter
// topic and committed. It returns an error when m was left unsettled.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	lctx := c.log.WithFields(ctx, map[string]any{
		"topic":     m.Topic,
		"partition": m.Partition,
		"offset":    m.Offset,
	})

	var attempt uint64
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		if err := h(ctx, m); err != nil {
			c.log.Warn(c.log.WithFields(lctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			}), "kafka.handler.retry")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Error(lctx, "kafka.handler.failed", err)
		if err := c.deadLetter(ctx, m, err); err != nil {
			c.log.Error(lctx, "kafka.dead_letter.failed", err)
			return fmt.Errorf("partition %d offset %d: %w", m.Partition, m.Offset, err)
		}
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Error(lctx, "kafka.commit.failed", err)
	}
	return nil
}

func (c *Consumer) backoff() retry.Backoff {
	b := retry.WithCappedDuration(c.retryCap, retry.NewExponential(c.retryBase))
	if c.dlq != nil {
		// the first call is not a retry
		b = retry.WithMaxRetries(c.maxAttempts-1, b)
	}
	return b
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, cause error) error {
	if c.dlq == nil {
		return fmt.Errorf("no dead-letter topic: %w", cause)
	}
	headers := append([]kafka.Header(nil), m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDeadLetterError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderDeadLetterTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: HeaderDeadLetterPartition, Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: HeaderDeadLetterOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
	)
	return c.dlq.Publish(ctx, m.Key, m.Value, headers...)
}
