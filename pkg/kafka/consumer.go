package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/utafrali/LoyaltyGo/pkg/logger"
)

// defaultHandlerRetries is how many times a handler is attempted before the
// message is dead-lettered (or dropped when no DLQ is configured).
const defaultHandlerRetries = 3

// Handler is a function that processes a Kafka event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// MaxRetries overrides defaultHandlerRetries when > 0.
	MaxRetries int
	// RetryBackoff is the base delay between handler attempts, multiplied by
	// the attempt number. Defaults to 100ms.
	RetryBackoff time.Duration
	// DLQ receives messages that exhausted their retries. Optional.
	DLQ DeadLetterPublisher
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps the kafka-go reader for consuming events.
type Consumer struct {
	reader     messageReader
	topic      string
	group      string
	maxRetries int
	backoff    time.Duration
	dlq        DeadLetterPublisher
	logger     *slog.Logger
	handler    Handler
	closeOnce  sync.Once
}

// NewConsumer creates a new Kafka consumer for a specific topic and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	return newConsumer(r, cfg, handler, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	c := &Consumer{
		reader:     r,
		topic:      cfg.Topic,
		group:      cfg.GroupID,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		dlq:        cfg.DLQ,
		logger:     logger,
		handler:    handler,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultHandlerRetries
	}
	if c.backoff <= 0 {
		c.backoff = 100 * time.Millisecond
	}
	return c
}

// fetchErrorBackoff paces the loop while the brokers are unreachable.
const fetchErrorBackoff = time.Second

// permanentError marks a handler failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer dead-letters the message at once
// instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Start consumes until ctx is canceled, then closes the reader. Each
// message is committed once it was handled or dead-lettered.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.topic),
		slog.String("group", c.group),
	)
	defer c.logger.Info("consumer stopping", slog.String("topic", c.topic))

	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			if sleepErr := pause(ctx, fetchErrorBackoff); sleepErr != nil {
				break
			}
			continue
		}
		consumerFetched.WithLabelValues(msg.Topic, c.group).Inc()

		if err := c.process(ctx, msg); err != nil {
			// Canceled mid-retry; leave the offset for the next owner.
			break
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
	return c.Close()
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process handles one message. It returns an error only when ctx ended
// before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.deadLetter(ctx, msg, nil, fmt.Errorf("unmarshal event: %w", err))
		return nil
	}

	ctx = extractTraceContext(ctx, &msg)
	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}

	start := time.Now()
	err = c.handleWithRetry(ctx, msg, event)
	consumerHandleSeconds.WithLabelValues(msg.Topic, c.group).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		consumerMessages.WithLabelValues(msg.Topic, c.group, resultProcessed).Inc()
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		consumerMessages.WithLabelValues(msg.Topic, c.group, resultFailed).Inc()
		c.deadLetter(ctx, msg, event, err)
		return nil
	}
}

// handleWithRetry runs the handler up to maxRetries times with a linear
// backoff. Permanent errors end the loop at once.
func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message, event *Event) error {
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = c.handler(ctx, event); err == nil || IsPermanent(err) {
			return err
		}
		c.logger.WarnContext(ctx, "handler failed",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxRetries),
			slog.String("error", err.Error()),
		)
		if attempt == c.maxRetries {
			break
		}
		if perr := pause(ctx, time.Duration(attempt)*c.backoff); perr != nil {
			return perr
		}
	}
	return err
}

// deadLetter forwards msg to the DLQ. Without a DLQ the message is only
// logged and then committed. event is nil when msg could not be decoded.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, event *Event, cause error) {
	attrs := []any{
		slog.String("topic", msg.Topic),
		slog.Int64("offset", msg.Offset),
		slog.Bool("permanent", IsPermanent(cause)),
		slog.String("error", cause.Error()),
	}
	if event != nil {
		attrs = append(attrs, slog.String("event_type", event.EventType), slog.String("event_id", event.EventID))
	}
	c.logger.ErrorContext(ctx, "giving up on message", attrs...)

	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.ErrorContext(ctx, "failed to dead-letter message", slog.String("error", err.Error()))
		return
	}
	consumerMessages.WithLabelValues(msg.Topic, c.group, resultDeadLettered).Inc()
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}

// TopicPrefix is the standard prefix for all loyalty platform Kafka topics.
const TopicPrefix = "loyalty"

// Topic constructs a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
