package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultHandleAttempts is how often a message is handed to the handler
// before it is logged and skipped.
const DefaultHandleAttempts = 3

// Consumer reads a topic as part of a consumer group. Offsets are committed
// only after the handler has seen the message, so delivery is at least once.
type Consumer struct {
	reader   messageReader
	logger   *logrus.Logger
	attempts int
	backoff  time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, logger *logrus.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, logger)
}

func newConsumer(reader messageReader, logger *logrus.Logger) *Consumer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{
		reader:   reader,
		logger:   logger,
		attempts: DefaultHandleAttempts,
		backoff:  200 * time.Millisecond,
	}
}

// Consume blocks until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// kafka-go returns io.EOF once the reader is closed.
			if errors.Is(err, io.EOF) {
				return err
			}
			c.logger.WithError(err).Error("[Kafka] Error reading message")
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).WithFields(logrus.Fields{
				"key":       string(msg.Key),
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("[Kafka] Skipping message after repeated failures")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).Warn("[Kafka] Failed to commit offset")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = handler(ctx, msg.Key, msg.Value); err == nil {
			return nil
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
