package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// HeaderEventType carries the event type so consumers can filter without
// decoding the payload.
const HeaderEventType = "event-type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes committed events to a topic. It satisfies
// store.Publisher.
type Producer struct {
	writer messageWriter
	logger *logrus.Logger
}

// NewProducer keys messages by aggregate id and hashes keys to partitions,
// so every stream stays ordered within one partition.
func NewProducer(brokers []string, topic string, logger *logrus.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(writer, logger)
}

func newProducer(writer messageWriter, logger *logrus.Logger) *Producer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Producer{writer: writer, logger: logger}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if e, ok := event.(store.Event); ok {
		msg.Headers = []kafka.Header{{Key: HeaderEventType, Value: []byte(e.EventType)}}
		msg.Time = e.Timestamp
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(data),
	}).Debug("[Kafka] Published event")
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

var _ store.Publisher = (*Producer)(nil)
