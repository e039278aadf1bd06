package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AnyVersion appends to a stream regardless of its current version.
const AnyVersion = -1

var (
	ErrVersionConflict = errors.New("stream version conflict")
	ErrEmptyCommit     = errors.New("commit requires at least one event")
)

// Event represents a committed domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// MarshalJSON returns the JSON encoding of the event
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct{ Alias }{Alias: Alias(e)})
}

// PendingEvent is an event waiting to be committed.
// ExpectedVersion is the stream version the event must be appended after:
// 0 for a new stream, AnyVersion to skip the check.
type PendingEvent struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	ExpectedVersion int
	Data            any
}

// buildEvents assigns ids and versions to a batch. head returns the current
// version of a stream and is only called once per stream.
func buildEvents(pending []PendingEvent, head func(aggregateID string) (int, error), now time.Time) ([]Event, error) {
	if len(pending) == 0 {
		return nil, ErrEmptyCommit
	}

	versions := make(map[string]int)
	events := make([]Event, 0, len(pending))
	for _, p := range pending {
		current, seen := versions[p.AggregateID]
		if !seen {
			v, err := head(p.AggregateID)
			if err != nil {
				return nil, err
			}
			current = v
		}
		if p.ExpectedVersion != AnyVersion && p.ExpectedVersion != current {
			return nil, fmt.Errorf("%w: %s expected %d, at %d", ErrVersionConflict, p.AggregateID, p.ExpectedVersion, current)
		}

		data, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", p.EventType, err)
		}

		current++
		versions[p.AggregateID] = current
		events = append(events, Event{
			ID:            uuid.New().String(),
			AggregateID:   p.AggregateID,
			AggregateType: p.AggregateType,
			EventType:     p.EventType,
			Data:          data,
			Timestamp:     now,
			Version:       current,
		})
	}
	return events, nil
}

// publishAll forwards committed events. The events are already durable, so a
// failed publish is logged and left for the projector's replay.
func publishAll(ctx context.Context, logger *logrus.Logger, publisher Publisher, events []Event) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.Publish(ctx, event.AggregateID, event); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"event_id":     event.ID,
				"event_type":   event.EventType,
				"aggregate_id": event.AggregateID,
			}).Error("[EventStore] Failed to publish committed event")
		}
	}
}

// Option configures an event store.
type Option func(*options)

type options struct {
	publisher Publisher
	logger    *logrus.Logger
}

// WithPublisher publishes every committed event to p.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithLogger overrides the standard logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
