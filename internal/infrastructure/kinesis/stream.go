// Package kinesis turns DynamoDB change records delivered through Kinesis
// into committed events, so the Lambda workers can feed the projector and
// the notifier from the DynamoDB event store.
package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/ticket-ledger/internal/infrastructure/store"
	"github.com/sirupsen/logrus"
)

// ErrIncompleteImage is returned for an INSERT whose image lacks the event
// identity attributes.
var ErrIncompleteImage = errors.New("stream image is missing event attributes")

// EventFromRecord decodes one Kinesis record. It returns nil without an
// error for changes other than inserts; the event table is append-only, so
// only inserts carry new events.
func EventFromRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("decode change record: %w", err)
	}
	return EventFromStreamRecord(change)
}

// EventFromStreamRecord decodes a record read straight from DynamoDB Streams.
func EventFromStreamRecord(change events.DynamoDBEventRecord) (*store.Event, error) {
	if change.EventName != string(events.DynamoDBOperationTypeInsert) {
		return nil, nil
	}
	return eventFromImage(change.Change.NewImage)
}

func eventFromImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
		Data:          json.RawMessage(str("data")),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("%w: id=%q aggregate_id=%q event_type=%q",
			ErrIncompleteImage, event.ID, event.AggregateID, event.EventType)
	}
	if !json.Valid(event.Data) {
		return nil, fmt.Errorf("event %s: data is not valid JSON", event.ID)
	}

	if ts := str("created_at"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("event %s: created_at: %w", event.ID, err)
		}
		event.Timestamp = t
	}

	v, ok := image["version"]
	if !ok || v.DataType() != events.DataTypeNumber {
		return nil, fmt.Errorf("%w: event %s has no version", ErrIncompleteImage, event.ID)
	}
	version, err := v.Integer()
	if err != nil {
		return nil, fmt.Errorf("event %s: version: %w", event.ID, err)
	}
	event.Version = int(version)

	return event, nil
}

// ApplyFunc consumes one decoded event.
type ApplyFunc func(ctx context.Context, event store.Event) error

// Dispatch hands every inserted event in the batch to apply and reports the
// records that failed, so Lambda retries only those.
func Dispatch(ctx context.Context, batch events.KinesisEvent, apply ApplyFunc, logger *logrus.Logger) events.KinesisEventResponse {
	var failures []events.KinesisBatchItemFailure
	for _, record := range batch.Records {
		log := logger.WithFields(logrus.Fields{
			"record_id": record.EventID,
			"sequence":  record.Kinesis.SequenceNumber,
		})

		event, err := EventFromRecord(record)
		if err == nil && event != nil {
			err = apply(ctx, *event)
		}
		if err != nil {
			log.WithError(err).Error("[Kinesis] Record failed")
			failures = append(failures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
		}
	}

	logger.WithFields(logrus.Fields{
		"records": len(batch.Records),
		"failed":  len(failures),
	}).Info("[Kinesis] Batch processed")
	return events.KinesisEventResponse{BatchItemFailures: failures}
}
