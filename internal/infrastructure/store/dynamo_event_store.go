package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxTransactItems is DynamoDB's TransactWriteItems limit.
const maxTransactItems = 100

// allEventsPartition is the fixed GSI1 partition that orders every event by time.
const allEventsPartition = "EVENTS"

// DynamoAPI is the subset of the DynamoDB client used by DynamoEventStore.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoEventStore stores events in DynamoDB, keyed by (aggregate_id, version).
type DynamoEventStore struct {
	client            DynamoAPI
	tableName         string
	snapshotTableName string
	opts              options
}

// dynamoEvent represents the DynamoDB item structure
type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk"`
}

func NewDynamoEventStore(client DynamoAPI, tableName, snapshotTableName string, opts ...Option) *DynamoEventStore {
	return &DynamoEventStore{
		client:            client,
		tableName:         tableName,
		snapshotTableName: snapshotTableName,
		opts:              newOptions(opts),
	}
}

// Commit writes the batch with TransactWriteItems. Each put is conditioned
// on its (aggregate_id, version) slot being free, so a stream that moved on
// cancels the whole transaction.
func (es *DynamoEventStore) Commit(ctx context.Context, pending ...PendingEvent) ([]Event, error) {
	if len(pending) > maxTransactItems {
		return nil, fmt.Errorf("commit of %d events exceeds the %d item transaction limit", len(pending), maxTransactItems)
	}

	// Streams with an explicit expectation are checked by the put condition;
	// only AnyVersion appends need to look up the head.
	expected := make(map[string]int)
	for _, p := range pending {
		if _, ok := expected[p.AggregateID]; !ok {
			expected[p.AggregateID] = p.ExpectedVersion
		}
	}

	events, err := buildEvents(pending, func(aggregateID string) (int, error) {
		if v := expected[aggregateID]; v != AnyVersion {
			return v, nil
		}
		return es.headVersion(ctx, aggregateID)
	}, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	items := make([]types.TransactWriteItem, 0, len(events))
	for _, e := range events {
		av, err := attributevalue.MarshalMap(dynamoEvent{
			AggregateID:   e.AggregateID,
			Version:       e.Version,
			ID:            e.ID,
			AggregateType: e.AggregateType,
			EventType:     e.EventType,
			Data:          string(e.Data),
			CreatedAt:     e.Timestamp.Format(time.RFC3339Nano),
			GSI1PK:        allEventsPartition,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(aggregate_id)"),
			},
		})
	}

	_, err = es.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return nil, mapDynamoError(err)
	}

	publishAll(ctx, es.opts.logger, es.opts.publisher, events)
	return events, nil
}

func mapDynamoError(err error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			code := aws.ToString(reason.Code)
			if code == "ConditionalCheckFailed" || code == "TransactionConflict" {
				return fmt.Errorf("%w: %s", ErrVersionConflict, code)
			}
		}
	}
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return fmt.Errorf("failed to commit events: %w", err)
}

// headVersion returns the current max version of a stream, 0 when empty.
func (es *DynamoEventStore) headVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read head of %s: %w", aggregateID, err)
	}
	if len(result.Items) == 0 {
		return 0, nil
	}

	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, err
	}
	return item.Version, nil
}

// GetEvents returns all events for an aggregate from DynamoDB
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns events for an aggregate after fromVersion
func (es *DynamoEventStore) GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND version > :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(fromVersion)},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// GetAllEvents returns all events from DynamoDB using GSI1
func (es *DynamoEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allEventsPartition},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

func (es *DynamoEventStore) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]Event, error) {
	var events []Event
	paginator := dynamodb.NewQueryPaginator(es.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		batch, err := unmarshalDynamoEvents(page.Items)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

func unmarshalDynamoEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for _, item := range items {
		var de dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}

		timestamp, _ := time.Parse(time.RFC3339Nano, de.CreatedAt)
		events = append(events, Event{
			ID:            de.ID,
			AggregateID:   de.AggregateID,
			AggregateType: de.AggregateType,
			EventType:     de.EventType,
			Data:          json.RawMessage(de.Data),
			Timestamp:     timestamp,
			Version:       de.Version,
		})
	}
	return events, nil
}

// dynamoSnapshot is stored in a separate table keyed by aggregate_id.
type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"`
	State         string `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// SaveSnapshot stores a snapshot unless a newer one already exists.
func (es *DynamoEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	av, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.snapshotTableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) OR version < :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(snapshot.Version)},
		},
	})
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot for an aggregate from the snapshots table
func (es *DynamoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := es.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(es.snapshotTableName),
		Key: map[string]types.AttributeValue{
			"aggregate_id": &types.AttributeValueMemberS{Value: aggregateID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Item, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, ds.CreatedAt)
	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}
