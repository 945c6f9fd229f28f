// Package idempotency makes at-least-once event delivery safe: a consumer
// acquires the event id before doing any work and marks it DONE afterwards.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
)

const condAcquire = "attribute_not_exists(idempotency_key) OR #s = :failed OR (#s = :inprog AND lease_until < :now)"

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long DONE entries are kept
	lease     time.Duration // how long an IN_PROGRESS claim blocks other consumers
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		lease:     5 * time.Minute,
		nowFunc:   time.Now,
	}
}

// WithLease overrides the IN_PROGRESS lease, which should exceed the
// consumer's processing timeout.
func (s *Store) WithLease(d time.Duration) *Store {
	s.lease = d
	return s
}

// Acquire claims key for processing. It succeeds when the key is new, when a
// previous attempt FAILED, or when an IN_PROGRESS claim's lease ran out.
// Returns (true, nil, nil) when acquired, and (false, current, nil) when the
// key is DONE or held by another consumer.
func (s *Store) Acquire(ctx context.Context, key, itemID string) (bool, *IdempotencyRecord, error) {
	now := s.nowFunc()
	rec := IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		ItemID:         itemID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LeaseUntil:     now.Add(s.lease).Unix(),
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, nil, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString(condAcquire),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":inprog": &types.AttributeValueMemberS{Value: StatusInProgress},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		if !isConditionFailed(err) {
			return false, nil, fmt.Errorf("put item: %w", err)
		}
		cur, gerr := s.Get(ctx, key)
		if gerr != nil {
			return false, nil, gerr
		}
		return false, cur, nil
	}
	return true, nil, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE.
func (s *Store) MarkDone(ctx context.Context, key string) error {
	return s.finish(ctx, key, StatusDone, "")
}

// MarkFailed marks the record FAILED so the next delivery can acquire it.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, StatusFailed, note)
}

func (s *Store) finish(ctx context.Context, key, status, note string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: awsString("SET #s = :st, note = :n, updated_at = :ua, attempts = if_not_exists(attempts, :zero) + :inc"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":   &types.AttributeValueMemberS{Value: status},
			":n":    &types.AttributeValueMemberS{Value: note},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (mark %s): %w", status, err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

// Helper
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
