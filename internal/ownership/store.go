// Package ownership tracks who currently holds an activated toy. Records are
// created by the activation worker and moved between users by mock
// transfers; there is no settlement behind them.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
)

const (
	condFirstOwner = "attribute_not_exists(item_id)"
	condOwnedBy    = "#o = :from"
)

// Store encapsulates operations on the ownership table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new ownership Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func itemKey(itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"item_id": &types.AttributeValueMemberS{Value: itemID},
	}
}

// RecordActivation creates the first ownership record for itemID.
// Replaying the same activation (same owner) is a no-op; a different owner
// gets ErrAlreadyOwned.
func (s *Store) RecordActivation(ctx context.Context, itemID, owner string, activatedAt time.Time, eventID string) error {
	now := s.nowFunc().UTC()
	if activatedAt.IsZero() {
		activatedAt = now
	}
	item, err := attributevalue.MarshalMap(Ownership{
		ItemID:      itemID,
		Owner:       owner,
		ActivatedAt: activatedAt.UTC(),
		UpdatedAt:   now,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("marshal ownership: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condFirstOwner),
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("put item: %w", err)
	}

	existing, gerr := s.Get(ctx, itemID)
	if gerr != nil {
		return gerr
	}
	if existing.EventID != "" && existing.EventID == eventID {
		return nil
	}
	if existing.Transfers == 0 && existing.Owner == owner {
		return nil
	}
	return fmt.Errorf("%w: %s is held by %s", ErrAlreadyOwned, itemID, existing.Owner)
}

// Get fetches the ownership record. Returns ErrNotFound if the item has no owner.
func (s *Store) Get(ctx context.Context, itemID string) (*Ownership, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            itemKey(itemID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var o Ownership
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal ownership: %w", err)
	}
	return &o, nil
}

// Transfer conditionally moves itemID from -> to.
// Returns ErrNotFound if the item was never activated and ErrNotOwner if from
// is not the current owner.
func (s *Store) Transfer(ctx context.Context, itemID, from, to string) (*Ownership, error) {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      itemKey(itemID),
		UpdateExpression:         awsString("SET #o = :to, updated_at = :ua, transfers = if_not_exists(transfers, :zero) + :inc"),
		ConditionExpression:      awsString(condOwnedBy),
		ExpressionAttributeNames: map[string]string{"#o": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: from},
			":to":   &types.AttributeValueMemberS{Value: to},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if !isConditionFailed(err) {
			return nil, fmt.Errorf("update item: %w", err)
		}
		// missing item and wrong owner fail the same condition
		if _, gerr := s.Get(ctx, itemID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrNotOwner
	}

	var o Ownership
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal ownership: %w", err)
	}
	return &o, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
