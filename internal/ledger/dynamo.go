package ledger

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
	condCreate = "attribute_not_exists(item_id)"
	condRedeem = "attribute_exists(item_id) AND #s = :unredeemed AND (attribute_not_exists(token_nonce) OR token_nonce = :nonce)"
	condPurge  = "attribute_exists(item_id)"
)

// DynamoLedger stores records in a DynamoDB table keyed by item_id.
type DynamoLedger struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoLedger creates a ledger backed by tableName.
func NewDynamoLedger(client aws.DynamoDBAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{
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

// Get fetches a record with a strongly consistent read.
func (l *DynamoLedger) Get(ctx context.Context, itemID string) (*Record, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            itemKey(itemID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, dynamoFailure(fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalRecord(out.Item)
}

// Create puts a new UNREDEEMED record, guarded by attribute_not_exists(item_id).
func (l *DynamoLedger) Create(ctx context.Context, itemID string, meta Metadata) (*Record, error) {
	rec := newRecord(itemID, meta, l.nowFunc())
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: awsString(condCreate),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, ErrAlreadyExists
		}
		return nil, dynamoFailure(fmt.Errorf("put item: %w", err))
	}
	return &rec, nil
}

// TryRedeem issues one conditional UpdateItem. When the condition fails the
// stored item comes back with the exception, so losers see the winner's
// metadata without a second read.
func (l *DynamoLedger) TryRedeem(ctx context.Context, itemID, nonce, redeemer string) (RedeemOutcome, error) {
	now := l.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:        &l.tableName,
		Key:              itemKey(itemID),
		UpdateExpression: awsString("SET #s = :redeemed, redeemed_at = :ra, redeemed_by = :rb"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":redeemed":   &types.AttributeValueMemberS{Value: StatusRedeemed},
			":unredeemed": &types.AttributeValueMemberS{Value: StatusUnredeemed},
			":nonce":      &types.AttributeValueMemberS{Value: nonce},
			":ra":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":rb":         &types.AttributeValueMemberS{Value: redeemer},
		},
		ConditionExpression:                 awsString(condRedeem),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}

	out, err := l.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) && len(ccf.Item) > 0 {
			rec, uerr := unmarshalRecord(ccf.Item)
			if uerr != nil {
				return RedeemOutcome{}, uerr
			}
			return RedeemOutcome{Won: false, Record: *rec}, nil
		}
		if isConditionFailed(err) {
			// Emulators may omit the old item. A consistent read after a failed
			// condition still only ever observes the terminal state or absence.
			rec, gerr := l.Get(ctx, itemID)
			if gerr != nil {
				return RedeemOutcome{}, gerr
			}
			return RedeemOutcome{Won: false, Record: *rec}, nil
		}
		return RedeemOutcome{}, dynamoFailure(fmt.Errorf("update item: %w", err))
	}

	rec, err := unmarshalRecord(out.Attributes)
	if err != nil {
		return RedeemOutcome{}, err
	}
	return RedeemOutcome{Won: true, Record: *rec}, nil
}

// Purge deletes the record if it exists.
func (l *DynamoLedger) Purge(ctx context.Context, itemID string) error {
	_, err := l.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &l.tableName,
		Key:                 itemKey(itemID),
		ConditionExpression: awsString(condPurge),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return dynamoFailure(fmt.Errorf("delete item: %w", err))
	}
	return nil
}

// List scans the whole table. Intended for the admin listing only.
func (l *DynamoLedger) List(ctx context.Context) ([]Record, error) {
	var (
		out  []Record
		last map[string]types.AttributeValue
	)
	for {
		page, err := l.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &l.tableName,
			ExclusiveStartKey: last,
			ConsistentRead:    awsBool(true),
		})
		if err != nil {
			return nil, dynamoFailure(fmt.Errorf("scan: %w", err))
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		out = append(out, recs...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		last = page.LastEvaluatedKey
	}
	sortNewestFirst(out)
	return out, nil
}

func unmarshalRecord(item map[string]types.AttributeValue) (*Record, error) {
	var rec Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// isConditionFailed detects a failed ConditionExpression, both as the typed
// exception and as a generic API error code.
func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// retryableDynamoCodes are client faults that clear up on their own.
var retryableDynamoCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TransactionConflictException":           true,
}

func dynamoPermanent(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if retryableDynamoCodes[apiErr.ErrorCode()] {
		return false
	}
	return apiErr.ErrorFault() == smithy.FaultClient
}

func dynamoFailure(err error) error { return storeFailure(err, dynamoPermanent) }

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
