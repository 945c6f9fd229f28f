package ledger

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory stand-in for the DynamoDB calls the ledger
// makes. It understands exactly the condition expressions in dynamo.go.
// NOTE: This is intentionally minimal and not production-grade.
type mockDynamo struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue

	// failWith, when set, is returned by every call.
	failWith error
	// omitOldItem mimics emulators that do not return ALL_OLD on failure.
	omitOldItem bool
	updateCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func keyOf(m map[string]types.AttributeValue) (string, error) {
	v, ok := m["item_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing item_id")
	}
	return v.Value, nil
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	k, err := keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == condCreate {
		if _, exists := m.table[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	if params.ConditionExpression == nil || *params.ConditionExpression != condRedeem {
		return nil, errors.New("mock: unsupported condition")
	}
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	vals := params.ExpressionAttributeValues
	want := vals[":unredeemed"].(*types.AttributeValueMemberS).Value
	nonce := vals[":nonce"].(*types.AttributeValueMemberS).Value

	item, exists := m.table[k]
	ok := exists
	if ok {
		st, _ := strAttr(item, "status")
		ok = st == want
	}
	if ok {
		if stored, has := strAttr(item, "token_nonce"); has && stored != nonce {
			ok = false
		}
	}
	if !ok {
		ccf := &types.ConditionalCheckFailedException{}
		if exists && !m.omitOldItem {
			ccf.Item = copyItem(item)
		}
		return nil, ccf
	}

	item["status"] = vals[":redeemed"]
	item["redeemed_at"] = vals[":ra"]
	item["redeemed_by"] = vals[":rb"]
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	k, err := keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	if _, exists := m.table[k]; !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := &dyn.ScanOutput{}
	for _, item := range m.table {
		out.Items = append(out.Items, copyItem(item))
	}
	return out, nil
}
