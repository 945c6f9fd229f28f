package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedger stores one document per item, keyed by _id = item id.
type MongoLedger struct {
	coll    *mongo.Collection
	nowFunc func() time.Time
}

// ConnectMongo opens a client for uri and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable(fmt.Errorf("connect mongo: %w", err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(fmt.Errorf("ping mongo: %w", err))
	}
	return client, nil
}

// NewMongoLedger uses the given collection.
func NewMongoLedger(coll *mongo.Collection) *MongoLedger {
	return &MongoLedger{coll: coll, nowFunc: time.Now}
}

// EnsureIndexes adds the created_at index used by List.
func (l *MongoLedger) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		return mongoFailure(fmt.Errorf("create index: %w", err))
	}
	return nil
}

func (l *MongoLedger) Get(ctx context.Context, itemID string) (*Record, error) {
	var rec Record
	err := l.coll.FindOne(ctx, bson.M{"_id": itemID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, mongoFailure(fmt.Errorf("find record: %w", err))
	}
	return &rec, nil
}

func (l *MongoLedger) Create(ctx context.Context, itemID string, meta Metadata) (*Record, error) {
	rec := newRecord(itemID, meta, l.nowFunc())
	if _, err := l.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, mongoFailure(fmt.Errorf("insert record: %w", err))
	}
	return &rec, nil
}

// TryRedeem is a single FindOneAndUpdate whose filter carries the condition.
func (l *MongoLedger) TryRedeem(ctx context.Context, itemID, nonce, redeemer string) (RedeemOutcome, error) {
	now := l.nowFunc().UTC()
	filter := redeemFilter(itemID, nonce)
	update := bson.M{"$set": bson.M{
		"status":      StatusRedeemed,
		"redeemed_at": now,
		"redeemed_by": redeemer,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec Record
	err := l.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err == nil {
		return RedeemOutcome{Won: true, Record: rec}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return RedeemOutcome{}, mongoFailure(fmt.Errorf("find and update: %w", err))
	}

	current, err := l.Get(ctx, itemID)
	if err != nil {
		return RedeemOutcome{}, err
	}
	return RedeemOutcome{Won: false, Record: *current}, nil
}

func redeemFilter(itemID, nonce string) bson.M {
	return bson.M{
		"_id":    itemID,
		"status": StatusUnredeemed,
		"$or": bson.A{
			bson.M{"token_nonce": bson.M{"$exists": false}},
			bson.M{"token_nonce": ""},
			bson.M{"token_nonce": nonce},
		},
	}
}

func (l *MongoLedger) Purge(ctx context.Context, itemID string) error {
	res, err := l.coll.DeleteOne(ctx, bson.M{"_id": itemID})
	if err != nil {
		return mongoFailure(fmt.Errorf("delete record: %w", err))
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *MongoLedger) List(ctx context.Context) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := l.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mongoFailure(fmt.Errorf("find records: %w", err))
	}
	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, mongoFailure(fmt.Errorf("decode records: %w", err))
	}
	return out, nil
}

// mongoPermanent treats server errors as permanent unless the server labels
// them retryable. Timeouts and network errors are always transient.
func mongoPermanent(err error) bool {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return false
	}
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return !se.HasErrorLabel("RetryableWriteError") && !se.HasErrorLabel("TransientTransactionError")
}

func mongoFailure(err error) error { return storeFailure(err, mongoPermanent) }
