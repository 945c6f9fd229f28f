// Package ledger records, per item id, whether its activation token has been
// redeemed. Every backend implements the redeem transition as a single
// conditional write so concurrent redeemers get exactly one winner.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Record statuses
const (
	StatusUnredeemed = "UNREDEEMED"
	StatusRedeemed   = "REDEEMED"
)

var (
	// ErrNotFound means no record exists for the item id.
	ErrNotFound = errors.New("ledger record not found")
	// ErrAlreadyExists means a record for the item id was already created.
	ErrAlreadyExists = errors.New("ledger record already exists")
	// ErrUnavailable wraps transient store failures. Retrying with the same
	// arguments is safe.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Record is one redemption entry. Item metadata is copied in at issuance so a
// status check needs a single read.
type Record struct {
	ItemID       string     `dynamodbav:"item_id" bson:"_id"`
	Status       string     `dynamodbav:"status" bson:"status"`
	TokenNonce   string     `dynamodbav:"token_nonce,omitempty" bson:"token_nonce,omitempty"`
	ModelName    string     `dynamodbav:"model_name,omitempty" bson:"model_name,omitempty"`
	SerialNumber string     `dynamodbav:"serial_number,omitempty" bson:"serial_number,omitempty"`
	Rarity       string     `dynamodbav:"rarity,omitempty" bson:"rarity,omitempty"`
	AssetFile    string     `dynamodbav:"asset_file,omitempty" bson:"asset_file,omitempty"`
	CreatedAt    time.Time  `dynamodbav:"created_at" bson:"created_at"`
	RedeemedAt   *time.Time `dynamodbav:"redeemed_at,omitempty" bson:"redeemed_at,omitempty"`
	RedeemedBy   string     `dynamodbav:"redeemed_by,omitempty" bson:"redeemed_by,omitempty"`
}

// Redeemed reports whether the record reached its terminal state.
func (r *Record) Redeemed() bool { return r.Status == StatusRedeemed }

// AcceptsNonce reports whether a token carrying nonce belongs to the issuance
// that created this record. Records created without a nonce accept any token.
func (r *Record) AcceptsNonce(nonce string) bool {
	return r.TokenNonce == "" || r.TokenNonce == nonce
}

// Metadata is the display data stored alongside a new record.
type Metadata struct {
	TokenNonce   string
	ModelName    string
	SerialNumber string
	Rarity       string
	AssetFile    string
}

// RedeemOutcome is the result of TryRedeem. Won is false when the condition
// failed; Record then holds the current stored state.
type RedeemOutcome struct {
	Won    bool
	Record Record
}

// Ledger is the storage contract shared by all backends.
type Ledger interface {
	Get(ctx context.Context, itemID string) (*Record, error)
	Create(ctx context.Context, itemID string, meta Metadata) (*Record, error)
	// TryRedeem atomically moves the record to REDEEMED if it is UNREDEEMED
	// and bound to nonce (or to no nonce). Returns ErrNotFound when no record
	// exists.
	TryRedeem(ctx context.Context, itemID, nonce, redeemer string) (RedeemOutcome, error)
	// Purge deletes the record. Returns ErrNotFound when it does not exist.
	Purge(ctx context.Context, itemID string) error
	// List returns all records, newest first.
	List(ctx context.Context) ([]Record, error)
}

func newRecord(itemID string, meta Metadata, now time.Time) Record {
	return Record{
		ItemID:       itemID,
		Status:       StatusUnredeemed,
		TokenNonce:   meta.TokenNonce,
		ModelName:    meta.ModelName,
		SerialNumber: meta.SerialNumber,
		Rarity:       meta.Rarity,
		AssetFile:    meta.AssetFile,
		CreatedAt:    now.UTC(),
	}
}
