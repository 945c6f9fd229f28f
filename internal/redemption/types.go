package redemption

import (
	"errors"
	"time"

	"github.com/imrishuroy/go-toy-activation/internal/ledger"
)

// Status classifies a status check or redemption request.
type Status string

const (
	StatusAvailable       Status = "AVAILABLE"
	StatusRedeemed        Status = "REDEEMED"
	StatusActivated       Status = "ACTIVATED"
	StatusAlreadyRedeemed Status = "ALREADY_REDEEMED"
	StatusUnknownItem     Status = "UNKNOWN_ITEM"
	StatusInvalidToken    Status = "INVALID_TOKEN"
)

// AnonymousRedeemer is recorded when the caller supplies no identity.
const AnonymousRedeemer = "anonymous"

var (
	// ErrDuplicateIssuance means the item already has a ledger record.
	ErrDuplicateIssuance = errors.New("item already issued")
	// ErrUnknownModel means the catalogue has no model with that name.
	ErrUnknownModel = errors.New("unknown model")
	// ErrSerialExists means another item already uses the serial number.
	ErrSerialExists = errors.New("serial number already issued")
	// ErrItemNotFound is returned by Purge for a missing record.
	ErrItemNotFound = errors.New("item not found")
)

// Item is the display data for a claim screen.
type Item struct {
	ID           string
	Name         string
	SerialNumber string
	Rarity       string
	AssetFile    string
}

func itemFromRecord(r *ledger.Record) *Item {
	return &Item{
		ID:           r.ItemID,
		Name:         r.ModelName,
		SerialNumber: r.SerialNumber,
		Rarity:       r.Rarity,
		AssetFile:    r.AssetFile,
	}
}

// StatusResult is the outcome of CheckStatus.
type StatusResult struct {
	Status     Status
	Item       *Item
	RedeemedAt *time.Time
	RedeemedBy string
	// Reason explains INVALID_TOKEN for logs. Never show it to end users.
	Reason error
}

// RedeemResult is the outcome of Redeem. For ACTIVATED, RedeemedAt is the
// activation time; for ALREADY_REDEEMED it is the original one.
type RedeemResult struct {
	Status     Status
	Item       *Item
	RedeemedAt *time.Time
	RedeemedBy string
	// SameRedeemer is set on ALREADY_REDEEMED when the recorded redeemer is
	// the caller, e.g. a retry after a timeout that had in fact committed.
	SameRedeemer bool
	Reason       error
}

// Issuance is the outcome of a successful Issue.
type Issuance struct {
	ItemID string
	Token  string
	Record ledger.Record
}

// Stats summarises the ledger for the admin listing.
type Stats struct {
	Total     int
	Redeemed  int
	Available int
}

// Listing is every record plus Stats.
type Listing struct {
	Records []ledger.Record
	Stats   Stats
}
