package ownership

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means the item has never been activated.
	ErrNotFound = errors.New("ownership record not found")
	// ErrAlreadyOwned means the item was activated by someone else.
	ErrAlreadyOwned = errors.New("item already owned")
	// ErrNotOwner means a transfer named a sender who does not own the item.
	ErrNotOwner = errors.New("sender does not own item")
)

// Ownership represents the item stored in the ownership DynamoDB table.
type Ownership struct {
	ItemID      string    `dynamodbav:"item_id"` // PK
	Owner       string    `dynamodbav:"owner"`
	ActivatedAt time.Time `dynamodbav:"activated_at"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
	Transfers   int       `dynamodbav:"transfers,omitempty"`
	EventID     string    `dynamodbav:"event_id,omitempty"` // activation event that created the record
}
