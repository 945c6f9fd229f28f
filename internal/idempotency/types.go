package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted in the events DynamoDB table, one
// per activation event.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK, the event id
	Status         string    `dynamodbav:"status"`
	ItemID         string    `dynamodbav:"item_id,omitempty"`
	Attempts       int       `dynamodbav:"attempts,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	LeaseUntil     int64     `dynamodbav:"lease_until"` // epoch seconds; an IN_PROGRESS entry past it can be taken over
	ExpiresAt      int64     `dynamodbav:"expires_at"`  // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}
