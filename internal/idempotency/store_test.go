package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestAcquire_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "events-table", 48*time.Hour)

	ctx := context.Background()
	key := "event-1"

	acquired, _, err := s.Acquire(ctx, key, "toy_007")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected acquired=true")
	}

	// second acquire while IN_PROGRESS should be refused
	acquired2, cur, err := s.Acquire(ctx, key, "toy_007")
	if err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}
	if acquired2 {
		t.Fatalf("expected acquired=false on duplicate")
	}
	if cur == nil || cur.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS record, got %+v", cur)
	}
	if cur.ItemID != "toy_007" {
		t.Fatalf("item id mismatch")
	}

	// MarkFailed lets the next delivery take over
	if err := s.MarkFailed(ctx, key, "ownership write failed"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item := mock.table[key]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item["status"])
	}
	acquired3, _, err := s.Acquire(ctx, key, "toy_007")
	if err != nil || !acquired3 {
		t.Fatalf("expected re-acquire after FAILED, got %v %v", acquired3, err)
	}

	// Mark done
	if err := s.MarkDone(ctx, key); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil || rec.Status != StatusDone {
		t.Fatalf("expected DONE, got %+v", rec)
	}

	acquired4, cur, err := s.Acquire(ctx, key, "toy_007")
	if err != nil {
		t.Fatalf("Acquire after done error: %v", err)
	}
	if acquired4 || cur.Status != StatusDone {
		t.Fatalf("DONE event must not be re-acquired")
	}
}

func TestAcquire_ExpiredLeaseIsTakenOver(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "events-table", 48*time.Hour).WithLease(time.Minute)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return base }

	ctx := context.Background()
	if ok, _, err := s.Acquire(ctx, "event-2", "toy_008"); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}

	s.nowFunc = func() time.Time { return base.Add(30 * time.Second) }
	if ok, _, _ := s.Acquire(ctx, "event-2", "toy_008"); ok {
		t.Fatalf("lease still held, acquire must fail")
	}

	s.nowFunc = func() time.Time { return base.Add(2 * time.Minute) }
	if ok, _, err := s.Acquire(ctx, "event-2", "toy_008"); err != nil || !ok {
		t.Fatalf("expected take-over after lease expiry, got %v %v", ok, err)
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(newSimpleMock(), "events-table", time.Hour)
	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}
