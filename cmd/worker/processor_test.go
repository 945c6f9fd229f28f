package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/idempotency"
	"github.com/imrishuroy/go-toy-activation/internal/ownership"
)

// --- fakes ---

type fakeDedupe struct {
	mu     sync.Mutex
	status map[string]string
}

func (f *fakeDedupe) Acquire(ctx context.Context, key, itemID string) (bool, *idempotency.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[key]
	if ok && st != idempotency.StatusFailed {
		return false, &idempotency.IdempotencyRecord{IdempotencyKey: key, Status: st, ItemID: itemID}, nil
	}
	f.status[key] = idempotency.StatusInProgress
	return true, nil, nil
}

func (f *fakeDedupe) MarkDone(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[key] = idempotency.StatusDone
	return nil
}

func (f *fakeDedupe) MarkFailed(ctx context.Context, key, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[key] = idempotency.StatusFailed
	return nil
}

type fakeOwners struct {
	owners  map[string]string
	failing error
	calls   int
}

func (f *fakeOwners) RecordActivation(ctx context.Context, itemID, owner string, at time.Time, eventID string) error {
	f.calls++
	if f.failing != nil {
		return f.failing
	}
	if cur, ok := f.owners[itemID]; ok && cur != owner {
		return ownership.ErrAlreadyOwned
	}
	f.owners[itemID] = owner
	return nil
}

type fakeCounter struct{ counts map[string]float64 }

func (f *fakeCounter) Count(ctx context.Context, name string, value float64, dims map[string]string) error {
	f.counts[name] += value
	return nil
}

func newTestProcessor() (*Processor, *fakeDedupe, *fakeOwners, *fakeCounter) {
	d := &fakeDedupe{status: map[string]string{}}
	o := &fakeOwners{owners: map[string]string{}}
	c := &fakeCounter{counts: map[string]float64{}}
	return &Processor{
		dedupe:  d,
		owners:  o,
		metrics: c,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, d, o, c
}

func sqsMessage(t *testing.T, id string, ev aws.ActivationEvent) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

// --- test cases ---

func TestWorkerProcess_Success(t *testing.T) {
	p, d, o, c := newTestProcessor()

	ev := aws.ActivationEvent{EventID: "e1", ItemID: "toy_007", RedeemedBy: "alice", RedeemedAt: time.Now()}
	resp, err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsMessage(t, "m1", ev)},
	})
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp.BatchItemFailures)
	}
	if o.owners["toy_007"] != "alice" {
		t.Fatalf("owner not recorded")
	}
	if d.status["e1"] != idempotency.StatusDone {
		t.Fatalf("event not marked done: %s", d.status["e1"])
	}
	if c.counts[MetricToysActivated] != 1 {
		t.Fatalf("metric count = %v, want 1", c.counts[MetricToysActivated])
	}
}

func TestWorkerProcess_DuplicateDeliveryIsSkipped(t *testing.T) {
	p, _, o, c := newTestProcessor()
	ev := aws.ActivationEvent{EventID: "e2", ItemID: "toy_008", RedeemedBy: "alice"}

	for i := 0; i < 3; i++ {
		resp, _ := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{sqsMessage(t, "m2", ev)},
		})
		if len(resp.BatchItemFailures) != 0 {
			t.Fatalf("delivery %d failed", i)
		}
	}
	if o.calls != 1 {
		t.Fatalf("ownership written %d times, want 1", o.calls)
	}
	if c.counts[MetricToysActivated] != 1 {
		t.Fatalf("metric count = %v, want 1", c.counts[MetricToysActivated])
	}
}

func TestWorkerProcess_PartialBatchFailure(t *testing.T) {
	p, d, o, _ := newTestProcessor()
	o.failing = errors.New("throttled")

	poison := events.SQSMessage{MessageId: "bad-json", Body: "{"}
	resp, err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			sqsMessage(t, "m3", aws.ActivationEvent{EventID: "e3", ItemID: "toy_009", RedeemedBy: "bob"}),
			poison,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("failures = %d, want 2", len(resp.BatchItemFailures))
	}
	if d.status["e3"] != idempotency.StatusFailed {
		t.Fatalf("event should be FAILED for retry, got %s", d.status["e3"])
	}

	// retry succeeds once the store recovers
	o.failing = nil
	resp, _ = p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsMessage(t, "m3", aws.ActivationEvent{EventID: "e3", ItemID: "toy_009", RedeemedBy: "bob"})},
	})
	if len(resp.BatchItemFailures) != 0 || o.owners["toy_009"] != "bob" {
		t.Fatalf("retry did not record ownership")
	}
}

func TestWorkerProcess_ConflictingOwnerIsNotRetried(t *testing.T) {
	p, d, o, c := newTestProcessor()
	o.owners["toy_010"] = "carol"

	resp, _ := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsMessage(t, "m4", aws.ActivationEvent{EventID: "e4", ItemID: "toy_010", RedeemedBy: "dave"})},
	})
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("conflict should not be retried")
	}
	if d.status["e4"] != idempotency.StatusDone {
		t.Fatalf("event not marked done")
	}
	if c.counts[MetricToysActivated] != 0 {
		t.Fatalf("conflict must not count as an activation")
	}
}
