package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/idempotency"
	"github.com/imrishuroy/go-toy-activation/internal/logger"
	"github.com/imrishuroy/go-toy-activation/internal/ownership"
)

// MetricToysActivated is the CloudWatch counter bumped once per activation.
const MetricToysActivated = "ToysActivated"

type dedupeStore interface {
	Acquire(ctx context.Context, key, itemID string) (bool, *idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key, note string) error
}

type ownershipRecorder interface {
	RecordActivation(ctx context.Context, itemID, owner string, activatedAt time.Time, eventID string) error
}

type counter interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Processor handles activation events from SQS: it records the first owner
// of each activated toy exactly once per event.
type Processor struct {
	dedupe  dedupeStore
	owners  ownershipRecorder
	metrics counter
	log     *slog.Logger
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, eventsTable, ownershipTable, namespace string, log *slog.Logger) *Processor {
	return &Processor{
		dedupe:  idempotency.NewStore(clients.DynamoDB, eventsTable, 48*time.Hour),
		owners:  ownership.NewStore(clients.DynamoDB, ownershipTable),
		metrics: aws.NewMetricsEmitter(clients.CloudWatch, namespace),
		log:     log,
	}
}

// Handle processes an SQS batch. Failed messages are reported individually
// so the rest of the batch is not redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Error("activation event failed", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.ActivationEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.ItemID == "" || msg.RedeemedBy == "" {
		return fmt.Errorf("message %s lacks item_id or redeemed_by", rec.MessageId)
	}
	key := msg.EventID
	if key == "" {
		key = rec.MessageId
	}

	log := p.log.With("event_id", key, "item_id", msg.ItemID, "request_id", msg.RequestID)
	ctx = logger.WithContext(ctx, log)

	acquired, cur, err := p.dedupe.Acquire(ctx, key, msg.ItemID)
	if err != nil {
		return fmt.Errorf("acquire event: %w", err)
	}
	if !acquired {
		if cur != nil && cur.Status == idempotency.StatusDone {
			log.Info("duplicate activation event")
			return nil
		}
		return fmt.Errorf("event %s is being processed elsewhere", key)
	}

	err = p.owners.RecordActivation(ctx, msg.ItemID, msg.RedeemedBy, msg.RedeemedAt, key)
	switch {
	case errors.Is(err, ownership.ErrAlreadyOwned):
		// the ledger allows one redemption per item; a conflicting owner
		// means the ownership table was edited out of band
		log.Warn("item already has a different owner", "error", err)
	case err != nil:
		if merr := p.dedupe.MarkFailed(ctx, key, err.Error()); merr != nil {
			log.Error("mark event failed", "error", merr)
		}
		return fmt.Errorf("record ownership: %w", err)
	default:
		if merr := p.metrics.Count(ctx, MetricToysActivated, 1, nil); merr != nil {
			log.Warn("emit activation metric", "error", merr)
		}
	}

	if err := p.dedupe.MarkDone(ctx, key); err != nil {
		return fmt.Errorf("mark event done: %w", err)
	}
	log.Info("activation recorded", "owner", msg.RedeemedBy)
	return nil
}
