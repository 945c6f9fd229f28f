// Package redemption composes the token codec and the ledger into the
// activation state machine: issue, check status, redeem and purge.
//
// Token problems are classified here and never reach the ledger. Ledger
// failures are returned as errors, unmodified, so the caller can retry.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/catalogue"
	"github.com/imrishuroy/go-toy-activation/internal/ledger"
	"github.com/imrishuroy/go-toy-activation/internal/logger"
	"github.com/imrishuroy/go-toy-activation/internal/metrics"
	"github.com/imrishuroy/go-toy-activation/internal/token"
)

// Codec is the part of *token.Codec the coordinator needs.
type Codec interface {
	MintClaims(itemID string) (token.Claims, error)
	Verify(tok string) (token.Claims, error)
}

// EventPublisher receives an event for every winning redemption.
type EventPublisher interface {
	PublishActivation(ctx context.Context, ev aws.ActivationEvent) error
}

// Coordinator is safe for concurrent use; it holds no per-item state.
type Coordinator struct {
	codec     Codec
	ledger    ledger.Ledger
	publisher EventPublisher
	metrics   *metrics.Registry
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher publishes activation events after winning redemptions.
func WithPublisher(p EventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithMetrics records outcomes on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(c *Coordinator) { c.metrics = reg }
}

// NewCoordinator wires a codec and a ledger.
func NewCoordinator(codec Codec, l ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{codec: codec, ledger: l}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckStatus classifies tok without changing any state.
func (c *Coordinator) CheckStatus(ctx context.Context, tok string) (StatusResult, error) {
	log := logger.FromContext(ctx)

	claims, err := c.codec.Verify(tok)
	if err != nil {
		log.Info("status check rejected token", "token", tok, "reason", err.Error())
		c.observe("status", StatusInvalidToken)
		return StatusResult{Status: StatusInvalidToken, Reason: err}, nil
	}

	rec, err := c.ledger.Get(ctx, claims.ItemID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		log.Warn("valid token for unprovisioned item", "item_id", claims.ItemID)
		c.observe("status", StatusUnknownItem)
		return StatusResult{Status: StatusUnknownItem}, nil
	case err != nil:
		c.ledgerFailed("status")
		return StatusResult{}, fmt.Errorf("check status of %s: %w", claims.ItemID, err)
	}

	if !rec.AcceptsNonce(claims.Nonce) {
		log.Warn("token from a superseded issuance", "item_id", claims.ItemID)
		c.observe("status", StatusUnknownItem)
		return StatusResult{Status: StatusUnknownItem}, nil
	}

	res := StatusResult{Status: StatusAvailable, Item: itemFromRecord(rec)}
	if rec.Redeemed() {
		res.Status = StatusRedeemed
		res.RedeemedAt = rec.RedeemedAt
		res.RedeemedBy = rec.RedeemedBy
	}
	c.observe("status", res.Status)
	return res, nil
}

// Redeem claims the item behind tok for redeemer. Exactly one call per item
// ever returns ACTIVATED; every other valid call returns ALREADY_REDEEMED
// with the winner's metadata.
func (c *Coordinator) Redeem(ctx context.Context, tok, redeemer string) (RedeemResult, error) {
	log := logger.FromContext(ctx)
	redeemer = strings.TrimSpace(redeemer)
	identified := redeemer != ""
	if !identified {
		redeemer = AnonymousRedeemer
	}

	claims, err := c.codec.Verify(tok)
	if err != nil {
		log.Info("redeem rejected token", "token", tok, "reason", err.Error())
		c.observe("redeem", StatusInvalidToken)
		return RedeemResult{Status: StatusInvalidToken, Reason: err}, nil
	}

	out, err := c.ledger.TryRedeem(ctx, claims.ItemID, claims.Nonce, redeemer)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		log.Warn("valid token for unprovisioned item", "item_id", claims.ItemID)
		c.observe("redeem", StatusUnknownItem)
		return RedeemResult{Status: StatusUnknownItem}, nil
	case err != nil:
		c.ledgerFailed("redeem")
		return RedeemResult{}, fmt.Errorf("redeem %s: %w", claims.ItemID, err)
	}

	rec := out.Record
	if !rec.AcceptsNonce(claims.Nonce) {
		log.Warn("token from a superseded issuance", "item_id", claims.ItemID)
		c.observe("redeem", StatusUnknownItem)
		return RedeemResult{Status: StatusUnknownItem}, nil
	}
	if !out.Won && !rec.Redeemed() {
		// The record was replaced between the conditional write and the
		// follow-up read.
		c.ledgerFailed("redeem")
		return RedeemResult{}, fmt.Errorf("redeem %s: record changed concurrently: %w", claims.ItemID, ledger.ErrUnavailable)
	}

	res := RedeemResult{
		Item:       itemFromRecord(&rec),
		RedeemedAt: rec.RedeemedAt,
		RedeemedBy: rec.RedeemedBy,
	}
	if out.Won {
		res.Status = StatusActivated
		log.Info("item activated", "item_id", rec.ItemID, "redeemed_by", redeemer)
		c.publish(ctx, rec)
	} else {
		res.Status = StatusAlreadyRedeemed
		// Anonymous callers cannot prove they are the earlier redeemer.
		res.SameRedeemer = identified && rec.RedeemedBy == redeemer
		log.Info("item already redeemed", "item_id", rec.ItemID, "redeemed_by", rec.RedeemedBy)
	}
	c.observe("redeem", res.Status)
	return res, nil
}

// publish never fails the redemption; the ledger is the source of truth.
func (c *Coordinator) publish(ctx context.Context, rec ledger.Record) {
	if c.publisher == nil {
		return
	}
	ev := aws.ActivationEvent{
		EventID:    uuid.NewString(),
		ItemID:     rec.ItemID,
		RedeemedBy: rec.RedeemedBy,
		RequestID:  logger.RequestID(ctx),
	}
	if rec.RedeemedAt != nil {
		ev.RedeemedAt = *rec.RedeemedAt
	}
	if err := c.publisher.PublishActivation(ctx, ev); err != nil {
		logger.FromContext(ctx).Error("publish activation event", "item_id", rec.ItemID, "error", err)
	}
}

// Issue mints a token for itemID and registers an UNREDEEMED record bound to
// the token's nonce.
func (c *Coordinator) Issue(ctx context.Context, itemID string, meta ledger.Metadata) (Issuance, error) {
	claims, err := c.codec.MintClaims(itemID)
	if err != nil {
		return Issuance{}, fmt.Errorf("mint token: %w", err)
	}
	meta.TokenNonce = claims.Nonce

	rec, err := c.ledger.Create(ctx, itemID, meta)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return Issuance{}, fmt.Errorf("%w: %s", ErrDuplicateIssuance, itemID)
		}
		c.ledgerFailed("issue")
		return Issuance{}, fmt.Errorf("register %s: %w", itemID, err)
	}
	if c.metrics != nil {
		c.metrics.Issued.Inc()
	}
	logger.FromContext(ctx).Info("token issued", "item_id", itemID)
	return Issuance{ItemID: itemID, Token: claims.String(), Record: *rec}, nil
}

// IssueModel issues a unit of a catalogue model. Serial numbers are unique
// across all models.
func (c *Coordinator) IssueModel(ctx context.Context, modelName, serial string) (Issuance, error) {
	model, ok := catalogue.Lookup(modelName)
	if !ok {
		return Issuance{}, fmt.Errorf("%w: %q", ErrUnknownModel, modelName)
	}

	// Advisory only: the conditional create below is what prevents two live
	// records for one item id.
	recs, err := c.ledger.List(ctx)
	if err != nil {
		c.ledgerFailed("issue")
		return Issuance{}, fmt.Errorf("check serial %s: %w", serial, err)
	}
	for _, r := range recs {
		if r.SerialNumber == serial {
			return Issuance{}, fmt.Errorf("%w: %s is used by %q", ErrSerialExists, serial, r.ModelName)
		}
	}

	return c.Issue(ctx, catalogue.ItemID(model.Name, serial), ledger.Metadata{
		ModelName:    model.Name,
		SerialNumber: serial,
		Rarity:       model.Rarity,
		AssetFile:    model.AssetFile(),
	})
}

// Purge deletes the record for itemID. Tokens minted for it stop resolving;
// a later re-issue binds a new nonce so they stay dead.
func (c *Coordinator) Purge(ctx context.Context, itemID string) error {
	err := c.ledger.Purge(ctx, itemID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	case err != nil:
		c.ledgerFailed("purge")
		return fmt.Errorf("purge %s: %w", itemID, err)
	}
	logger.FromContext(ctx).Info("item purged", "item_id", itemID)
	return nil
}

// List returns every record, newest first, with totals.
func (c *Coordinator) List(ctx context.Context) (Listing, error) {
	recs, err := c.ledger.List(ctx)
	if err != nil {
		c.ledgerFailed("list")
		return Listing{}, fmt.Errorf("list records: %w", err)
	}
	l := Listing{Records: recs, Stats: Stats{Total: len(recs)}}
	for i := range recs {
		if recs[i].Redeemed() {
			l.Stats.Redeemed++
		} else {
			l.Stats.Available++
		}
	}
	return l, nil
}

func (c *Coordinator) observe(op string, s Status) {
	if c.metrics != nil {
		c.metrics.Outcomes.WithLabelValues(op, string(s)).Inc()
	}
}

func (c *Coordinator) ledgerFailed(op string) {
	if c.metrics != nil {
		c.metrics.LedgerErrors.WithLabelValues(op).Inc()
	}
}
