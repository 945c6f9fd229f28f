package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger keeps records in process memory. It serves local runs and
// tests; it is not shared across instances.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]Record
	nowFunc func() time.Time
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: map[string]Record{},
		nowFunc: time.Now,
	}
}

func (m *MemoryLedger) Get(ctx context.Context, itemID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryLedger) Create(ctx context.Context, itemID string, meta Metadata) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[itemID]; ok {
		return nil, ErrAlreadyExists
	}
	rec := newRecord(itemID, meta, m.nowFunc())
	m.records[itemID] = rec
	return &rec, nil
}

func (m *MemoryLedger) TryRedeem(ctx context.Context, itemID, nonce, redeemer string) (RedeemOutcome, error) {
	if err := ctx.Err(); err != nil {
		return RedeemOutcome{}, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[itemID]
	if !ok {
		return RedeemOutcome{}, ErrNotFound
	}
	if rec.Status != StatusUnredeemed || !rec.AcceptsNonce(nonce) {
		return RedeemOutcome{Won: false, Record: rec}, nil
	}
	now := m.nowFunc().UTC()
	rec.Status = StatusRedeemed
	rec.RedeemedAt = &now
	rec.RedeemedBy = redeemer
	m.records[itemID] = rec
	return RedeemOutcome{Won: true, Record: rec}, nil
}

func (m *MemoryLedger) Purge(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[itemID]; !ok {
		return ErrNotFound
	}
	delete(m.records, itemID)
	return nil
}

func (m *MemoryLedger) List(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ItemID < recs[j].ItemID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
