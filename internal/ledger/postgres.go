package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type pgRecord struct {
	bun.BaseModel `bun:"table:toy_redemptions,alias:r"`

	ItemID       string     `bun:"item_id,pk"`
	Status       string     `bun:"status,notnull"`
	TokenNonce   string     `bun:"token_nonce,notnull,default:''"`
	ModelName    string     `bun:"model_name"`
	SerialNumber string     `bun:"serial_number"`
	Rarity       string     `bun:"rarity"`
	AssetFile    string     `bun:"asset_file"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	RedeemedAt   *time.Time `bun:"redeemed_at"`
	RedeemedBy   string     `bun:"redeemed_by"`
}

func (p *pgRecord) toRecord() Record {
	return Record{
		ItemID:       p.ItemID,
		Status:       p.Status,
		TokenNonce:   p.TokenNonce,
		ModelName:    p.ModelName,
		SerialNumber: p.SerialNumber,
		Rarity:       p.Rarity,
		AssetFile:    p.AssetFile,
		CreatedAt:    p.CreatedAt.UTC(),
		RedeemedAt:   p.RedeemedAt,
		RedeemedBy:   p.RedeemedBy,
	}
}

func fromRecord(r Record) *pgRecord {
	return &pgRecord{
		ItemID:       r.ItemID,
		Status:       r.Status,
		TokenNonce:   r.TokenNonce,
		ModelName:    r.ModelName,
		SerialNumber: r.SerialNumber,
		Rarity:       r.Rarity,
		AssetFile:    r.AssetFile,
		CreatedAt:    r.CreatedAt,
		RedeemedAt:   r.RedeemedAt,
		RedeemedBy:   r.RedeemedBy,
	}
}

// PostgresLedger stores records in PostgreSQL through bun.
type PostgresLedger struct {
	db      *bun.DB
	nowFunc func() time.Time
}

// OpenPostgres connects to dsn with the pgdriver connector.
func OpenPostgres(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// NewPostgresLedger wraps an open bun.DB.
func NewPostgresLedger(db *bun.DB) *PostgresLedger {
	return &PostgresLedger{db: db, nowFunc: time.Now}
}

// EnsureSchema creates the redemptions table if it is missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.NewCreateTable().
		Model((*pgRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return pgFailure(fmt.Errorf("create table: %w", err))
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, itemID string) (*Record, error) {
	row := new(pgRecord)
	err := l.db.NewSelect().Model(row).Where("item_id = ?", itemID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, pgFailure(fmt.Errorf("select record: %w", err))
	}
	rec := row.toRecord()
	return &rec, nil
}

func (l *PostgresLedger) Create(ctx context.Context, itemID string, meta Metadata) (*Record, error) {
	rec := newRecord(itemID, meta, l.nowFunc())
	res, err := l.insertQuery(rec).Exec(ctx)
	if err != nil {
		return nil, pgFailure(fmt.Errorf("insert record: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, pgFailure(fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return nil, ErrAlreadyExists
	}
	return &rec, nil
}

// TryRedeem runs one UPDATE ... WHERE status = 'UNREDEEMED' RETURNING; the row
// lock taken by the update serialises concurrent redeemers.
func (l *PostgresLedger) TryRedeem(ctx context.Context, itemID, nonce, redeemer string) (RedeemOutcome, error) {
	row := new(pgRecord)
	err := l.redeemQuery(row, itemID, nonce, redeemer, l.nowFunc().UTC()).Scan(ctx)
	if err == nil {
		return RedeemOutcome{Won: true, Record: row.toRecord()}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return RedeemOutcome{}, pgFailure(fmt.Errorf("update record: %w", err))
	}

	current, err := l.Get(ctx, itemID)
	if err != nil {
		return RedeemOutcome{}, err
	}
	return RedeemOutcome{Won: false, Record: *current}, nil
}

func (l *PostgresLedger) insertQuery(rec Record) *bun.InsertQuery {
	return l.db.NewInsert().
		Model(fromRecord(rec)).
		On("CONFLICT (item_id) DO NOTHING")
}

func (l *PostgresLedger) redeemQuery(row *pgRecord, itemID, nonce, redeemer string, now time.Time) *bun.UpdateQuery {
	return l.db.NewUpdate().
		Model(row).
		Set("status = ?", StatusRedeemed).
		Set("redeemed_at = ?", now).
		Set("redeemed_by = ?", redeemer).
		Where("item_id = ?", itemID).
		Where("status = ?", StatusUnredeemed).
		Where("(token_nonce = '' OR token_nonce = ?)", nonce).
		Returning("*")
}

func (l *PostgresLedger) Purge(ctx context.Context, itemID string) error {
	res, err := l.db.NewDelete().
		Model((*pgRecord)(nil)).
		Where("item_id = ?", itemID).
		Exec(ctx)
	if err != nil {
		return pgFailure(fmt.Errorf("delete record: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pgFailure(fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *PostgresLedger) List(ctx context.Context) ([]Record, error) {
	var rows []pgRecord
	err := l.db.NewSelect().
		Model(&rows).
		OrderExpr("created_at DESC, item_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, pgFailure(fmt.Errorf("list records: %w", err))
	}
	out := make([]Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// sqlStateError matches pgdriver.Error, which exposes the SQLSTATE as field 'C'.
type sqlStateError interface {
	Field(k byte) string
}

// pgPermanent treats server errors as permanent except the connection,
// transaction rollback, resource and operator intervention classes.
// Errors without a SQLSTATE come from the connection itself.
func pgPermanent(err error) bool {
	var pgErr sqlStateError
	if !errors.As(err, &pgErr) {
		return false
	}
	code := pgErr.Field('C')
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "40", "53", "57", "58":
		return false
	}
	return true
}

func pgFailure(err error) error { return storeFailure(err, pgPermanent) }
