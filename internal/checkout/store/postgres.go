package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the stores use, so
// every statement can run either standalone or inside a transaction
// opened by PgxTxRunner.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func db(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// PgxTxRunner runs fn inside one database transaction. Store calls made
// with the callback's context join it, so the instrument consumption,
// the checkout transition and the idempotency record commit or roll
// back together.
type PgxTxRunner struct {
	pool *pgxpool.Pool
}

func NewPgxTxRunner(pool *pgxpool.Pool) *PgxTxRunner {
	return &PgxTxRunner{pool: pool}
}

func (r *PgxTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS checkout_states (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	line_items   JSONB NOT NULL DEFAULT '[]',
	total_amount BIGINT NOT NULL,
	currency     TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS payment_instruments (
	id           TEXT PRIMARY KEY,
	handler_id   TEXT NOT NULL,
	amount       BIGINT NOT NULL,
	currency     TEXT NOT NULL,
	payment_data JSONB,
	status       TEXT NOT NULL,
	checkout_id  TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS completion_idempotency (
	checkout_id     TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	result          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (checkout_id, idempotency_key)
);
CREATE TABLE IF NOT EXISTS outbox (
	id         BIGSERIAL PRIMARY KEY,
	event_id   TEXT NOT NULL,
	topic      TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at    TIMESTAMPTZ
);
`

// EnsureSchema creates the tables used by the postgres stores and the
// transactional outbox.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

type PostgresCheckoutStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCheckoutStore(pool *pgxpool.Pool) *PostgresCheckoutStore {
	return &PostgresCheckoutStore{pool: pool}
}

func (s *PostgresCheckoutStore) Get(ctx context.Context, id string) (domain.CheckoutState, bool, error) {
	var (
		state domain.CheckoutState
		items []byte
	)
	err := db(ctx, s.pool).QueryRow(ctx,
		`SELECT id, status, line_items, total_amount, currency, created_at
		 FROM checkout_states WHERE id=$1`, id).
		Scan(&state.ID, &state.Status, &items, &state.TotalAmount, &state.Currency, &state.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CheckoutState{}, false, nil
	}
	if err != nil {
		return domain.CheckoutState{}, false, err
	}
	if err := json.Unmarshal(items, &state.LineItems); err != nil {
		return domain.CheckoutState{}, false, err
	}
	return state, true, nil
}

func (s *PostgresCheckoutStore) Put(ctx context.Context, state domain.CheckoutState) error {
	items, err := json.Marshal(state.LineItems)
	if err != nil {
		return err
	}
	// The WHERE guard keeps a completed checkout immutable even when a
	// racing writer read it before the completion committed.
	tag, err := db(ctx, s.pool).Exec(ctx,
		`INSERT INTO checkout_states(id, status, line_items, total_amount, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   status=EXCLUDED.status, line_items=EXCLUDED.line_items,
		   total_amount=EXCLUDED.total_amount, currency=EXCLUDED.currency
		 WHERE checkout_states.status <> $7`,
		state.ID, state.Status, items, state.TotalAmount, state.Currency, state.CreatedAt,
		domain.CheckoutCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.CodeCheckoutAlreadyCompleted, "checkout "+state.ID+" was already completed")
	}
	return nil
}

func (s *PostgresCheckoutStore) SetStatus(ctx context.Context, id string, from, to domain.CheckoutStatus) (bool, error) {
	tag, err := db(ctx, s.pool).Exec(ctx,
		`UPDATE checkout_states SET status=$3 WHERE id=$1 AND status=$2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type PostgresInstrumentStore struct {
	pool *pgxpool.Pool
}

func NewPostgresInstrumentStore(pool *pgxpool.Pool) *PostgresInstrumentStore {
	return &PostgresInstrumentStore{pool: pool}
}

func (s *PostgresInstrumentStore) Get(ctx context.Context, id string) (domain.PaymentInstrument, bool, error) {
	var (
		inst       domain.PaymentInstrument
		data       []byte
		checkoutID *string
	)
	err := db(ctx, s.pool).QueryRow(ctx,
		`SELECT id, handler_id, amount, currency, payment_data, status, checkout_id, created_at
		 FROM payment_instruments WHERE id=$1`, id).
		Scan(&inst.ID, &inst.HandlerID, &inst.Amount, &inst.Currency, &data, &inst.Status, &checkoutID, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentInstrument{}, false, nil
	}
	if err != nil {
		return domain.PaymentInstrument{}, false, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &inst.PaymentData); err != nil {
			return domain.PaymentInstrument{}, false, err
		}
	}
	if checkoutID != nil {
		inst.CheckoutID = *checkoutID
	}
	return inst, true, nil
}

func (s *PostgresInstrumentStore) Put(ctx context.Context, inst domain.PaymentInstrument) error {
	data, err := json.Marshal(inst.PaymentData)
	if err != nil {
		return err
	}
	var checkoutID *string
	if inst.CheckoutID != "" {
		checkoutID = &inst.CheckoutID
	}
	_, err = db(ctx, s.pool).Exec(ctx,
		`INSERT INTO payment_instruments(id, handler_id, amount, currency, payment_data, status, checkout_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		inst.ID, inst.HandlerID, inst.Amount, inst.Currency, data, inst.Status, checkoutID, inst.CreatedAt)
	return err
}

func (s *PostgresInstrumentStore) MarkUsed(ctx context.Context, id, checkoutID string) (domain.PaymentInstrument, bool, error) {
	var (
		inst domain.PaymentInstrument
		data []byte
	)
	err := db(ctx, s.pool).QueryRow(ctx,
		`UPDATE payment_instruments SET status=$3, checkout_id=$2
		 WHERE id=$1 AND status=$4
		 RETURNING id, handler_id, amount, currency, payment_data, status, checkout_id, created_at`,
		id, checkoutID, domain.InstrumentUsed, domain.InstrumentMinted).
		Scan(&inst.ID, &inst.HandlerID, &inst.Amount, &inst.Currency, &data, &inst.Status, &inst.CheckoutID, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentInstrument{}, false, nil
	}
	if err != nil {
		return domain.PaymentInstrument{}, false, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &inst.PaymentData); err != nil {
			return domain.PaymentInstrument{}, false, err
		}
	}
	return inst, true, nil
}

type PostgresIdempotencyStore struct {
	pool *pgxpool.Pool
}

func NewPostgresIdempotencyStore(pool *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{pool: pool}
}

func (s *PostgresIdempotencyStore) Get(ctx context.Context, checkoutID, key string) (domain.CompletionResult, bool, error) {
	var data []byte
	err := db(ctx, s.pool).QueryRow(ctx,
		`SELECT result FROM completion_idempotency WHERE checkout_id=$1 AND idempotency_key=$2`,
		checkoutID, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CompletionResult{}, false, nil
	}
	if err != nil {
		return domain.CompletionResult{}, false, err
	}
	var result domain.CompletionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.CompletionResult{}, false, err
	}
	return result, true, nil
}

func (s *PostgresIdempotencyStore) Put(ctx context.Context, checkoutID, key string, result domain.CompletionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	// First write wins; a duplicate racing record is dropped.
	_, err = db(ctx, s.pool).Exec(ctx,
		`INSERT INTO completion_idempotency(checkout_id, idempotency_key, result)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (checkout_id, idempotency_key) DO NOTHING`,
		checkoutID, key, data)
	return err
}
