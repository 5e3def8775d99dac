// Package store defines the backing stores for checkouts, instruments
// and idempotency records, with in-memory and postgres implementations
// behind the same interfaces so the coordinator algorithm is storage
// agnostic.
package store

import (
	"context"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
)

type CheckoutStore interface {
	Get(ctx context.Context, id string) (domain.CheckoutState, bool, error)
	// Put upserts a checkout snapshot. A completed checkout is
	// immutable; overwriting one returns CHECKOUT_ALREADY_COMPLETED.
	Put(ctx context.Context, state domain.CheckoutState) error
	// SetStatus is a compare-and-swap on checkout status. It returns
	// false when the checkout is missing or not in the from status.
	SetStatus(ctx context.Context, id string, from, to domain.CheckoutStatus) (bool, error)
}

type InstrumentStore interface {
	Get(ctx context.Context, id string) (domain.PaymentInstrument, bool, error)
	Put(ctx context.Context, inst domain.PaymentInstrument) error
	// MarkUsed atomically moves the instrument from minted to used and
	// stamps the consuming checkout id. It returns false when the
	// instrument is missing or already used.
	MarkUsed(ctx context.Context, id, checkoutID string) (domain.PaymentInstrument, bool, error)
}

type IdempotencyStore interface {
	Get(ctx context.Context, checkoutID, key string) (domain.CompletionResult, bool, error)
	// Put stores a completion result once; later writes for the same
	// (checkoutID, key) are no-ops.
	Put(ctx context.Context, checkoutID, key string, result domain.CompletionResult) error
}

// TxRunner scopes a group of store writes to one atomic unit. Store
// calls made with the context passed to fn join that unit; if fn
// returns an error none of them take effect.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTxRunner pairs with the in-memory stores, which rely on the
// caller's lock discipline instead of transactions.
type NopTxRunner struct{}

func (NopTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
