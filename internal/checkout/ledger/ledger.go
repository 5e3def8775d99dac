// Package ledger records completed-request fingerprints so duplicate
// completion calls replay the original result instead of mutating
// state again.
package ledger

import (
	"context"
	"fmt"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
)

type Ledger struct {
	records store.IdempotencyStore
}

func New(records store.IdempotencyStore) *Ledger {
	return &Ledger{records: records}
}

func (l *Ledger) Lookup(ctx context.Context, checkoutID, key string) (domain.CompletionResult, bool, error) {
	result, ok, err := l.records.Get(ctx, checkoutID, key)
	if err != nil {
		return domain.CompletionResult{}, false, fmt.Errorf("lookup idempotency record: %w", err)
	}
	return result, ok, nil
}

// Record stores the result for (checkoutID, key). First write wins:
// duplicate racing records are dropped by the store, so replays always
// see one canonical result.
func (l *Ledger) Record(ctx context.Context, checkoutID, key string, result domain.CompletionResult) error {
	if err := l.records.Put(ctx, checkoutID, key, result); err != nil {
		return fmt.Errorf("record idempotency result: %w", err)
	}
	return nil
}
