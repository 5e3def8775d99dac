package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/ledger"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
)

func TestLookupMiss(t *testing.T) {
	l := ledger.New(store.NewMemoryIdempotencyStore())

	_, hit, err := l.Lookup(context.Background(), "checkout-1", "key-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRecordThenLookup(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMemoryIdempotencyStore())

	result := domain.CompletionResult{
		Order:       domain.Order{ID: "order_1", Number: "ORD-AB12CD34EF"},
		Transaction: domain.Transaction{ID: "txn_1"},
	}
	require.NoError(t, l.Record(ctx, "checkout-1", "key-1", result))

	got, hit, err := l.Lookup(ctx, "checkout-1", "key-1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, result, got)
}

func TestRecordFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMemoryIdempotencyStore())

	require.NoError(t, l.Record(ctx, "checkout-1", "key-1", domain.CompletionResult{Order: domain.Order{ID: "order_first"}}))
	require.NoError(t, l.Record(ctx, "checkout-1", "key-1", domain.CompletionResult{Order: domain.Order{ID: "order_second"}}))

	got, hit, err := l.Lookup(ctx, "checkout-1", "key-1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "order_first", got.Order.ID)
}
