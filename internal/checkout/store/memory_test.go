package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
)

func TestCheckoutStoreSetStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryCheckoutStore()

	require.NoError(t, s.Put(ctx, domain.CheckoutState{
		ID:          "checkout-1",
		Status:      domain.CheckoutCreated,
		TotalAmount: 2000,
		Currency:    "USD",
	}))

	moved, err := s.SetStatus(ctx, "checkout-1", domain.CheckoutCreated, domain.CheckoutCompleted)
	require.NoError(t, err)
	assert.True(t, moved)

	// Second transition must fail the compare.
	moved, err = s.SetStatus(ctx, "checkout-1", domain.CheckoutCreated, domain.CheckoutCompleted)
	require.NoError(t, err)
	assert.False(t, moved)

	state, ok, err := s.Get(ctx, "checkout-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.CheckoutCompleted, state.Status)
}

func TestCheckoutStoreSetStatusMissing(t *testing.T) {
	s := store.NewMemoryCheckoutStore()
	moved, err := s.SetStatus(context.Background(), "nope", domain.CheckoutCreated, domain.CheckoutCompleted)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestCheckoutStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryCheckoutStore()

	require.NoError(t, s.Put(ctx, domain.CheckoutState{
		ID:        "checkout-1",
		Status:    domain.CheckoutCreated,
		LineItems: []domain.LineItem{{ProductID: "sku-1", Quantity: 1, Price: 2000}},
	}))

	state, _, err := s.Get(ctx, "checkout-1")
	require.NoError(t, err)
	state.LineItems[0].ProductID = "mutated"

	again, _, err := s.Get(ctx, "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, "sku-1", again.LineItems[0].ProductID)
}

func TestInstrumentStoreMarkUsed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryInstrumentStore()

	require.NoError(t, s.Put(ctx, domain.PaymentInstrument{
		ID:     "inst_1",
		Status: domain.InstrumentMinted,
	}))

	inst, ok, err := s.MarkUsed(ctx, "inst_1", "checkout-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.InstrumentUsed, inst.Status)
	assert.Equal(t, "checkout-1", inst.CheckoutID)

	// Terminal: a second consume attempt fails.
	_, ok, err = s.MarkUsed(ctx, "inst_1", "checkout-2")
	require.NoError(t, err)
	assert.False(t, ok)

	inst, _, err = s.Get(ctx, "inst_1")
	require.NoError(t, err)
	assert.Equal(t, "checkout-1", inst.CheckoutID)
}

func TestInstrumentStoreMarkUsedMissing(t *testing.T) {
	s := store.NewMemoryInstrumentStore()
	_, ok, err := s.MarkUsed(context.Background(), "nope", "checkout-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStoreFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryIdempotencyStore()

	first := domain.CompletionResult{Order: domain.Order{ID: "order_a"}}
	second := domain.CompletionResult{Order: domain.Order{ID: "order_b"}}

	require.NoError(t, s.Put(ctx, "checkout-1", "key-1", first))
	require.NoError(t, s.Put(ctx, "checkout-1", "key-1", second))

	got, ok, err := s.Get(ctx, "checkout-1", "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "order_a", got.Order.ID)
}

func TestIdempotencyStoreScopedByCheckout(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryIdempotencyStore()

	require.NoError(t, s.Put(ctx, "checkout-1", "key-1", domain.CompletionResult{Order: domain.Order{ID: "order_a"}}))

	_, ok, err := s.Get(ctx, "checkout-2", "key-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckoutStorePutRefusesCompleted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryCheckoutStore()

	require.NoError(t, s.Put(ctx, domain.CheckoutState{ID: "checkout-1", Status: domain.CheckoutCreated, TotalAmount: 2000, Currency: "USD"}))
	moved, err := s.SetStatus(ctx, "checkout-1", domain.CheckoutCreated, domain.CheckoutCompleted)
	require.NoError(t, err)
	require.True(t, moved)

	err = s.Put(ctx, domain.CheckoutState{ID: "checkout-1", Status: domain.CheckoutCreated, TotalAmount: 9999, Currency: "USD"})
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.CodeCheckoutAlreadyCompleted, derr.Code)

	state, _, err := s.Get(ctx, "checkout-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCompleted, state.Status)
	assert.Equal(t, int64(2000), state.TotalAmount)
}

func TestInstrumentStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryInstrumentStore()

	require.NoError(t, s.Put(ctx, domain.PaymentInstrument{
		ID:          "inst_1",
		Status:      domain.InstrumentMinted,
		PaymentData: map[string]any{"cardNumber": "4111111111111111"},
	}))

	inst, _, err := s.Get(ctx, "inst_1")
	require.NoError(t, err)
	inst.PaymentData["cardNumber"] = "mutated"

	again, _, err := s.Get(ctx, "inst_1")
	require.NoError(t, err)
	assert.Equal(t, "4111111111111111", again.PaymentData["cardNumber"])
}
