package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itayshmool/ucp-payments-go/internal/api"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/coordinator"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/handler"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/ledger"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/registry"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
)

func newTestRouter(t *testing.T, checkouts ...domain.CheckoutState) http.Handler {
	t.Helper()
	checkoutStore := store.NewMemoryCheckoutStore()
	for _, c := range checkouts {
		require.NoError(t, checkoutStore.Put(context.Background(), c))
	}
	reg := registry.New(store.NewMemoryInstrumentStore(), handler.NewRegistry(handler.NewSandboxHandler()))
	coord := coordinator.New(checkoutStore, reg, ledger.New(store.NewMemoryIdempotencyStore()), nil, nil)
	return api.NewRouter(&api.Handler{
		Coordinator: coord,
		Registry:    reg,
		Checkouts:   checkoutStore,
	})
}

func seededCheckout(id string, total int64, currency string) domain.CheckoutState {
	return domain.CheckoutState{
		ID:          id,
		Status:      domain.CheckoutCreated,
		LineItems:   []domain.LineItem{{ProductID: "sku-1", Quantity: 1, Price: total}},
		TotalAmount: total,
		Currency:    currency,
	}
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	decoded := map[string]any{}
	if res.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decoded))
	}
	return res, decoded
}

func mintInstrument(t *testing.T, router http.Handler, checkoutID string, amount int64, currency string) string {
	t.Helper()
	res, body := do(t, router, http.MethodPost, "/checkout/"+checkoutID+"/mint", map[string]any{
		"handlerId": handler.SandboxHandlerID,
		"amount":    amount,
		"currency":  currency,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	inst := body["instrument"].(map[string]any)
	return inst["id"].(string)
}

func TestMintAndComplete(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 20, "USD"))

	res, body := do(t, router, http.MethodPost, "/checkout/checkout-123/mint", map[string]any{
		"handlerId": "com.ucp.sandbox",
		"amount":    20,
		"currency":  "USD",
	})
	require.Equal(t, http.StatusCreated, res.Code)
	inst := body["instrument"].(map[string]any)
	assert.Equal(t, "minted", inst["status"])
	assert.Equal(t, "com.ucp.sandbox", inst["handlerId"])
	assert.Equal(t, float64(20), inst["amount"])
	assert.Equal(t, "USD", inst["currency"])

	res, body = do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{
		"instrumentId": inst["id"],
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, true, body["success"])

	order := body["order"].(map[string]any)
	assert.Equal(t, "APPROVED", order["status"])
	assert.Equal(t, "PAID", order["paymentStatus"])

	txn := body["transaction"].(map[string]any)
	assert.Equal(t, "completed", txn["status"])
	assert.Equal(t, inst["id"], txn["instrumentId"])
}

func TestMintDecline(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))

	res, body := do(t, router, http.MethodPost, "/checkout/checkout-123/mint", map[string]any{
		"handlerId":   "com.ucp.sandbox",
		"amount":      2000,
		"currency":    "USD",
		"paymentData": map[string]any{"cardNumber": "4000000000000002"},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "card declined", body["error"])
	assert.Nil(t, body["instrument"])

	// A fabricated id from the declined attempt resolves to nothing.
	res, body = do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{
		"instrumentId": "inst_fabricated",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "INSTRUMENT_NOT_FOUND", body["errorCode"])
}

func TestMintValidation(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing handler", map[string]any{"amount": 2000, "currency": "USD"}},
		{"zero amount", map[string]any{"handlerId": "com.ucp.sandbox", "amount": 0, "currency": "USD"}},
		{"missing currency", map[string]any{"handlerId": "com.ucp.sandbox", "amount": 2000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := do(t, router, http.MethodPost, "/checkout/checkout-123/mint", tc.body)
			assert.Equal(t, http.StatusBadRequest, res.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestMintUnknownCheckout(t *testing.T) {
	router := newTestRouter(t)

	res, body := do(t, router, http.MethodPost, "/checkout/checkout-missing/mint", map[string]any{
		"handlerId": "com.ucp.sandbox",
		"amount":    2000,
		"currency":  "USD",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, false, body["success"])
}

func TestCompleteMissingInstrumentID(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))

	res, body := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["errorCode"])

	details := body["details"].([]any)
	require.Len(t, details, 1)
	field := details[0].(map[string]any)
	assert.Equal(t, "instrumentId", field["field"])
}

func TestCompleteAmountMismatch(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 50, "USD"))
	instID := mintInstrument(t, router, "checkout-123", 25, "USD")

	res, body := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{
		"instrumentId": instID,
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "INVALID_AMOUNT", body["errorCode"])

	// The checkout stays open for a corrected retry.
	res, got := do(t, router, http.MethodGet, "/checkout/checkout-123", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "created", got["status"])
}

func TestCompleteAlreadyCompleted(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))
	first := mintInstrument(t, router, "checkout-123", 2000, "USD")

	res, _ := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{
		"instrumentId": first,
	})
	require.Equal(t, http.StatusOK, res.Code)

	second := mintInstrument(t, router, "checkout-123", 2000, "USD")
	res, body := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{
		"instrumentId": second,
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "CHECKOUT_ALREADY_COMPLETED", body["errorCode"])
}

func TestCompleteIdempotentReplay(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))
	instID := mintInstrument(t, router, "checkout-123", 2000, "USD")

	payload := map[string]any{
		"instrumentId":   instID,
		"idempotencyKey": "unique-key-12345",
	}
	res, first := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", payload)
	require.Equal(t, http.StatusOK, res.Code)

	res, second := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", payload)
	require.Equal(t, http.StatusOK, res.Code)

	firstOrder := first["order"].(map[string]any)
	secondOrder := second["order"].(map[string]any)
	assert.Equal(t, firstOrder["id"], secondOrder["id"])

	firstTxn := first["transaction"].(map[string]any)
	secondTxn := second["transaction"].(map[string]any)
	assert.Equal(t, firstTxn["id"], secondTxn["id"])
}

func TestCompleteIdempotencyKeyFromHeader(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))
	instID := mintInstrument(t, router, "checkout-123", 2000, "USD")

	send := func() map[string]any {
		data, err := json.Marshal(map[string]any{"instrumentId": instID})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/checkout/checkout-123/complete", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "header-key-1")
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code, res.Body.String())
		body := map[string]any{}
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
		return body
	}

	first := send()
	second := send()
	assert.Equal(t, first["order"].(map[string]any)["id"], second["order"].(map[string]any)["id"])
}

func TestPutStateAndGet(t *testing.T) {
	router := newTestRouter(t)

	res, body := do(t, router, http.MethodPut, "/checkout/checkout-9/state", map[string]any{
		"lineItems":   []map[string]any{{"productId": "sku-2", "quantity": 3, "price": 700}},
		"totalAmount": 2100,
		"currency":    "EUR",
	})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "created", body["status"])

	res, body = do(t, router, http.MethodGet, "/checkout/checkout-9", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(2100), body["totalAmount"])
	assert.Equal(t, "EUR", body["currency"])
}

func TestPutStateRejectsCompletedCheckout(t *testing.T) {
	router := newTestRouter(t, seededCheckout("checkout-123", 2000, "USD"))
	instID := mintInstrument(t, router, "checkout-123", 2000, "USD")

	res, _ := do(t, router, http.MethodPost, "/checkout/checkout-123/complete", map[string]any{
		"instrumentId": instID,
	})
	require.Equal(t, http.StatusOK, res.Code)

	res, body := do(t, router, http.MethodPut, "/checkout/checkout-123/state", map[string]any{
		"totalAmount": 9999,
		"currency":    "USD",
	})
	require.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "CHECKOUT_ALREADY_COMPLETED", body["errorCode"])
}

func TestGetCheckoutNotFound(t *testing.T) {
	router := newTestRouter(t)

	res, body := do(t, router, http.MethodGet, "/checkout/checkout-missing", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "CHECKOUT_NOT_FOUND", body["errorCode"])
}
