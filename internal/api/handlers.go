// Package api exposes the payment-instrument and checkout-completion
// HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/coordinator"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/registry"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
	"github.com/itayshmool/ucp-payments-go/pkg/contracts"
	"github.com/itayshmool/ucp-payments-go/pkg/idempotency"
	"github.com/itayshmool/ucp-payments-go/pkg/logging"
	"github.com/itayshmool/ucp-payments-go/pkg/metrics"
)

const defaultMintTimeout = 5 * time.Second

type Handler struct {
	Coordinator *coordinator.Coordinator
	Registry    *registry.Registry
	Checkouts   store.CheckoutStore
	Publisher   contracts.Publisher
	Metrics     *metrics.ServerMetrics
	MintTimeout time.Duration
}

type MintRequest struct {
	HandlerID   string         `json:"handlerId"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	PaymentData map[string]any `json:"paymentData,omitempty"`
}

type MintResponse struct {
	Instrument InstrumentView `json:"instrument"`
}

// InstrumentView is the wire shape of a minted instrument; payment data
// is never echoed back.
type InstrumentView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	HandlerID string `json:"handlerId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type CompleteRequest struct {
	InstrumentID    string          `json:"instrumentId"`
	BillingAddress  *domain.Address `json:"billingAddress,omitempty"`
	ShippingAddress *domain.Address `json:"shippingAddress,omitempty"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
}

type CompleteResponse struct {
	Success     bool               `json:"success"`
	Order       domain.Order       `json:"order"`
	Transaction domain.Transaction `json:"transaction"`
}

type ErrorResponse struct {
	Success   bool                `json:"success"`
	ErrorCode domain.ErrorCode    `json:"errorCode,omitempty"`
	Error     string              `json:"error,omitempty"`
	Details   []domain.FieldError `json:"details,omitempty"`
}

type StateRequest struct {
	LineItems   []domain.LineItem `json:"lineItems"`
	TotalAmount int64             `json:"totalAmount"`
	Currency    string            `json:"currency"`
}

func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checkoutID := r.PathValue("checkoutID")

	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMintError(w, start, "invalid json")
		return
	}
	if req.HandlerID == "" {
		h.writeMintError(w, start, "handlerId is required")
		return
	}
	if req.Amount <= 0 {
		h.writeMintError(w, start, "amount must be > 0")
		return
	}
	if req.Currency == "" {
		h.writeMintError(w, start, "currency is required")
		return
	}

	_, ok, err := h.Checkouts.Get(r.Context(), checkoutID)
	if err != nil {
		h.internalError(w, "mint", start, checkoutID, err)
		return
	}
	if !ok {
		h.writeMintError(w, start, "checkout "+checkoutID+" not found")
		return
	}

	timeout := h.MintTimeout
	if timeout == 0 {
		timeout = defaultMintTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	inst, err := h.Registry.Mint(ctx, req.HandlerID, req.Amount, req.Currency, req.PaymentData)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			h.publish(r.Context(), contracts.NewEvent(contracts.EventInstrumentDeclined, checkoutID, "", map[string]any{
				"handler_id": req.HandlerID,
				"reason":     derr.Message,
			}))
			logging.Log(logging.Fields{
				Service:    "checkout-service",
				CheckoutID: checkoutID,
				Step:       "mint",
				Status:     string(derr.Code),
				Message:    derr.Message,
				DurationMS: time.Since(start).Milliseconds(),
			})
			h.writeJSON(w, "mint", start, http.StatusBadRequest, ErrorResponse{Error: derr.Message})
			return
		}
		h.internalError(w, "mint", start, checkoutID, err)
		return
	}

	h.publish(r.Context(), contracts.NewEvent(contracts.EventInstrumentMinted, checkoutID, "", map[string]any{
		"instrument_id": inst.ID,
		"handler_id":    inst.HandlerID,
		"amount":        inst.Amount,
		"currency":      inst.Currency,
	}))
	logging.Log(logging.Fields{
		Service:      "checkout-service",
		CheckoutID:   checkoutID,
		InstrumentID: inst.ID,
		Step:         "mint",
		Status:       "minted",
		DurationMS:   time.Since(start).Milliseconds(),
	})
	h.writeJSON(w, "mint", start, http.StatusCreated, MintResponse{Instrument: InstrumentView{
		ID:        inst.ID,
		Status:    string(inst.Status),
		HandlerID: inst.HandlerID,
		Amount:    inst.Amount,
		Currency:  inst.Currency,
	}})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checkoutID := r.PathValue("checkoutID")

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, "complete", start, http.StatusBadRequest, ErrorResponse{
			ErrorCode: domain.CodeValidation,
			Error:     "invalid json",
		})
		return
	}
	if req.InstrumentID == "" {
		h.writeJSON(w, "complete", start, http.StatusBadRequest, ErrorResponse{
			ErrorCode: domain.CodeValidation,
			Error:     "instrumentId is required",
			Details:   []domain.FieldError{{Field: "instrumentId", Message: "instrumentId is required"}},
		})
		return
	}

	result, err := h.Coordinator.Complete(r.Context(), coordinator.CompleteRequest{
		CheckoutID:      checkoutID,
		InstrumentID:    req.InstrumentID,
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  idempotency.Key(r, req.IdempotencyKey),
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			h.writeJSON(w, "complete", start, http.StatusBadRequest, ErrorResponse{
				ErrorCode: derr.Code,
				Error:     derr.Message,
				Details:   derr.Fields,
			})
			return
		}
		h.internalError(w, "complete", start, checkoutID, err)
		return
	}

	h.writeJSON(w, "complete", start, http.StatusOK, CompleteResponse{
		Success:     true,
		Order:       result.Order,
		Transaction: result.Transaction,
	})
}

// PutState upserts the checkout snapshot supplied by the external cart
// collaborator. A completed checkout is immutable and cannot be
// overwritten.
func (h *Handler) PutState(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checkoutID := r.PathValue("checkoutID")

	var req StateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, "put_state", start, http.StatusBadRequest, ErrorResponse{ErrorCode: domain.CodeValidation, Error: "invalid json"})
		return
	}
	if req.TotalAmount < 0 {
		h.writeJSON(w, "put_state", start, http.StatusBadRequest, ErrorResponse{ErrorCode: domain.CodeValidation, Error: "totalAmount must be >= 0"})
		return
	}
	if req.Currency == "" {
		h.writeJSON(w, "put_state", start, http.StatusBadRequest, ErrorResponse{ErrorCode: domain.CodeValidation, Error: "currency is required"})
		return
	}

	state, err := h.Coordinator.PutState(r.Context(), domain.CheckoutState{
		ID:          checkoutID,
		LineItems:   req.LineItems,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Code == domain.CodeCheckoutAlreadyCompleted {
			h.writeJSON(w, "put_state", start, http.StatusConflict, ErrorResponse{
				ErrorCode: derr.Code,
				Error:     derr.Message,
			})
			return
		}
		h.internalError(w, "put_state", start, checkoutID, err)
		return
	}
	h.writeJSON(w, "put_state", start, http.StatusOK, state)
}

func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checkoutID := r.PathValue("checkoutID")

	state, ok, err := h.Checkouts.Get(r.Context(), checkoutID)
	if err != nil {
		h.internalError(w, "get_checkout", start, checkoutID, err)
		return
	}
	if !ok {
		h.writeJSON(w, "get_checkout", start, http.StatusNotFound, ErrorResponse{
			ErrorCode: domain.CodeCheckoutNotFound,
			Error:     "checkout " + checkoutID + " not found",
		})
		return
	}
	h.writeJSON(w, "get_checkout", start, http.StatusOK, state)
}

func (h *Handler) publish(ctx context.Context, event contracts.Event) {
	if h.Publisher == nil {
		return
	}
	if err := h.Publisher.Publish(ctx, event); err != nil {
		logging.Log(logging.Fields{
			Service:    "checkout-service",
			CheckoutID: event.CheckoutID,
			EventID:    event.EventID,
			Step:       "publish_event",
			Status:     "error",
			Message:    err.Error(),
		})
	}
}

func (h *Handler) writeMintError(w http.ResponseWriter, start time.Time, message string) {
	h.writeJSON(w, "mint", start, http.StatusBadRequest, ErrorResponse{Error: message})
}

func (h *Handler) internalError(w http.ResponseWriter, handler string, start time.Time, checkoutID string, err error) {
	logging.Log(logging.Fields{
		Service:    "checkout-service",
		CheckoutID: checkoutID,
		Step:       handler,
		Status:     "internal_error",
		Message:    err.Error(),
	})
	h.writeJSON(w, handler, start, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, handler string, start time.Time, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	if h.Metrics != nil {
		h.Metrics.Record(handler, code, start)
	}
}
