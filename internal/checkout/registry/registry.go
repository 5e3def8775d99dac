// Package registry implements the payment instrument registry: minting
// against a payment handler and single-use consumption.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/handler"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/keylock"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
)

type Registry struct {
	instruments store.InstrumentStore
	handlers    *handler.Registry
	locks       *keylock.KeyLock
	now         func() time.Time
}

func New(instruments store.InstrumentStore, handlers *handler.Registry) *Registry {
	return &Registry{
		instruments: instruments,
		handlers:    handlers,
		locks:       keylock.New(),
		now:         time.Now,
	}
}

// Mint runs the handler-level pre-check and, only on acceptance,
// creates a minted instrument. A decline or timeout creates nothing.
func (r *Registry) Mint(ctx context.Context, handlerID string, amount int64, currency string, paymentData map[string]any) (domain.PaymentInstrument, error) {
	h, err := r.handlers.Get(handlerID)
	if err != nil {
		return domain.PaymentInstrument{}, err
	}
	if err := h.Validate(ctx, paymentData); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// A timed-out handler call is a decline: no instrument.
			return domain.PaymentInstrument{}, domain.NewError(domain.CodeHandlerDeclined, "payment handler timed out")
		}
		return domain.PaymentInstrument{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.PaymentInstrument{}, domain.NewError(domain.CodeHandlerDeclined, "payment handler timed out")
	}

	inst := domain.PaymentInstrument{
		ID:          domain.NewInstrumentID(),
		HandlerID:   handlerID,
		Amount:      amount,
		Currency:    currency,
		PaymentData: paymentData,
		Status:      domain.InstrumentMinted,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.instruments.Put(ctx, inst); err != nil {
		return domain.PaymentInstrument{}, fmt.Errorf("store instrument: %w", err)
	}
	return inst, nil
}

// Consume validates and atomically spends the instrument for the given
// checkout. The whole check-and-set runs under the per-instrument lock:
// of N concurrent calls only one can observe status minted.
func (r *Registry) Consume(ctx context.Context, instrumentID string, expectedAmount int64, expectedCurrency, checkoutID string) (domain.PaymentInstrument, error) {
	unlock := r.locks.Lock(instrumentID)
	defer unlock()

	inst, ok, err := r.instruments.Get(ctx, instrumentID)
	if err != nil {
		return domain.PaymentInstrument{}, fmt.Errorf("load instrument: %w", err)
	}
	if !ok {
		return domain.PaymentInstrument{}, domain.NewError(domain.CodeInstrumentNotFound, fmt.Sprintf("payment instrument %s not found", instrumentID))
	}
	if inst.Status == domain.InstrumentUsed {
		return domain.PaymentInstrument{}, domain.NewError(domain.CodeInstrumentAlreadyUsed, fmt.Sprintf("payment instrument %s was already used", instrumentID))
	}
	// Amount is checked before currency.
	if inst.Amount != expectedAmount {
		return domain.PaymentInstrument{}, domain.NewError(domain.CodeInvalidAmount,
			fmt.Sprintf("instrument amount %d does not match checkout total %d", inst.Amount, expectedAmount))
	}
	if inst.Currency != expectedCurrency {
		return domain.PaymentInstrument{}, domain.NewError(domain.CodeUnsupportedCurrency,
			fmt.Sprintf("instrument currency %s does not match checkout currency %s", inst.Currency, expectedCurrency))
	}

	used, ok, err := r.instruments.MarkUsed(ctx, instrumentID, checkoutID)
	if err != nil {
		return domain.PaymentInstrument{}, fmt.Errorf("consume instrument: %w", err)
	}
	if !ok {
		return domain.PaymentInstrument{}, domain.NewError(domain.CodeInstrumentAlreadyUsed, fmt.Sprintf("payment instrument %s was already used", instrumentID))
	}
	return used, nil
}
