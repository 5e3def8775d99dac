// Package coordinator orchestrates checkout completion: idempotency
// lookup, instrument consumption, order materialization and the
// created -> completed checkout transition, all under a per-checkout
// critical section.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/keylock"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/ledger"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/registry"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/store"
	"github.com/itayshmool/ucp-payments-go/pkg/contracts"
	"github.com/itayshmool/ucp-payments-go/pkg/logging"
)

type Coordinator struct {
	checkouts   store.CheckoutStore
	instruments *registry.Registry
	ledger      *ledger.Ledger
	factory     *OrderFactory
	locks       *keylock.KeyLock
	publisher   contracts.Publisher
	tx          store.TxRunner
}

func New(checkouts store.CheckoutStore, instruments *registry.Registry, records *ledger.Ledger, publisher contracts.Publisher, tx store.TxRunner) *Coordinator {
	if publisher == nil {
		publisher = contracts.NopPublisher{}
	}
	if tx == nil {
		tx = store.NopTxRunner{}
	}
	return &Coordinator{
		checkouts:   checkouts,
		instruments: instruments,
		ledger:      records,
		factory:     NewOrderFactory(),
		locks:       keylock.New(),
		publisher:   publisher,
		tx:          tx,
	}
}

type CompleteRequest struct {
	CheckoutID      string
	InstrumentID    string
	BillingAddress  *domain.Address
	ShippingAddress *domain.Address
	IdempotencyKey  string
}

// Complete turns a priced checkout into exactly one order. The whole
// body runs under the checkout lock; the instrument lock is taken
// inside Consume, so the global lock order is checkout before
// instrument. A failed call leaves both the checkout and the
// instrument untouched.
func (c *Coordinator) Complete(ctx context.Context, req CompleteRequest) (domain.CompletionResult, error) {
	unlock := c.locks.Lock(req.CheckoutID)
	defer unlock()

	checkout, ok, err := c.checkouts.Get(ctx, req.CheckoutID)
	if err != nil {
		return domain.CompletionResult{}, fmt.Errorf("load checkout: %w", err)
	}
	if !ok {
		return domain.CompletionResult{}, domain.NewError(domain.CodeCheckoutNotFound, fmt.Sprintf("checkout %s not found", req.CheckoutID))
	}

	if req.IdempotencyKey != "" {
		cached, hit, err := c.ledger.Lookup(ctx, req.CheckoutID, req.IdempotencyKey)
		if err != nil {
			return domain.CompletionResult{}, err
		}
		if hit {
			logging.Log(logging.Fields{
				Service:    "checkout-service",
				CheckoutID: req.CheckoutID,
				OrderID:    cached.Order.ID,
				Step:       "complete",
				Status:     "idempotent_replay",
			})
			return cached, nil
		}
	}

	if checkout.Status == domain.CheckoutCompleted {
		return domain.CompletionResult{}, domain.NewError(domain.CodeCheckoutAlreadyCompleted, fmt.Sprintf("checkout %s was already completed", req.CheckoutID))
	}

	// Consuming the instrument, completing the checkout and recording
	// the idempotency result commit or roll back as one unit on the
	// durable path.
	var (
		inst  domain.PaymentInstrument
		order domain.Order
		txn   domain.Transaction
	)
	err = c.tx.InTx(ctx, func(ctx context.Context) error {
		inst, err = c.instruments.Consume(ctx, req.InstrumentID, checkout.TotalAmount, checkout.Currency, req.CheckoutID)
		if err != nil {
			return err
		}

		order, txn = c.factory.Build(checkout, inst, req.BillingAddress, req.ShippingAddress)

		moved, err := c.checkouts.SetStatus(ctx, req.CheckoutID, domain.CheckoutCreated, domain.CheckoutCompleted)
		if err != nil {
			return fmt.Errorf("complete checkout: %w", err)
		}
		if !moved {
			// Unreachable under the lock discipline; treated as an
			// internal fault rather than a client error.
			return fmt.Errorf("checkout %s changed state during completion", req.CheckoutID)
		}

		if req.IdempotencyKey != "" {
			return c.ledger.Record(ctx, req.CheckoutID, req.IdempotencyKey, domain.CompletionResult{Order: order, Transaction: txn})
		}
		return nil
	})
	if err != nil {
		return domain.CompletionResult{}, err
	}

	result := domain.CompletionResult{Order: order, Transaction: txn}

	if err := c.publisher.Publish(ctx, contracts.NewEvent(contracts.EventCheckoutCompleted, req.CheckoutID, order.ID, map[string]any{
		"order_number":   order.Number,
		"transaction_id": txn.ID,
		"instrument_id":  inst.ID,
		"total":          checkout.TotalAmount,
		"currency":       checkout.Currency,
	})); err != nil {
		logging.Log(logging.Fields{
			Service:    "checkout-service",
			CheckoutID: req.CheckoutID,
			OrderID:    order.ID,
			Step:       "publish_completed_event",
			Status:     "error",
			Message:    err.Error(),
		})
	}

	logging.Log(logging.Fields{
		Service:      "checkout-service",
		CheckoutID:   req.CheckoutID,
		InstrumentID: inst.ID,
		OrderID:      order.ID,
		Step:         "complete",
		Status:       "completed",
	})
	return result, nil
}

// PutState ingests a checkout snapshot from the cart collaborator. It
// runs under the same per-checkout lock as Complete, so a snapshot
// whose read raced a completion can never land afterward and reopen
// the checkout. A completed checkout is immutable.
func (c *Coordinator) PutState(ctx context.Context, state domain.CheckoutState) (domain.CheckoutState, error) {
	unlock := c.locks.Lock(state.ID)
	defer unlock()

	existing, ok, err := c.checkouts.Get(ctx, state.ID)
	if err != nil {
		return domain.CheckoutState{}, fmt.Errorf("load checkout: %w", err)
	}
	if ok && existing.Status == domain.CheckoutCompleted {
		return domain.CheckoutState{}, domain.NewError(domain.CodeCheckoutAlreadyCompleted, fmt.Sprintf("checkout %s was already completed", state.ID))
	}

	state.Status = domain.CheckoutCreated
	if ok {
		state.CreatedAt = existing.CreatedAt
	} else if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
	if err := c.checkouts.Put(ctx, state); err != nil {
		return domain.CheckoutState{}, err
	}
	return state, nil
}
