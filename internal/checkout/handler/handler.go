// Package handler hosts the payment-method validators addressed by
// handlerId at mint time. A handler either accepts the payment data or
// declines the mint; a declined mint never creates an instrument.
package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
)

// Handler validates handler-specific payment data before an instrument
// is created. A decline is returned as a domain error with code
// HANDLER_DECLINED, not as an internal fault. Validate must honor ctx:
// the mint deadline is carried in it, and a handler that exceeds it
// returns the context error.
type Handler interface {
	ID() string
	Validate(ctx context.Context, paymentData map[string]any) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ID()] = h
}

func (r *Registry) Get(handlerID string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerID]
	if !ok {
		return nil, domain.NewError(domain.CodeHandlerNotFound, fmt.Sprintf("unknown payment handler %q", handlerID))
	}
	return h, nil
}

const SandboxHandlerID = "com.ucp.sandbox"

// DefaultDeclineCard is the sandbox card number that simulates an
// issuer decline.
const DefaultDeclineCard = "4000000000000002"

// SandboxHandler is the test payment handler. It accepts everything
// except payment data carrying one of the configured decline card
// numbers.
type SandboxHandler struct {
	HandlerID    string
	DeclineCards []string
}

func NewSandboxHandler() *SandboxHandler {
	return &SandboxHandler{
		HandlerID:    SandboxHandlerID,
		DeclineCards: []string{DefaultDeclineCard},
	}
}

func (h *SandboxHandler) ID() string {
	if h.HandlerID == "" {
		return SandboxHandlerID
	}
	return h.HandlerID
}

func (h *SandboxHandler) Validate(ctx context.Context, paymentData map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	card, _ := paymentData["cardNumber"].(string)
	if card == "" {
		return nil
	}
	for _, declined := range h.DeclineCards {
		if card == declined {
			return domain.NewError(domain.CodeHandlerDeclined, "card declined")
		}
	}
	return nil
}
