package store

import (
	"context"
	"sync"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
)

// MemoryCheckoutStore holds checkout snapshots in a mutex-guarded map.
// It is the default backing store when no DATABASE_URL is configured
// and the fixture-injection point for tests.
type MemoryCheckoutStore struct {
	mu    sync.Mutex
	items map[string]domain.CheckoutState
}

func NewMemoryCheckoutStore() *MemoryCheckoutStore {
	return &MemoryCheckoutStore{items: make(map[string]domain.CheckoutState)}
}

func (s *MemoryCheckoutStore) Get(_ context.Context, id string) (domain.CheckoutState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.items[id]
	if !ok {
		return domain.CheckoutState{}, false, nil
	}
	return cloneCheckout(state), true, nil
}

func (s *MemoryCheckoutStore) Put(_ context.Context, state domain.CheckoutState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[state.ID]; ok && existing.Status == domain.CheckoutCompleted {
		return domain.NewError(domain.CodeCheckoutAlreadyCompleted, "checkout "+state.ID+" was already completed")
	}
	s.items[state.ID] = cloneCheckout(state)
	return nil
}

func (s *MemoryCheckoutStore) SetStatus(_ context.Context, id string, from, to domain.CheckoutStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.items[id]
	if !ok || state.Status != from {
		return false, nil
	}
	state.Status = to
	s.items[id] = state
	return true, nil
}

type MemoryInstrumentStore struct {
	mu    sync.Mutex
	items map[string]domain.PaymentInstrument
}

func NewMemoryInstrumentStore() *MemoryInstrumentStore {
	return &MemoryInstrumentStore{items: make(map[string]domain.PaymentInstrument)}
}

func (s *MemoryInstrumentStore) Get(_ context.Context, id string) (domain.PaymentInstrument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.items[id]
	if !ok {
		return domain.PaymentInstrument{}, false, nil
	}
	return cloneInstrument(inst), true, nil
}

func (s *MemoryInstrumentStore) Put(_ context.Context, inst domain.PaymentInstrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[inst.ID] = cloneInstrument(inst)
	return nil
}

func (s *MemoryInstrumentStore) MarkUsed(_ context.Context, id, checkoutID string) (domain.PaymentInstrument, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.items[id]
	if !ok || inst.Status != domain.InstrumentMinted {
		return domain.PaymentInstrument{}, false, nil
	}
	inst.Status = domain.InstrumentUsed
	inst.CheckoutID = checkoutID
	s.items[id] = inst
	return cloneInstrument(inst), true, nil
}

type idemKey struct {
	checkoutID string
	key        string
}

type MemoryIdempotencyStore struct {
	mu    sync.Mutex
	items map[idemKey]domain.CompletionResult
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{items: make(map[idemKey]domain.CompletionResult)}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, checkoutID, key string) (domain.CompletionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.items[idemKey{checkoutID, key}]
	return result, ok, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, checkoutID, key string, result domain.CompletionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{checkoutID, key}
	if _, exists := s.items[k]; exists {
		return nil
	}
	s.items[k] = result
	return nil
}

func cloneCheckout(state domain.CheckoutState) domain.CheckoutState {
	out := state
	out.LineItems = append([]domain.LineItem(nil), state.LineItems...)
	return out
}

func cloneInstrument(inst domain.PaymentInstrument) domain.PaymentInstrument {
	out := inst
	if inst.PaymentData != nil {
		out.PaymentData = make(map[string]any, len(inst.PaymentData))
		for k, v := range inst.PaymentData {
			out.PaymentData[k] = v
		}
	}
	return out
}
