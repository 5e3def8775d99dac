package contracts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EventID    string         `json:"event_id"`
	CheckoutID string         `json:"checkout_id"`
	OrderID    string         `json:"order_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

const (
	EventInstrumentMinted   = "instrument.minted"
	EventInstrumentDeclined = "instrument.declined"
	EventCheckoutCompleted  = "checkout.completed"
)

// Publisher delivers contract events to downstream collaborators
// (order persistence, fulfillment, notifications). A failed publish
// never rolls back a completed checkout.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

func NewEvent(eventType, checkoutID, orderID string, payload map[string]any) Event {
	return Event{
		EventID:    uuid.NewString(),
		CheckoutID: checkoutID,
		OrderID:    orderID,
		CreatedAt:  time.Now().UTC(),
		Type:       eventType,
		Payload:    payload,
	}
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
