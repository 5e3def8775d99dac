package domain

import "time"

type CheckoutStatus string

const (
	CheckoutCreated   CheckoutStatus = "created"
	CheckoutCompleted CheckoutStatus = "completed"
)

type InstrumentStatus string

const (
	InstrumentMinted InstrumentStatus = "minted"
	InstrumentUsed   InstrumentStatus = "used"
)

const (
	OrderStatusApproved  = "APPROVED"
	PaymentStatusPaid    = "PAID"
	TransactionCompleted = "completed"
)

type LineItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int32  `json:"quantity"`
	Price     int64  `json:"price"` // minor units
}

type Address struct {
	Name    string `json:"name,omitempty"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	Region  string `json:"region,omitempty"`
	Postal  string `json:"postal,omitempty"`
	Country string `json:"country"`
}

// CheckoutState is the priced snapshot supplied by the external cart
// collaborator. Only the coordinator may move status to completed.
type CheckoutState struct {
	ID          string         `json:"id"`
	Status      CheckoutStatus `json:"status"`
	LineItems   []LineItem     `json:"lineItems"`
	TotalAmount int64          `json:"totalAmount"` // minor units
	Currency    string         `json:"currency"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// PaymentInstrument is a single-use authorization to pay TotalAmount
// in Currency. Status moves minted -> used exactly once; CheckoutID is
// set atomically with that transition.
type PaymentInstrument struct {
	ID          string           `json:"id"`
	HandlerID   string           `json:"handlerId"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	PaymentData map[string]any   `json:"paymentData,omitempty"`
	Status      InstrumentStatus `json:"status"`
	CheckoutID  string           `json:"checkoutId,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type OrderTotals struct {
	Subtotal int64  `json:"subtotal"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type Order struct {
	ID              string      `json:"id"`
	Number          string      `json:"number"`
	Status          string      `json:"status"`
	PaymentStatus   string      `json:"paymentStatus"`
	Items           []LineItem  `json:"items"`
	Totals          OrderTotals `json:"totals"`
	BillingAddress  *Address    `json:"billingAddress,omitempty"`
	ShippingAddress *Address    `json:"shippingAddress,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type Transaction struct {
	ID           string    `json:"id"`
	InstrumentID string    `json:"instrumentId"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// CompletionResult is what a successful complete call returns and what
// the idempotency ledger caches for replay.
type CompletionResult struct {
	Order       Order       `json:"order"`
	Transaction Transaction `json:"transaction"`
}
