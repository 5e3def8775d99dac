package coordinator

import (
	"time"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
)

// OrderFactory materializes the immutable Order/Transaction pair for a
// completed checkout. Line items and totals are copied from the
// checkout verbatim; addresses are attached only when supplied.
type OrderFactory struct {
	now func() time.Time
}

func NewOrderFactory() *OrderFactory {
	return &OrderFactory{now: time.Now}
}

func (f *OrderFactory) Build(checkout domain.CheckoutState, inst domain.PaymentInstrument, billing, shipping *domain.Address) (domain.Order, domain.Transaction) {
	createdAt := f.now().UTC()

	order := domain.Order{
		ID:            domain.NewOrderID(),
		Number:        domain.NewOrderNumber(),
		Status:        domain.OrderStatusApproved,
		PaymentStatus: domain.PaymentStatusPaid,
		Items:         append([]domain.LineItem(nil), checkout.LineItems...),
		Totals: domain.OrderTotals{
			Subtotal: checkout.TotalAmount,
			Total:    checkout.TotalAmount,
			Currency: checkout.Currency,
		},
		BillingAddress:  billing,
		ShippingAddress: shipping,
		CreatedAt:       createdAt,
	}

	txn := domain.Transaction{
		ID:           domain.NewTransactionID(),
		InstrumentID: inst.ID,
		Amount:       inst.Amount,
		Currency:     inst.Currency,
		Status:       domain.TransactionCompleted,
		ProcessedAt:  createdAt,
	}

	return order, txn
}
