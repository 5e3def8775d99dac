package domain

import (
	"strings"

	"github.com/google/uuid"
)

func NewInstrumentID() string { return "inst_" + compactID() }

func NewOrderID() string { return "order_" + compactID() }

func NewTransactionID() string { return "txn_" + compactID() }

// NewOrderNumber returns the human-readable order reference
// (ORD- followed by a short uppercase suffix).
func NewOrderNumber() string {
	return "ORD-" + strings.ToUpper(compactID()[:10])
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
