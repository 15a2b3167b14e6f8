// Package scanning reads a stored receipt with a vision model and suggests
// item fields for it. Suggestions are never written to a report; the
// client decides what to keep.
package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// ItemSuggestion holds the item fields read from a receipt. Fields the
// model could not find are left empty.
type ItemSuggestion struct {
	Vendor    string           `json:"vendor"`
	Date      string           `json:"expense_date"`
	Amount    decimal.Decimal  `json:"amount"`
	Currency  string           `json:"currency"`
	TaxAmount *decimal.Decimal `json:"tax_amount,omitempty"`
	Category  string           `json:"expense_category"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and suggests item fields
	ScanReceipt(ctx context.Context, data []byte, contentType string) (*ItemSuggestion, error)
	// Close closes the scanner and releases resources
	Close() error
}
