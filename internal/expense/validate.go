package expense

import (
	"fmt"
	"strings"
)

// Validate checks a single item. The returned error names fields relative
// to the item.
func (i Item) Validate() error {
	if strings.TrimSpace(i.Category) == "" {
		return invalid("expense_category", "expense category is required")
	}
	if strings.TrimSpace(i.Currency) == "" {
		return invalid("currency", "currency is required")
	}
	if i.Amount.IsNegative() {
		return invalid("amount", "amount cannot be negative")
	}
	if strings.TrimSpace(i.Date) == "" {
		return invalid("expense_date", "expense date is required")
	}
	if i.TaxAmount != nil && i.TaxAmount.IsNegative() {
		return invalid("tax_amount", "tax amount cannot be negative")
	}
	return nil
}

// Validate checks the whole report. It runs on every create and update.
func (r *ExpenseReport) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return invalid(fieldTitle, "expense title is required")
	}
	if strings.TrimSpace(r.ProjectKey) == "" {
		return invalid(fieldProjectKey, "project/cost center is required")
	}
	if r.Status != StatusDraft && len(r.Items) == 0 {
		return invalid(fieldItems, "at least one expense item is required")
	}
	for idx, item := range r.Items {
		if err := item.Validate(); err != nil {
			ve := err.(*ValidationError)
			return &ValidationError{
				Field:   fmt.Sprintf("items[%d].%s", idx, ve.Field),
				Message: ve.Message,
			}
		}
	}
	if r.TotalAmount.IsNegative() {
		return invalid("total_amount", "total amount cannot be negative")
	}
	return nil
}
