package expense

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a report
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusSubmitted  Status = "SUBMITTED"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusReimbursed Status = "REIMBURSED"
)

// Statuses lists every lifecycle state in order
var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusReimbursed}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusReimbursed
}

// ReceiptRef points at an uploaded receipt file
type ReceiptRef struct {
	Key              string `json:"receipt_file"`
	OriginalFilename string `json:"original_filename,omitempty"`
}

// Item is a single line of an expense report. It has no identity of its own.
type Item struct {
	Category      string           `json:"expense_category"`
	Currency      string           `json:"currency"`
	Amount        decimal.Decimal  `json:"amount"`
	Date          string           `json:"expense_date"`
	Comment       string           `json:"comment"`
	Receipt       *ReceiptRef      `json:"receipt,omitempty"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
	Vendor        *string          `json:"vendor,omitempty"`
	Billable      bool             `json:"billable"`
	TaxAmount     *decimal.Decimal `json:"tax_amount,omitempty"`
}

// TotalWithTax returns the item amount plus its tax, if any
func (i Item) TotalWithTax() decimal.Decimal {
	if i.TaxAmount == nil {
		return i.Amount
	}
	return i.Amount.Add(*i.TaxAmount)
}

// ExpenseReport is an expense report grouping items under one title and project
type ExpenseReport struct {
	ID          string          `json:"id,omitempty"`
	Title       string          `json:"expense_title"`
	ProjectKey  string          `json:"project_cost_center"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalTax    decimal.Decimal `json:"total_tax"`
	Status      Status          `json:"status"`
	Notes       *string         `json:"notes,omitempty"`
	Department  *string         `json:"department,omitempty"`

	// CreatedBy is who drafted the report; Submit falls back to it
	CreatedBy *string `json:"created_by,omitempty"`

	// Lifecycle fields, written only by transitions
	SubmittedBy     *string    `json:"submitted_by,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	ReimbursedAt    *time.Time `json:"reimbursed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReport builds a draft report with computed totals
func NewReport(title, projectKey string, items []Item, now time.Time) *ExpenseReport {
	r := &ExpenseReport{
		Title:      title,
		ProjectKey: projectKey,
		Items:      items,
		Status:     StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if r.Items == nil {
		r.Items = []Item{}
	}
	r.RecomputeTotals()
	return r
}

// Clone returns a deep copy so merges never alias the stored record
func (r *ExpenseReport) Clone() *ExpenseReport {
	c := *r
	c.Items = make([]Item, len(r.Items))
	for i, item := range r.Items {
		c.Items[i] = item.clone()
	}
	c.Notes = cloneString(r.Notes)
	c.Department = cloneString(r.Department)
	c.CreatedBy = cloneString(r.CreatedBy)
	c.SubmittedBy = cloneString(r.SubmittedBy)
	c.ApprovedBy = cloneString(r.ApprovedBy)
	c.RejectionReason = cloneString(r.RejectionReason)
	c.SubmittedAt = cloneTime(r.SubmittedAt)
	c.ReviewedAt = cloneTime(r.ReviewedAt)
	c.ReimbursedAt = cloneTime(r.ReimbursedAt)
	return &c
}

func (i Item) clone() Item {
	c := i
	if i.Receipt != nil {
		ref := *i.Receipt
		c.Receipt = &ref
	}
	c.PaymentMethod = cloneString(i.PaymentMethod)
	c.Vendor = cloneString(i.Vendor)
	if i.TaxAmount != nil {
		tax := *i.TaxAmount
		c.TaxAmount = &tax
	}
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
