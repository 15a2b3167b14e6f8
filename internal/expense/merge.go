package expense

import (
	"time"

	"github.com/shopspring/decimal"
)

// FieldSet maps top-level document fields to their new values. It is the
// unit of a partial write.
type FieldSet map[string]any

// Document field names. They match the ExpenseReport JSON tags.
const (
	fieldTitle           = "expense_title"
	fieldProjectKey      = "project_cost_center"
	fieldItems           = "items"
	fieldTotalAmount     = "total_amount"
	fieldTotalTax        = "total_tax"
	fieldStatus          = "status"
	fieldNotes           = "notes"
	fieldDepartment      = "department"
	fieldCreatedBy       = "created_by"
	fieldSubmittedBy     = "submitted_by"
	fieldSubmittedAt     = "submitted_at"
	fieldApprovedBy      = "approved_by"
	fieldReviewedAt      = "reviewed_at"
	fieldRejectionReason = "rejection_reason"
	fieldReimbursedAt    = "reimbursed_at"
	fieldUpdatedAt       = "updated_at"
)

// UpdateRequest carries only the fields a caller wants to change. A nil
// field means "leave as stored". Lifecycle fields have no place here.
type UpdateRequest struct {
	Title      *string `json:"expense_title,omitempty"`
	ProjectKey *string `json:"project_cost_center,omitempty"`
	Notes      *string `json:"notes,omitempty"`
	Department *string `json:"department,omitempty"`
	CreatedBy  *string `json:"created_by,omitempty"`

	// Items replaces the whole item list
	Items *[]Item `json:"items,omitempty"`

	// ItemPatch edits a single item in place
	ItemPatch *ItemPatch `json:"-"`
}

// Empty reports whether the request changes nothing
func (u UpdateRequest) Empty() bool {
	return u.Title == nil && u.ProjectKey == nil && u.Notes == nil &&
		u.Department == nil && u.CreatedBy == nil && u.Items == nil && u.ItemPatch == nil
}

// ItemPatch is a sparse edit of the item at Index (default 0). An Index
// equal to the item count appends a new item.
type ItemPatch struct {
	Index         *int
	Category      *string
	Currency      *string
	Date          *string
	Comment       *string
	PaymentMethod *string
	Vendor        *string
	Amount        *decimal.Decimal
	TaxAmount     *decimal.Decimal
	Billable      *bool
	Receipt       *ReceiptRef
}

func (p *ItemPatch) index() int {
	if p.Index == nil {
		return 0
	}
	return *p.Index
}

func (p *ItemPatch) apply(item *Item) {
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.Currency != nil {
		item.Currency = *p.Currency
	}
	if p.Date != nil {
		item.Date = *p.Date
	}
	if p.Comment != nil {
		item.Comment = *p.Comment
	}
	if p.PaymentMethod != nil {
		item.PaymentMethod = cloneString(p.PaymentMethod)
	}
	if p.Vendor != nil {
		item.Vendor = cloneString(p.Vendor)
	}
	if p.Amount != nil {
		item.Amount = *p.Amount
	}
	if p.TaxAmount != nil {
		tax := *p.TaxAmount
		item.TaxAmount = &tax
	}
	if p.Billable != nil {
		item.Billable = *p.Billable
	}
	if p.Receipt != nil {
		ref := *p.Receipt
		item.Receipt = &ref
	}
}

// Merge applies req to a copy of stored. It returns the merged report and
// the fields to write. stored is never modified. Nothing is returned for
// persistence unless the merged report validates.
func Merge(stored *ExpenseReport, req UpdateRequest, now time.Time) (*ExpenseReport, FieldSet, error) {
	if !stored.CanEdit() {
		return nil, nil, &ImmutableStateError{Status: stored.Status}
	}

	merged := stored.Clone()
	set := FieldSet{}

	if req.Title != nil {
		merged.Title = *req.Title
		set[fieldTitle] = merged.Title
	}
	if req.ProjectKey != nil {
		merged.ProjectKey = *req.ProjectKey
		set[fieldProjectKey] = merged.ProjectKey
	}
	if req.Notes != nil {
		merged.Notes = cloneString(req.Notes)
		set[fieldNotes] = merged.Notes
	}
	if req.Department != nil {
		merged.Department = cloneString(req.Department)
		set[fieldDepartment] = merged.Department
	}
	if req.CreatedBy != nil {
		merged.CreatedBy = cloneString(req.CreatedBy)
		set[fieldCreatedBy] = merged.CreatedBy
	}

	itemsTouched := false
	if req.Items != nil {
		items := make([]Item, len(*req.Items))
		for i, item := range *req.Items {
			items[i] = item.clone()
		}
		merged.Items = items
		itemsTouched = true
	}
	if req.ItemPatch != nil {
		idx := req.ItemPatch.index()
		switch {
		case idx < 0 || idx > len(merged.Items):
			return nil, nil, invalid("itemIndex", "item index %d out of range (report has %d items)", idx, len(merged.Items))
		case idx == len(merged.Items):
			var item Item
			req.ItemPatch.apply(&item)
			merged.Items = append(merged.Items, item)
		default:
			req.ItemPatch.apply(&merged.Items[idx])
		}
		itemsTouched = true
	}

	merged.RecomputeTotals()
	if itemsTouched {
		set[fieldItems] = merged.Items
	}
	set[fieldTotalAmount] = merged.TotalAmount
	set[fieldTotalTax] = merged.TotalTax

	merged.UpdatedAt = now
	set[fieldUpdatedAt] = now

	if err := merged.Validate(); err != nil {
		return nil, nil, err
	}

	return merged, set, nil
}
