package expense

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/ingest"
)

// Multipart field names
const (
	formCategory      = "expenseCategory"
	formProject       = "projectCostCenter"
	formTitle         = "expenseTitle"
	formDate          = "expenseDate"
	formCurrency      = "currency"
	formAmount        = "amount"
	formComment       = "comment"
	formPaymentMethod = "paymentMethod"
	formVendor        = "vendor"
	formBillable      = "billable"
	formTaxAmount     = "taxAmount"
	formSubmittedBy   = "submittedBy"
	formNotes         = "notes"
	formDepartment    = "department"
	formItemIndex     = "itemIndex"
)

// itemFormFields are the fields that describe the single item a
// multipart request carries
var itemFormFields = []string{
	formCategory, formDate, formCurrency, formAmount, formComment,
	formPaymentMethod, formVendor, formBillable, formTaxAmount,
}

// CreateRequest is the input for creating a report
type CreateRequest struct {
	Title      string  `json:"expense_title"`
	ProjectKey string  `json:"project_cost_center"`
	Items      []Item  `json:"items"`
	Notes      *string `json:"notes,omitempty"`
	Department *string `json:"department,omitempty"`
	CreatedBy  *string `json:"created_by,omitempty"`
}

// formReader wraps a parsed form with typed accessors. Blank optional
// values count as absent.
type formReader struct {
	form *ingest.Form
}

func (f formReader) str(name string) *string {
	v, ok := f.form.Value(name)
	if !ok {
		return nil
	}
	return &v
}

func (f formReader) optional(name string) *string {
	v, ok := f.form.Value(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func (f formReader) decimal(name string) (*decimal.Decimal, error) {
	v := f.optional(name)
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*v))
	if err != nil {
		return nil, invalid(name, "%q is not a valid amount", *v)
	}
	return &d, nil
}

func (f formReader) bool(name string) (*bool, error) {
	v := f.optional(name)
	if v == nil {
		return nil, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(*v))
	if err != nil {
		return nil, invalid(name, "%q is not a boolean", *v)
	}
	return &b, nil
}

func (f formReader) int(name string) (*int, error) {
	v := f.optional(name)
	if v == nil {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*v))
	if err != nil {
		return nil, invalid(name, "%q is not an integer", *v)
	}
	return &n, nil
}

func (f formReader) hasItemFields() bool {
	if f.form.Receipt != nil {
		return true
	}
	for _, name := range itemFormFields {
		if _, ok := f.form.Value(name); ok {
			return true
		}
	}
	return false
}

func (f formReader) receiptRef() *ReceiptRef {
	if f.form.Receipt == nil {
		return nil
	}
	return &ReceiptRef{
		Key:              f.form.Receipt.Key,
		OriginalFilename: f.form.Receipt.OriginalFilename,
	}
}

// itemPatch reads the item fields of the form
func (f formReader) itemPatch() (*ItemPatch, error) {
	amount, err := f.decimal(formAmount)
	if err != nil {
		return nil, err
	}
	tax, err := f.decimal(formTaxAmount)
	if err != nil {
		return nil, err
	}
	billable, err := f.bool(formBillable)
	if err != nil {
		return nil, err
	}
	index, err := f.int(formItemIndex)
	if err != nil {
		return nil, err
	}

	return &ItemPatch{
		Index:         index,
		Category:      f.str(formCategory),
		Currency:      f.optional(formCurrency),
		Date:          f.str(formDate),
		Comment:       f.str(formComment),
		PaymentMethod: f.optional(formPaymentMethod),
		Vendor:        f.optional(formVendor),
		Amount:        amount,
		TaxAmount:     tax,
		Billable:      billable,
		Receipt:       f.receiptRef(),
	}, nil
}

// CreateRequestFromForm maps a multipart create onto a CreateRequest. The
// form describes at most one item; a form with no item fields creates an
// empty draft.
func CreateRequestFromForm(form *ingest.Form, defaultCurrency string) (CreateRequest, error) {
	f := formReader{form: form}

	req := CreateRequest{
		Title:      deref(f.str(formTitle)),
		ProjectKey: deref(f.str(formProject)),
		Notes:      f.optional(formNotes),
		Department: f.optional(formDepartment),
		CreatedBy:  f.optional(formSubmittedBy),
	}

	if !f.hasItemFields() {
		return req, nil
	}

	patch, err := f.itemPatch()
	if err != nil {
		return CreateRequest{}, err
	}
	if patch.Currency == nil {
		patch.Currency = &defaultCurrency
	}

	var item Item
	patch.apply(&item)
	req.Items = []Item{item}
	return req, nil
}

// UpdateRequestFromForm maps a multipart update onto an UpdateRequest.
// Item fields become a patch of the item at itemIndex.
func UpdateRequestFromForm(form *ingest.Form) (UpdateRequest, error) {
	f := formReader{form: form}

	req := UpdateRequest{
		Title:      f.str(formTitle),
		ProjectKey: f.str(formProject),
		Notes:      f.str(formNotes),
		Department: f.str(formDepartment),
		CreatedBy:  f.optional(formSubmittedBy),
	}

	if f.hasItemFields() {
		patch, err := f.itemPatch()
		if err != nil {
			return UpdateRequest{}, err
		}
		req.ItemPatch = patch
	} else if _, ok := form.Value(formItemIndex); ok {
		return UpdateRequest{}, invalid(formItemIndex, "itemIndex sent without any item fields")
	}

	return req, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
