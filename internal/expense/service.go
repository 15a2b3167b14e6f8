package expense

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/events"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/ingest"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/receipt"
	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/scanning"
)

// DefaultCurrency is used for form items that do not name a currency
const DefaultCurrency = "INR"

// ErrScanningDisabled is returned by ScanReceipt when no scanner is configured
var ErrScanningDisabled = errors.New("receipt scanning is not configured")

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service handles expense report operations
type Service struct {
	db              DB
	store           receipt.Store
	scanner         scanning.Scanner
	publisher       events.Publisher
	timeSource      TimeSource
	defaultCurrency string
}

// NewService creates a new Service with the system clock. scanner may be
// nil, which disables receipt scanning.
func NewService(db DB, store receipt.Store, scanner scanning.Scanner, publisher events.Publisher, defaultCurrency string) *Service {
	return NewServiceWithDeps(db, store, scanner, publisher, defaultCurrency, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, store receipt.Store, scanner scanning.Scanner, publisher events.Publisher, defaultCurrency string, timeSrc TimeSource) *Service {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	if defaultCurrency == "" {
		defaultCurrency = DefaultCurrency
	}
	return &Service{
		db:              db,
		store:           store,
		scanner:         scanner,
		publisher:       publisher,
		timeSource:      timeSrc,
		defaultCurrency: defaultCurrency,
	}
}

// CreateExpense validates and stores a new draft report. Receipts are
// attached by uploading them with CreateFromForm; an item here may not
// reference one.
func (s *Service) CreateExpense(ctx context.Context, req CreateRequest) (*ExpenseReport, error) {
	return s.create(ctx, req, ownedReceipts(nil, nil))
}

func (s *Service) create(ctx context.Context, req CreateRequest, owned map[string]bool) (*ExpenseReport, error) {
	if err := checkReceiptRefs(req.Items, owned); err != nil {
		return nil, err
	}
	now := s.timeSource.Now()

	items := make([]Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = item.clone()
		if strings.TrimSpace(items[i].Currency) == "" {
			items[i].Currency = s.defaultCurrency
		}
	}

	r := NewReport(req.Title, req.ProjectKey, items, now)
	r.Notes = cloneString(req.Notes)
	r.Department = cloneString(req.Department)
	r.CreatedBy = cloneString(req.CreatedBy)

	if err := r.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.db.InsertReport(r)
	if err != nil {
		return nil, storageErr("saving expense", err)
	}

	s.publish(ctx, events.ExpenseCreated, stored, deref(stored.CreatedBy))
	return stored, nil
}

// CreateFromForm creates a report from a parsed multipart form. Receipts
// stored by the form are removed again if the create fails.
func (s *Service) CreateFromForm(ctx context.Context, form *ingest.Form) (*ExpenseReport, error) {
	s.discardSuperseded(ctx, form)

	req, err := CreateRequestFromForm(form, s.defaultCurrency)
	if err == nil {
		var r *ExpenseReport
		r, err = s.create(ctx, req, ownedReceipts(nil, form))
		if err == nil {
			return r, nil
		}
	}

	s.removeUpload(ctx, form)
	return nil, err
}

// GetExpense retrieves a report by ID
func (s *Service) GetExpense(ctx context.Context, id string) (*ExpenseReport, error) {
	r, err := s.db.GetReport(id)
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, storageErr("getting expense", err)
	}
	return r, nil
}

// ListResult is one page of reports
type ListResult struct {
	Expenses []*ExpenseReport `json:"expenses"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// ListExpenses returns the matching reports, newest first
func (s *Service) ListExpenses(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, f.Start.Format(time.RFC3339), f.End.Format(time.RFC3339))
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", "unknown status %q", string(f.Status))
	}
	if f.Page < 1 {
		f.Page = 1
	}

	reports, total, err := s.db.ListReports(f)
	if err != nil {
		return nil, storageErr("listing expenses", err)
	}
	return &ListResult{Expenses: reports, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// UpdateExpense merges a partial update into a draft report and writes the
// changed fields once. Items may keep the report's own receipts but not
// reference any other.
func (s *Service) UpdateExpense(ctx context.Context, id string, req UpdateRequest) (*ExpenseReport, error) {
	return s.update(ctx, id, req, nil)
}

func (s *Service) update(ctx context.Context, id string, req UpdateRequest, form *ingest.Form) (*ExpenseReport, error) {
	stored, err := s.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}

	owned := ownedReceipts(stored, form)
	if req.Items != nil {
		if err := checkReceiptRefs(*req.Items, owned); err != nil {
			return nil, err
		}
	}
	if p := req.ItemPatch; p != nil && p.Receipt != nil && !owned[p.Receipt.Key] {
		return nil, invalid("receipt", "receipt %q does not belong to this expense", p.Receipt.Key)
	}

	if req.Items != nil {
		items := make([]Item, len(*req.Items))
		for i, item := range *req.Items {
			items[i] = item.clone()
			if strings.TrimSpace(items[i].Currency) == "" {
				items[i].Currency = s.defaultCurrency
			}
		}
		req.Items = &items
	}

	merged, set, err := Merge(stored, req, s.timeSource.Now())
	if err != nil {
		return nil, err
	}

	updated, err := s.db.UpdateFields(id, stored.Status, set)
	if err != nil {
		var conflict *StatusConflictError
		switch {
		case errors.As(err, &conflict):
			return nil, &ImmutableStateError{Status: conflict.Actual}
		case isNotFound(err):
			return nil, err
		}
		return nil, storageErr("updating expense", err)
	}

	s.publish(ctx, events.ExpenseUpdated, merged, "")
	return updated, nil
}

// UpdateFromForm applies a multipart update. Receipts stored by the form
// are removed again if the update fails.
func (s *Service) UpdateFromForm(ctx context.Context, id string, form *ingest.Form) (*ExpenseReport, error) {
	s.discardSuperseded(ctx, form)

	req, err := UpdateRequestFromForm(form)
	if err == nil {
		var r *ExpenseReport
		r, err = s.update(ctx, id, req, form)
		if err == nil {
			return r, nil
		}
	}

	s.removeUpload(ctx, form)
	return nil, err
}

// DeleteResult reports the outcome of a delete
type DeleteResult struct {
	Deleted bool `json:"deleted"`

	// ReceiptErrors lists receipt keys that could not be removed
	ReceiptErrors []string `json:"receipt_errors,omitempty"`
}

// DeleteExpense removes a report and, best-effort, every receipt only it
// references. A receipt that cannot be removed does not block the delete.
func (s *Service) DeleteExpense(ctx context.Context, id string) (*DeleteResult, error) {
	r, err := s.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &DeleteResult{}
	for _, key := range s.exclusiveReceipts(r) {
		if err := s.store.Remove(ctx, key); err != nil {
			slog.Warn("Failed to delete receipt file", "expense_id", id, "key", key, "error", err)
			result.ReceiptErrors = append(result.ReceiptErrors, key)
		}
	}

	deleted, err := s.db.DeleteReport(id)
	if err != nil {
		return nil, storageErr("deleting expense", err)
	}
	if !deleted {
		return nil, fmt.Errorf("%w: expense %s", ErrNotFound, id)
	}
	result.Deleted = true

	s.publish(ctx, events.ExpenseDeleted, r, "")
	return result, nil
}

// exclusiveReceipts returns the receipt keys of r that no other report
// references. When the other reports cannot be read nothing is returned and
// the orphan sweep reclaims the files later.
func (s *Service) exclusiveReceipts(r *ExpenseReport) []string {
	keys := r.ReceiptKeys()
	if len(keys) == 0 {
		return nil
	}

	reports, _, err := s.db.ListReports(ListFilter{})
	if err != nil {
		slog.Warn("Failed to check for shared receipts, leaving them to the sweep", "expense_id", r.ID, "error", err)
		return nil
	}
	shared := make(map[string]bool)
	for _, other := range reports {
		if other.ID == r.ID {
			continue
		}
		for _, key := range other.ReceiptKeys() {
			shared[key] = true
		}
	}

	var exclusive []string
	seen := make(map[string]bool)
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if shared[key] {
			slog.Warn("Keeping receipt referenced by another expense", "expense_id", r.ID, "key", key)
			continue
		}
		exclusive = append(exclusive, key)
	}
	return exclusive
}

// ownedReceipts returns the receipt keys a write may reference: those
// already on the stored report and the one uploaded with the form
func ownedReceipts(stored *ExpenseReport, form *ingest.Form) map[string]bool {
	owned := make(map[string]bool)
	if stored != nil {
		for _, key := range stored.ReceiptKeys() {
			owned[key] = true
		}
	}
	if form != nil && form.Receipt != nil {
		owned[form.Receipt.Key] = true
	}
	return owned
}

// checkReceiptRefs rejects an item whose receipt is not owned
func checkReceiptRefs(items []Item, owned map[string]bool) error {
	for i, item := range items {
		if item.Receipt != nil && !owned[item.Receipt.Key] {
			return invalid(fmt.Sprintf("items[%d].receipt", i), "receipt %q does not belong to this expense", item.Receipt.Key)
		}
	}
	return nil
}

// Receipt is an open receipt file. The caller closes Body.
type Receipt struct {
	Key         string
	ContentType string
	Body        io.ReadCloser
}

// GetReceipt opens a stored receipt
func (s *Service) GetReceipt(ctx context.Context, key string) (*Receipt, error) {
	body, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, key)
		}
		return nil, storageErr("opening receipt", err)
	}
	return &Receipt{Key: key, ContentType: receipt.ContentTypeFor(key), Body: body}, nil
}

// SummaryFilter narrows the overall statistics
type SummaryFilter struct {
	Project string
	Start   *time.Time
	End     *time.Time
}

// Summary computes statistics across all matching reports
func (s *Service) Summary(ctx context.Context, f SummaryFilter) (*Summary, error) {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, f.Start.Format(time.RFC3339), f.End.Format(time.RFC3339))
	}

	reports, _, err := s.db.ListReports(ListFilter{Project: f.Project, Start: f.Start, End: f.End})
	if err != nil {
		return nil, storageErr("listing expenses", err)
	}
	summary := Summarize(reports)
	return &summary, nil
}

// ProjectStats computes statistics for one project key
func (s *Service) ProjectStats(ctx context.Context, project string) (*ProjectStats, error) {
	if strings.TrimSpace(project) == "" {
		return nil, invalid("project", "project is required")
	}

	reports, _, err := s.db.ListReports(ListFilter{Project: project})
	if err != nil {
		return nil, storageErr("listing expenses", err)
	}
	return &ProjectStats{Project: project, Stats: ComputeStats(reports)}, nil
}

// Projects lists the distinct project keys in use
func (s *Service) Projects(ctx context.Context) ([]string, error) {
	projects, err := s.db.DistinctProjects()
	if err != nil {
		return nil, storageErr("listing projects", err)
	}
	return projects, nil
}

// Transition applies a lifecycle action and writes only lifecycle fields
func (s *Service) Transition(ctx context.Context, id string, action Action, in TransitionInput) (*ExpenseReport, error) {
	stored, err := s.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}

	next := stored.Clone()
	if err := next.Transition(action, in, s.timeSource.Now()); err != nil {
		return nil, err
	}

	updated, err := s.db.UpdateFields(id, stored.Status, next.lifecycleFields())
	if err != nil {
		var conflict *StatusConflictError
		switch {
		case errors.As(err, &conflict):
			return nil, &TransitionError{From: conflict.Actual, To: next.Status}
		case isNotFound(err):
			return nil, err
		}
		return nil, storageErr("updating expense status", err)
	}

	s.publish(ctx, transitionEvents[action], updated, in.Actor)
	return updated, nil
}

var transitionEvents = map[Action]events.Type{
	ActionSubmit:    events.ExpenseSubmitted,
	ActionApprove:   events.ExpenseApproved,
	ActionReject:    events.ExpenseRejected,
	ActionReimburse: events.ExpenseReimbursed,
}

// ScanReceipt asks the configured scanner for item suggestions. The
// report is not touched.
func (s *Service) ScanReceipt(ctx context.Context, key string) (*scanning.ItemSuggestion, error) {
	if s.scanner == nil {
		return nil, ErrScanningDisabled
	}

	rc, err := s.GetReceipt(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Body.Close()

	data, err := io.ReadAll(rc.Body)
	if err != nil {
		return nil, storageErr("reading receipt", err)
	}

	suggestion, err := s.scanner.ScanReceipt(ctx, data, rc.ContentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"key", key,
			"content_type", rc.ContentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}
	return suggestion, nil
}

func (s *Service) publish(ctx context.Context, t events.Type, r *ExpenseReport, actor string) {
	e := events.Event{
		Type:       t,
		ExpenseID:  r.ID,
		Project:    r.ProjectKey,
		Status:     string(r.Status),
		Actor:      actor,
		OccurredAt: s.timeSource.Now(),
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		slog.Warn("Failed to publish expense event", "type", t, "expense_id", r.ID, "error", err)
	}
}

// discardSuperseded removes receipts replaced by a later part of the same form
func (s *Service) discardSuperseded(ctx context.Context, form *ingest.Form) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range form.Discarded {
		if err := s.store.Remove(ctx, d.Key); err != nil {
			slog.Warn("Failed to delete superseded receipt", "key", d.Key, "error", err)
		}
	}
	form.Discarded = nil
}

// removeUpload cleans up the form's receipt after a failed write
func (s *Service) removeUpload(ctx context.Context, form *ingest.Form) {
	if form.Receipt == nil {
		return
	}
	if err := s.store.Remove(context.WithoutCancel(ctx), form.Receipt.Key); err != nil {
		slog.Warn("Failed to delete orphaned receipt", "key", form.Receipt.Key, "error", err)
	}
}
