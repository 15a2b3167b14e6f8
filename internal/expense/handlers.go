package expense

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/ingest"
)

const maxJSONBody = 1 << 20

// apiError is the body of every error response
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}

// writeServiceError maps an error kind onto a status code
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ingest.ErrFieldTooLarge),
		errors.Is(err, ingest.ErrFileTooLarge):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, ErrImmutableState):
		writeError(w, http.StatusConflict, "IMMUTABLE_STATE", err.Error())
	case errors.Is(err, ErrScanningDisabled):
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error())
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseForm streams a multipart body through the ingestion pipeline
func (s *Server) parseForm(r *http.Request) (*ingest.Form, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, invalid("body", "malformed multipart body: %v", err)
	}
	form, err := ingest.Parse(r.Context(), mr, s.service.store, s.ingestOpts...)
	if err != nil {
		if errors.Is(err, ingest.ErrStore) || errors.Is(err, ingest.ErrFieldTooLarge) || errors.Is(err, ingest.ErrFileTooLarge) {
			return nil, err
		}
		return nil, invalid("body", "malformed multipart body: %v", err)
	}
	return form, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		return invalid("body", "invalid JSON body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateExpense accepts a multipart form or a JSON CreateRequest
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var (
		report *ExpenseReport
		err    error
	)
	if isMultipart(r) {
		var form *ingest.Form
		form, err = s.parseForm(r)
		if err == nil {
			report, err = s.service.CreateFromForm(r.Context(), form)
		}
	} else {
		var req CreateRequest
		err = decodeJSON(r, &req)
		if err == nil {
			report, err = s.service.CreateExpense(r.Context(), req)
		}
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, report)
}

// handleListExpenses returns one page of reports
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		Project: q.Get("project_cost_center"),
		Status:  Status(strings.ToUpper(q.Get("status"))),
		Search:  q.Get("search"),
	}

	var err error
	if f.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if f.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if f.Start, f.End, err = dateRange(q.Get("start"), q.Get("end")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := s.service.ListExpenses(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetExpense returns a report, optionally with its breakdown
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if breakdown, _ := strconv.ParseBool(r.URL.Query().Get("breakdown")); breakdown {
		writeJSON(w, http.StatusOK, map[string]any{
			"expense":   report,
			"breakdown": report.Breakdown(),
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleUpdateExpense applies a partial update from a form or JSON body
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		report *ExpenseReport
		err    error
	)
	if isMultipart(r) {
		var form *ingest.Form
		form, err = s.parseForm(r)
		if err == nil {
			report, err = s.service.UpdateFromForm(r.Context(), id, form)
		}
	} else {
		var req UpdateRequest
		err = decodeJSON(r, &req)
		if err == nil {
			report, err = s.service.UpdateExpense(r.Context(), id, req)
		}
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleDeleteExpense deletes a report and its receipts
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.DeleteExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if len(result.ReceiptErrors) > 0 {
		writeJSON(w, http.StatusOK, result)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransition runs a lifecycle action
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	action, err := ParseAction(r.PathValue("action"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// the body is optional; submit and reimburse often send none
	var in TransitionInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&in); err != nil && err != io.EOF {
		writeServiceError(w, r, invalid("body", "invalid JSON body: %v", err))
		return
	}

	report, err := s.service.Transition(r.Context(), r.PathValue("id"), action, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGetReceipt streams a receipt file
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := s.service.GetReceipt(r.Context(), r.PathValue("key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer rc.Body.Close()

	w.Header().Set("Content-Type", rc.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc.Body); err != nil {
		slog.Warn("Error streaming receipt", "key", rc.Key, "error", err)
	}
}

// handleScanReceipt suggests item fields for a stored receipt
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	suggestion, err := s.service.ScanReceipt(r.Context(), r.PathValue("key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

// handleSummary returns overall statistics
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := dateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	summary, err := s.service.Summary(r.Context(), SummaryFilter{Project: q.Get("project"), Start: start, End: end})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleProjectStats returns statistics for one project
func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.ProjectStats(r.Context(), r.PathValue("project"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleProjects lists distinct project keys
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.Projects(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if projects == nil {
		projects = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"projects": projects})
}

// handleSweep runs the orphan sweep on demand. older_than overrides the
// configured grace period.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	grace := s.sweepGrace
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeServiceError(w, r, invalid("older_than", "%q is not a duration", v))
			return
		}
		grace = d
	}

	result, err := s.service.SweepOrphanReceipts(r.Context(), grace)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, invalid(name, "%q is not a non-negative integer", value)
	}
	return n, nil
}

// parseDate accepts RFC3339 or YYYY-MM-DD. A bare end date covers the
// whole day.
func parseDate(value, name string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, invalid(name, "%q is not a date (use YYYY-MM-DD or RFC3339)", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func dateRange(start, end string) (*time.Time, *time.Time, error) {
	s, err := parseDate(start, "start", false)
	if err != nil {
		return nil, nil, err
	}
	e, err := parseDate(end, "end", true)
	if err != nil {
		return nil, nil, err
	}
	return s, e, nil
}
