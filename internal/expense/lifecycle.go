package expense

import (
	"strings"
	"time"
)

// Action names a lifecycle transition
type Action string

const (
	ActionSubmit    Action = "submit"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionReimburse Action = "reimburse"
)

// Target returns the status an action moves a report to
func (a Action) Target() (Status, bool) {
	switch a {
	case ActionSubmit:
		return StatusSubmitted, true
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	case ActionReimburse:
		return StatusReimbursed, true
	}
	return "", false
}

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := a.Target(); !ok {
		return "", invalid("action", "unknown action %q", s)
	}
	return a, nil
}

// TransitionInput carries the actor and reason for a transition
type TransitionInput struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// transitions is the complete table of legal moves
var transitions = map[Status]map[Status]bool{
	StatusDraft:     {StatusSubmitted: true},
	StatusSubmitted: {StatusApproved: true, StatusRejected: true},
	StatusApproved:  {StatusReimbursed: true},
}

// CanTransition reports whether the table allows from -> to
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// CanEdit reports whether item content may still change
func (r *ExpenseReport) CanEdit() bool {
	return r.Status == StatusDraft
}

func (r *ExpenseReport) guard(to Status) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{From: r.Status, To: to}
	}
	return nil
}

// Submit moves a draft to Submitted. The submitter defaults to CreatedBy;
// a report with neither cannot be submitted.
func (r *ExpenseReport) Submit(by string, at time.Time) error {
	if err := r.guard(StatusSubmitted); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return invalid("items", "at least one expense item is required to submit")
	}

	submitter := strings.TrimSpace(by)
	if submitter == "" && r.CreatedBy != nil {
		submitter = strings.TrimSpace(*r.CreatedBy)
	}
	if submitter == "" {
		return invalid("actor", "a submitter is required")
	}

	r.Status = StatusSubmitted
	r.SubmittedBy = ptr(submitter)
	r.SubmittedAt = ptr(at)
	r.UpdatedAt = at
	return nil
}

// Approve records the approver, who is required, and the review time
func (r *ExpenseReport) Approve(by string, at time.Time) error {
	if err := r.guard(StatusApproved); err != nil {
		return err
	}
	by = strings.TrimSpace(by)
	if by == "" {
		return invalid("actor", "an approver is required")
	}

	r.Status = StatusApproved
	r.setReviewer(by, at)
	r.UpdatedAt = at
	return nil
}

// Reject records the reviewer and the reason, which is required
func (r *ExpenseReport) Reject(by, reason string, at time.Time) error {
	if err := r.guard(StatusRejected); err != nil {
		return err
	}
	by = strings.TrimSpace(by)
	if by == "" {
		return invalid("actor", "a reviewer is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalid("reason", "a rejection reason is required")
	}

	r.Status = StatusRejected
	r.setReviewer(by, at)
	r.RejectionReason = ptr(reason)
	r.UpdatedAt = at
	return nil
}

// MarkReimbursed closes an approved report
func (r *ExpenseReport) MarkReimbursed(at time.Time) error {
	if err := r.guard(StatusReimbursed); err != nil {
		return err
	}

	r.Status = StatusReimbursed
	r.ReimbursedAt = ptr(at)
	r.UpdatedAt = at
	return nil
}

func (r *ExpenseReport) setReviewer(by string, at time.Time) {
	r.ApprovedBy = ptr(by)
	r.ReviewedAt = ptr(at)
}

// Transition applies an action. Guards and effects follow the transition
// table; anything else fails with a TransitionError.
func (r *ExpenseReport) Transition(action Action, in TransitionInput, at time.Time) error {
	switch action {
	case ActionSubmit:
		return r.Submit(in.Actor, at)
	case ActionApprove:
		return r.Approve(in.Actor, at)
	case ActionReject:
		return r.Reject(in.Actor, in.Reason, at)
	case ActionReimburse:
		return r.MarkReimbursed(at)
	}
	return invalid("action", "unknown action %q", string(action))
}

// lifecycleFields returns the document fields a transition may write
func (r *ExpenseReport) lifecycleFields() FieldSet {
	return FieldSet{
		fieldStatus:          r.Status,
		fieldSubmittedBy:     r.SubmittedBy,
		fieldSubmittedAt:     r.SubmittedAt,
		fieldApprovedBy:      r.ApprovedBy,
		fieldReviewedAt:      r.ReviewedAt,
		fieldRejectionReason: r.RejectionReason,
		fieldReimbursedAt:    r.ReimbursedAt,
		fieldUpdatedAt:       r.UpdatedAt,
	}
}

func (a Action) String() string {
	return string(a)
}
