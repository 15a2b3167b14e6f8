// Package events publishes expense lifecycle notifications. Publishing is
// fire-and-forget from the caller's point of view: a failed publish is
// logged and never undoes the write that triggered it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Type names an event. The value doubles as the AMQP routing key.
type Type string

const (
	ExpenseCreated    Type = "expense.created"
	ExpenseUpdated    Type = "expense.updated"
	ExpenseDeleted    Type = "expense.deleted"
	ExpenseSubmitted  Type = "expense.submitted"
	ExpenseApproved   Type = "expense.approved"
	ExpenseRejected   Type = "expense.rejected"
	ExpenseReimbursed Type = "expense.reimbursed"
)

// Event is the message body
type Event struct {
	Type       Type      `json:"type"`
	ExpenseID  string    `json:"expense_id"`
	Project    string    `json:"project_cost_center,omitempty"`
	Status     string    `json:"status,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ToJSON encodes the event
func (e Event) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// FromJSON decodes an event body
func FromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &e, nil
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the structured log. It is used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, e Event) error {
	slog.InfoContext(ctx, "Expense event",
		"type", e.Type,
		"expense_id", e.ExpenseID,
		"status", e.Status,
		"actor", e.Actor,
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
