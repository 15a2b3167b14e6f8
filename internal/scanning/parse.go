package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Categories the prompt asks the model to choose from
var Categories = []string{"Travel", "Meals", "Lodging", "Transport", "Supplies", "Software", "Other"}

// dateLayouts are tried in order when the model ignores the requested format
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"January 2, 2006",
	"2 Jan 2006",
}

type rawSuggestion struct {
	Vendor    *string          `json:"vendor"`
	Date      *string          `json:"date"`
	Amount    *decimal.Decimal `json:"amount"`
	Currency  *string          `json:"currency"`
	TaxAmount *decimal.Decimal `json:"tax_amount"`
	Category  *string          `json:"category"`
}

// extractJSON trims chatter and markdown fences around the first JSON object
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// parseSuggestion turns a model response into an ItemSuggestion
func parseSuggestion(text string) (*ItemSuggestion, error) {
	body, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw rawSuggestion
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	s := &ItemSuggestion{
		Vendor:   strings.TrimSpace(deref(raw.Vendor)),
		Date:     normalizeDate(deref(raw.Date)),
		Currency: strings.ToUpper(strings.TrimSpace(deref(raw.Currency))),
		Category: normalizeCategory(deref(raw.Category)),
	}
	if raw.Amount != nil && !raw.Amount.IsNegative() {
		s.Amount = *raw.Amount
	}
	if raw.TaxAmount != nil && !raw.TaxAmount.IsNegative() {
		tax := *raw.TaxAmount
		s.TaxAmount = &tax
	}
	return s, nil
}

// normalizeDate returns YYYY-MM-DD, or "" when the date is unreadable
func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, value); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

func normalizeCategory(value string) string {
	value = strings.TrimSpace(value)
	for _, c := range Categories {
		if strings.EqualFold(c, value) {
			return c
		}
	}
	return "Other"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
