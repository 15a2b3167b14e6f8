package expense

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RecomputeTotals derives TotalAmount and TotalTax from the items.
// Callers never set the totals directly.
func (r *ExpenseReport) RecomputeTotals() {
	total := decimal.Zero
	tax := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Amount)
		if item.TaxAmount != nil {
			tax = tax.Add(*item.TaxAmount)
		}
	}
	r.TotalAmount = total
	r.TotalTax = tax
}

// GrandTotal is the total amount including tax
func (r *ExpenseReport) GrandTotal() decimal.Decimal {
	return r.TotalAmount.Add(r.TotalTax)
}

// ReceiptKeys returns the key of every receipt the report references
func (r *ExpenseReport) ReceiptKeys() []string {
	var keys []string
	for _, item := range r.Items {
		if item.Receipt != nil && item.Receipt.Key != "" {
			keys = append(keys, item.Receipt.Key)
		}
	}
	return keys
}

// CountByCategory counts items per category
func (r *ExpenseReport) CountByCategory() map[string]int {
	counts := make(map[string]int)
	for _, item := range r.Items {
		counts[item.Category]++
	}
	return counts
}

// TotalByCurrency sums item amounts per currency
func (r *ExpenseReport) TotalByCurrency() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, item := range r.Items {
		totals[item.Currency] = totals[item.Currency].Add(item.Amount)
	}
	return totals
}

// Breakdown is the per-report summary shown alongside a single expense
type Breakdown struct {
	ByCategory map[string]int             `json:"by_category"`
	ByCurrency map[string]decimal.Decimal `json:"by_currency"`
	GrandTotal decimal.Decimal            `json:"grand_total"`
}

// Breakdown groups the report's items for display. Nothing is persisted.
func (r *ExpenseReport) Breakdown() Breakdown {
	return Breakdown{
		ByCategory: r.CountByCategory(),
		ByCurrency: r.TotalByCurrency(),
		GrandTotal: r.GrandTotal(),
	}
}

// Stats summarises report totals
type Stats struct {
	Count   int             `json:"total_expenses"`
	Total   decimal.Decimal `json:"total_amount"`
	Average decimal.Decimal `json:"avg_amount"`
	Min     decimal.Decimal `json:"min_amount"`
	Max     decimal.Decimal `json:"max_amount"`
}

// ComputeStats aggregates report totals. An empty set yields zero values.
func ComputeStats(reports []*ExpenseReport) Stats {
	stats := Stats{}
	for i, r := range reports {
		stats.Count++
		stats.Total = stats.Total.Add(r.TotalAmount)
		if i == 0 || r.TotalAmount.LessThan(stats.Min) {
			stats.Min = r.TotalAmount
		}
		if i == 0 || r.TotalAmount.GreaterThan(stats.Max) {
			stats.Max = r.TotalAmount
		}
	}
	if stats.Count > 0 {
		stats.Average = stats.Total.Div(decimal.NewFromInt(int64(stats.Count)))
	}
	return stats
}

// Summary is the overall statistics answer
type Summary struct {
	Stats
	ByStatus   map[Status]int             `json:"by_status"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
	ByCurrency map[string]decimal.Decimal `json:"by_currency"`
}

// Summarize computes overall statistics plus status, category and
// currency groupings across reports
func Summarize(reports []*ExpenseReport) Summary {
	s := Summary{
		Stats:      ComputeStats(reports),
		ByStatus:   make(map[Status]int),
		ByCategory: make(map[string]decimal.Decimal),
		ByCurrency: make(map[string]decimal.Decimal),
	}
	for _, r := range reports {
		s.ByStatus[r.Status]++
		for _, item := range r.Items {
			s.ByCategory[item.Category] = s.ByCategory[item.Category].Add(item.Amount)
			s.ByCurrency[item.Currency] = s.ByCurrency[item.Currency].Add(item.Amount)
		}
	}
	return s
}

// ProjectStats is Stats restricted to one project key
type ProjectStats struct {
	Project string `json:"project_name"`
	Stats
}

// distinctProjects returns the sorted set of project keys in use
func distinctProjects(reports []*ExpenseReport) []string {
	seen := make(map[string]struct{})
	for _, r := range reports {
		seen[r.ProjectKey] = struct{}{}
	}
	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects
}
