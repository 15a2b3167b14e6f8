package expense

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var _ = Describe("Aggregates", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})

	Describe("RecomputeTotals", func() {
		It("sums amounts and present taxes exactly", func() {
			r := NewReport("Trip", "P1", []Item{
				{Category: "Travel", Currency: "USD", Amount: dec("0.1"), Date: "d"},
				{Category: "Travel", Currency: "USD", Amount: dec("0.2"), Date: "d", TaxAmount: ptr(dec("0.05"))},
				{Category: "Meals", Currency: "EUR", Amount: dec("10.70"), Date: "d"},
			}, now)

			Expect(r.TotalAmount.Equal(dec("11"))).To(BeTrue())
			Expect(r.TotalTax.Equal(dec("0.05"))).To(BeTrue())
			Expect(r.GrandTotal().Equal(dec("11.05"))).To(BeTrue())
		})

		It("is zero for an empty report", func() {
			r := NewReport("Empty", "P1", nil, now)
			Expect(r.TotalAmount.IsZero()).To(BeTrue())
			Expect(r.TotalTax.IsZero()).To(BeTrue())
		})
	})

	Describe("per-report groupings", func() {
		var r *ExpenseReport

		BeforeEach(func() {
			r = NewReport("Trip", "P1", []Item{
				{Category: "Travel", Currency: "USD", Amount: dec("100"), Date: "d", Receipt: &ReceiptRef{Key: "a.pdf"}},
				{Category: "Travel", Currency: "EUR", Amount: dec("50"), Date: "d"},
				{Category: "Meals", Currency: "USD", Amount: dec("25.5"), Date: "d", Receipt: &ReceiptRef{Key: "b.jpg"}},
			}, now)
		})

		It("counts items by category", func() {
			Expect(r.CountByCategory()).To(Equal(map[string]int{"Travel": 2, "Meals": 1}))
		})

		It("sums amounts by currency", func() {
			totals := r.TotalByCurrency()
			Expect(totals).To(HaveLen(2))
			Expect(totals["USD"].Equal(dec("125.5"))).To(BeTrue())
			Expect(totals["EUR"].Equal(dec("50"))).To(BeTrue())
		})

		It("collects receipt keys", func() {
			Expect(r.ReceiptKeys()).To(Equal([]string{"a.pdf", "b.jpg"}))
		})

		It("builds a breakdown", func() {
			b := r.Breakdown()
			Expect(b.ByCategory).To(HaveKeyWithValue("Travel", 2))
			Expect(b.GrandTotal.Equal(dec("175.5"))).To(BeTrue())
		})
	})

	Describe("ComputeStats", func() {
		It("summarises two reports of 100 and 300", func() {
			stats := ComputeStats([]*ExpenseReport{
				NewReport("A", "P1", []Item{travelItem("100")}, now),
				NewReport("B", "P1", []Item{travelItem("120"), travelItem("180")}, now),
			})

			Expect(stats.Count).To(Equal(2))
			Expect(stats.Total.Equal(dec("400"))).To(BeTrue())
			Expect(stats.Average.Equal(dec("200"))).To(BeTrue())
			Expect(stats.Min.Equal(dec("100"))).To(BeTrue())
			Expect(stats.Max.Equal(dec("300"))).To(BeTrue())
		})

		It("returns zeros for no reports", func() {
			stats := ComputeStats(nil)
			Expect(stats.Count).To(BeZero())
			Expect(stats.Total.IsZero()).To(BeTrue())
			Expect(stats.Average.IsZero()).To(BeTrue())
		})
	})

	Describe("Summarize", func() {
		It("groups by status, category and currency", func() {
			a := NewReport("A", "P1", []Item{travelItem("100")}, now)
			b := NewReport("B", "P2", []Item{
				{Category: "Meals", Currency: "EUR", Amount: dec("30"), Date: "d"},
			}, now)
			b.Status = StatusApproved

			s := Summarize([]*ExpenseReport{a, b})
			Expect(s.Count).To(Equal(2))
			Expect(s.ByStatus).To(Equal(map[Status]int{StatusDraft: 1, StatusApproved: 1}))
			Expect(s.ByCategory["Travel"].Equal(dec("100"))).To(BeTrue())
			Expect(s.ByCurrency["EUR"].Equal(dec("30"))).To(BeTrue())
		})
	})

	It("lists distinct projects in order", func() {
		reports := []*ExpenseReport{
			NewReport("A", "P2", nil, now),
			NewReport("B", "P1", nil, now),
			NewReport("C", "P2", nil, now),
		}
		Expect(distinctProjects(reports)).To(Equal([]string{"P1", "P2"}))
	})
})
