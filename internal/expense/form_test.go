package expense

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/ingest"
)

var _ = Describe("Form mapping", func() {
	Describe("CreateRequestFromForm", func() {
		It("maps a single item with its receipt", func() {
			form := &ingest.Form{
				Fields: map[string]string{
					"expenseTitle":      "Trip",
					"projectCostCenter": "P1",
					"expenseCategory":   "Travel",
					"expenseDate":       "2024-01-01",
					"amount":            "100.50",
					"taxAmount":         "5",
					"billable":          "true",
					"vendor":            "Airline",
					"submittedBy":       "alice",
				},
				Receipt: &ingest.Upload{Key: "k.pdf", OriginalFilename: "ticket.pdf"},
			}

			req, err := CreateRequestFromForm(form, "INR")
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Title).To(Equal("Trip"))
			Expect(*req.CreatedBy).To(Equal("alice"))
			Expect(req.Items).To(HaveLen(1))
			item := req.Items[0]
			Expect(item.Currency).To(Equal("INR"))
			Expect(item.Amount.Equal(decimal.RequireFromString("100.50"))).To(BeTrue())
			Expect(item.TaxAmount.Equal(decimal.NewFromInt(5))).To(BeTrue())
			Expect(item.Billable).To(BeTrue())
			Expect(*item.Vendor).To(Equal("Airline"))
			Expect(item.Receipt).To(Equal(&ReceiptRef{Key: "k.pdf", OriginalFilename: "ticket.pdf"}))
		})

		It("creates an empty draft when no item fields are sent", func() {
			form := &ingest.Form{Fields: map[string]string{
				"expenseTitle":      "Trip",
				"projectCostCenter": "P1",
			}}

			req, err := CreateRequestFromForm(form, "INR")
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Items).To(BeEmpty())
		})

		It("treats blank optional fields as absent", func() {
			form := &ingest.Form{Fields: map[string]string{
				"expenseTitle": "Trip",
				"amount":       "1",
				"taxAmount":    " ",
				"vendor":       "",
				"notes":        "",
			}}

			req, err := CreateRequestFromForm(form, "USD")
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Notes).To(BeNil())
			Expect(req.Items[0].TaxAmount).To(BeNil())
			Expect(req.Items[0].Vendor).To(BeNil())
			Expect(req.Items[0].Currency).To(Equal("USD"))
		})

		DescribeTable("rejects malformed values",
			func(field, value string) {
				form := &ingest.Form{Fields: map[string]string{field: value}}

				_, err := CreateRequestFromForm(form, "INR")
				Expect(err).To(MatchError(ErrValidation))
				Expect(err.(*ValidationError).Field).To(Equal(field))
			},
			Entry("amount", "amount", "ten"),
			Entry("tax", "taxAmount", "1,5"),
			Entry("billable", "billable", "maybe"),
		)
	})

	Describe("UpdateRequestFromForm", func() {
		It("sets only the fields that were sent", func() {
			form := &ingest.Form{Fields: map[string]string{"notes": "B"}}

			req, err := UpdateRequestFromForm(form)
			Expect(err).NotTo(HaveOccurred())
			Expect(*req.Notes).To(Equal("B"))
			Expect(req.Title).To(BeNil())
			Expect(req.ItemPatch).To(BeNil())
		})

		It("turns item fields into a patch at the given index", func() {
			form := &ingest.Form{Fields: map[string]string{
				"itemIndex": "2",
				"amount":    "12",
			}}

			req, err := UpdateRequestFromForm(form)
			Expect(err).NotTo(HaveOccurred())
			Expect(*req.ItemPatch.Index).To(Equal(2))
			Expect(req.ItemPatch.Amount.Equal(decimal.NewFromInt(12))).To(BeTrue())
			Expect(req.ItemPatch.Category).To(BeNil())
		})

		It("patches the receipt alone", func() {
			form := &ingest.Form{
				Fields:  map[string]string{},
				Receipt: &ingest.Upload{Key: "n.png"},
			}

			req, err := UpdateRequestFromForm(form)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.ItemPatch.Receipt.Key).To(Equal("n.png"))
		})

		It("rejects an index without item fields", func() {
			form := &ingest.Form{Fields: map[string]string{"itemIndex": "1"}}

			_, err := UpdateRequestFromForm(form)
			Expect(err).To(MatchError(ErrValidation))
		})

		It("rejects a non-numeric index", func() {
			form := &ingest.Form{Fields: map[string]string{"itemIndex": "first", "amount": "1"}}

			_, err := UpdateRequestFromForm(form)
			Expect(err).To(MatchError(ErrValidation))
		})
	})
})
