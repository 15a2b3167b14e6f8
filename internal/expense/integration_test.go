package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/receipt"
)

var _ = Describe("Integration", func() {
	var (
		db         *BoltDB
		store      *receipt.LocalStorage
		publisher  *recordingPublisher
		service    *Service
		ghServer   *ghttp.Server
		storageDir string
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		storageDir = filepath.Join(tempDir, "receipts")
		store, err = receipt.NewLocalStorage(storageDir)
		Expect(err).NotTo(HaveOccurred())

		publisher = &recordingPublisher{}
		service = NewService(db, store, nil, publisher, "")
		server := NewServer(service, BasicAuth{}) // No auth for testing convenience

		ghServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
			ghServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
		DeferCleanup(ghServer.Close)
	})

	send := func(method, path string, body io.Reader, contentType string, out any) int {
		req, err := http.NewRequest(method, ghServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		if out != nil && len(data) > 0 {
			Expect(json.Unmarshal(data, out)).To(Succeed(), string(data))
		}
		return resp.StatusCode
	}

	receiptForm := func(fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for name, value := range fields {
			Expect(writer.WriteField(name, value)).To(Succeed())
		}
		part, err := writer.CreateFormFile("receipt", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return body, writer.FormDataContentType()
	}

	It("should take a report from upload to reimbursement and delete it", func() {
		// --- Step 1: create with a receipt ---
		body, contentType := receiptForm(map[string]string{
			"expenseTitle":      "Berlin trip",
			"projectCostCenter": "P1",
			"expenseCategory":   "Travel",
			"expenseDate":       "2024-03-20",
			"amount":            "42.50",
			"submittedBy":       "alice",
		}, "ticket.pdf", []byte("%PDF-1.4 ... fake pdf content ..."))

		var created ExpenseReport
		Expect(send("POST", "/api/v1/expenses", body, contentType, &created)).To(Equal(http.StatusCreated))
		Expect(created.Items[0].Currency).To(Equal("INR"))
		firstKey := created.Items[0].Receipt.Key

		exists, err := store.Exists(context.Background(), firstKey)
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		// --- Step 2: add a second item by index ---
		body, contentType = receiptForm(map[string]string{
			"itemIndex":       "1",
			"expenseCategory": "Meals",
			"expenseDate":     "2024-03-21",
			"currency":        "EUR",
			"amount":          "7.50",
			"taxAmount":       "1.20",
		}, "dinner.jpg", []byte("jpeg bytes"))

		var updated ExpenseReport
		Expect(send("PUT", "/api/v1/expenses/"+created.ID, body, contentType, &updated)).To(Equal(http.StatusOK))
		Expect(updated.Items).To(HaveLen(2))
		Expect(updated.TotalAmount.Equal(decimal.NewFromInt(50))).To(BeTrue())
		Expect(updated.TotalTax.Equal(decimal.RequireFromString("1.20"))).To(BeTrue())
		Expect(updated.ReceiptKeys()).To(HaveLen(2))

		// --- Step 3: walk the lifecycle ---
		var moved ExpenseReport
		Expect(send("POST", "/api/v1/expenses/"+created.ID+"/submit", nil, "", &moved)).To(Equal(http.StatusOK))
		Expect(*moved.SubmittedBy).To(Equal("alice"))

		Expect(send("PUT", "/api/v1/expenses/"+created.ID, strings.NewReader(`{"notes":"late"}`), "application/json", nil)).
			To(Equal(http.StatusConflict))

		Expect(send("POST", "/api/v1/expenses/"+created.ID+"/approve", strings.NewReader(`{"actor":"bob"}`), "application/json", &moved)).
			To(Equal(http.StatusOK))
		Expect(send("POST", "/api/v1/expenses/"+created.ID+"/reimburse", nil, "", &moved)).To(Equal(http.StatusOK))
		Expect(moved.Status).To(Equal(StatusReimbursed))
		Expect(moved.Items).To(HaveLen(2))

		// --- Step 4: statistics see the stored report ---
		var stats ProjectStats
		Expect(send("GET", "/api/v1/expenses/stats/project/P1", nil, "", &stats)).To(Equal(http.StatusOK))
		Expect(stats.Count).To(Equal(1))
		Expect(stats.Total.Equal(decimal.NewFromInt(50))).To(BeTrue())

		// --- Step 5: delete removes the record and every receipt ---
		Expect(send("DELETE", "/api/v1/expenses/"+created.ID, nil, "", nil)).To(Equal(http.StatusNoContent))
		for _, key := range updated.ReceiptKeys() {
			exists, err := store.Exists(context.Background(), key)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		}
		Expect(send("GET", "/api/v1/expenses/"+created.ID, nil, "", nil)).To(Equal(http.StatusNotFound))

		Expect(publisher.types()).To(HaveLen(6))
	})

	It("should sweep only generated receipt files from a shared directory", func() {
		orphan := receipt.NewKey("pdf")
		old := time.Now().Add(-2 * time.Hour)
		for _, name := range []string{orphan, "expense-tracker.db"} {
			path := filepath.Join(storageDir, name)
			Expect(os.WriteFile(path, []byte("x"), 0644)).To(Succeed())
			Expect(os.Chtimes(path, old, old)).To(Succeed())
		}

		result, err := service.SweepOrphanReceipts(context.Background(), time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Removed).To(Equal([]string{orphan}))
		Expect(filepath.Join(storageDir, "expense-tracker.db")).To(BeAnExistingFile())
		Expect(filepath.Join(storageDir, orphan)).NotTo(BeAnExistingFile())
	})

	It("should leave nothing behind when a form create fails", func() {
		body, contentType := receiptForm(map[string]string{
			"projectCostCenter": "P1",
			"amount":            "12",
		}, "receipt.png", []byte("png"))

		Expect(send("POST", "/api/v1/expenses", body, contentType, nil)).To(Equal(http.StatusBadRequest))

		objects, err := store.List(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(objects).To(BeEmpty())

		_, total, err := db.ListReports(ListFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(BeZero())
	})
})
