package expense

import (
	"context"
	"log/slog"
	"time"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/receipt"
)

// DefaultSweepGrace keeps fresh uploads out of the sweep so a receipt
// whose report has not been written yet is not reclaimed
const DefaultSweepGrace = time.Hour

// SweepResult reports what an orphan sweep did
type SweepResult struct {
	Scanned int      `json:"scanned"`
	Removed []string `json:"removed"`
	Failed  []string `json:"failed,omitempty"`
}

// SweepOrphanReceipts removes stored receipts that no report references
// and that are older than olderThan. It reclaims uploads from failed or
// aborted requests and receipts superseded by an update. Only names NewKey
// generates are considered; other files in the store are never touched.
func (s *Service) SweepOrphanReceipts(ctx context.Context, olderThan time.Duration) (*SweepResult, error) {
	if olderThan < 0 {
		return nil, invalid("older_than", "grace period cannot be negative")
	}
	cutoff := s.timeSource.Now().Add(-olderThan)

	// List the objects first so anything uploaded after this point is
	// outside the sweep no matter how the report listing interleaves.
	objects, err := s.store.List(ctx)
	if err != nil {
		return nil, storageErr("listing receipts", err)
	}

	reports, _, err := s.db.ListReports(ListFilter{})
	if err != nil {
		return nil, storageErr("listing expenses", err)
	}
	referenced := make(map[string]struct{})
	for _, r := range reports {
		for _, key := range r.ReceiptKeys() {
			referenced[key] = struct{}{}
		}
	}

	result := &SweepResult{Scanned: len(objects), Removed: []string{}}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !receipt.IsGeneratedKey(obj.Key) {
			continue
		}
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.store.Remove(ctx, obj.Key); err != nil {
			slog.Warn("Failed to delete orphaned receipt", "key", obj.Key, "error", err)
			result.Failed = append(result.Failed, obj.Key)
			continue
		}
		result.Removed = append(result.Removed, obj.Key)
	}

	slog.Info("Swept orphaned receipts", "scanned", result.Scanned, "removed", len(result.Removed), "failed", len(result.Failed))
	return result, nil
}

// RunSweeper sweeps every interval until ctx is done
func (s *Service) RunSweeper(ctx context.Context, interval, grace time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOrphanReceipts(ctx, grace); err != nil && ctx.Err() == nil {
				slog.Error("Orphan sweep failed", "error", err)
			}
		}
	}
}
