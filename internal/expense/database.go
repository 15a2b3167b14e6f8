package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const bucketName = "expenses"

// ListFilter narrows a listing. Zero values mean "no constraint".
type ListFilter struct {
	Project string
	Status  Status
	Search  string
	Start   *time.Time
	End     *time.Time

	// Page is 1-based. Limit <= 0 returns every match.
	Page  int
	Limit int
}

func (f ListFilter) matches(r *ExpenseReport) bool {
	if f.Project != "" && r.ProjectKey != f.Project {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(r.Title), strings.ToLower(f.Search)) {
		return false
	}
	if f.Start != nil && r.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && r.CreatedAt.After(*f.End) {
		return false
	}
	return true
}

// DB defines the interface for database operations
type DB interface {
	// InsertReport stores a new report and assigns its ID
	InsertReport(r *ExpenseReport) (*ExpenseReport, error)

	// GetReport retrieves a report by ID
	GetReport(id string) (*ExpenseReport, error)

	// ListReports returns the page of matching reports, newest first, and
	// the number of matches before paging
	ListReports(f ListFilter) ([]*ExpenseReport, int, error)

	// UpdateFields overwrites the given top-level fields of a stored report
	// whose status is still expected, failing with a StatusConflictError
	// otherwise
	UpdateFields(id string, expected Status, set FieldSet) (*ExpenseReport, error)

	// DeleteReport removes a report, reporting whether it existed
	DeleteReport(id string) (bool, error)

	// DistinctProjects returns every project key in use, sorted
	DistinctProjects() ([]string, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Reports are stored as
// JSON documents keyed by ID.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// InsertReport stores a new report under a fresh ID
func (b *BoltDB) InsertReport(r *ExpenseReport) (*ExpenseReport, error) {
	stored := r.Clone()
	stored.ID = uuid.NewString()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(stored.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetReport retrieves a report by ID
func (b *BoltDB) GetReport(id string) (*ExpenseReport, error) {
	var report *ExpenseReport
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: expense %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (b *BoltDB) all() ([]*ExpenseReport, error) {
	reports := make([]*ExpenseReport, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var report ExpenseReport
			if err := json.Unmarshal(v, &report); err != nil {
				return fmt.Errorf("unmarshaling expense %s: %w", k, err)
			}
			reports = append(reports, &report)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// ListReports returns matching reports sorted by creation time, newest first
func (b *BoltDB) ListReports(f ListFilter) ([]*ExpenseReport, int, error) {
	reports, err := b.all()
	if err != nil {
		return nil, 0, err
	}

	matched := make([]*ExpenseReport, 0, len(reports))
	for _, r := range reports {
		if f.matches(r) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Limit <= 0 {
		return matched, total, nil
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * f.Limit
	if start >= total {
		return []*ExpenseReport{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// UpdateFields reads the stored document, checks its status, overwrites the
// given top-level fields and writes it back inside a single transaction
func (b *BoltDB) UpdateFields(id string, expected Status, set FieldSet) (*ExpenseReport, error) {
	var report *ExpenseReport
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: expense %s", ErrNotFound, id)
		}

		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		var current Status
		if err := json.Unmarshal(doc[fieldStatus], &current); err != nil {
			return fmt.Errorf("unmarshaling expense status: %w", err)
		}
		if current != expected {
			return &StatusConflictError{Expected: expected, Actual: current}
		}
		for field, value := range set {
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("marshaling field %s: %w", field, err)
			}
			doc[field] = raw
		}

		updated, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		if err := json.Unmarshal(updated, &report); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// DeleteReport removes a report from the database
func (b *BoltDB) DeleteReport(id string) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// DistinctProjects returns the sorted project keys in use
func (b *BoltDB) DistinctProjects() ([]string, error) {
	reports, err := b.all()
	if err != nil {
		return nil, err
	}
	return distinctProjects(reports), nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// isNotFound distinguishes a missing document from a storage failure
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
