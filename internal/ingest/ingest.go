// Package ingest turns a streamed multipart request into scalar form fields
// and a stored receipt.
//
// Parts are handled strictly in arrival order. The file part is streamed
// into a receipt.Store chunk by chunk so peak memory does not depend on the
// upload size; every other part is buffered and decoded as UTF-8 text.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"unicode/utf8"

	"github.com/FessiT-FinSuite-OpenSourceSoftware/FessiT-FinanceSuite/internal/receipt"
)

// ReceiptField is the form field that carries the receipt file
const ReceiptField = "receipt"

const (
	defaultMaxFieldSize = 1 << 20  // 1MB per text field
	defaultMaxFileSize  = 50 << 20 // 50MB, high-resolution phone photos
)

var (
	// ErrFieldTooLarge is returned when a text part exceeds the field limit
	ErrFieldTooLarge = errors.New("form field too large")

	// ErrFileTooLarge is returned when the receipt exceeds the file limit
	ErrFileTooLarge = errors.New("receipt file too large")

	// ErrStore wraps a receipt.Store failure while streaming the file
	ErrStore = errors.New("storing receipt")
)

// Upload describes a receipt persisted while parsing
type Upload struct {
	Key              string `json:"key"`
	OriginalFilename string `json:"original_filename"`
	Size             int64  `json:"size"`
}

// Form is the result of parsing a multipart request
type Form struct {
	Fields  map[string]string
	Receipt *Upload

	// Discarded holds receipts stored earlier in the same request and
	// superseded by a later receipt part. The caller removes them.
	Discarded []Upload
}

// Value returns a field and whether it was sent
func (f *Form) Value(name string) (string, bool) {
	v, ok := f.Fields[name]
	return v, ok
}

// StoredKeys returns every receipt key this request created
func (f *Form) StoredKeys() []string {
	keys := make([]string, 0, len(f.Discarded)+1)
	for _, d := range f.Discarded {
		keys = append(keys, d.Key)
	}
	if f.Receipt != nil {
		keys = append(keys, f.Receipt.Key)
	}
	return keys
}

type options struct {
	maxFieldSize int64
	maxFileSize  int64
}

// Option configures Parse
type Option func(*options)

// WithMaxFieldSize limits the size of each text field
func WithMaxFieldSize(n int64) Option {
	return func(o *options) {
		o.maxFieldSize = n
	}
}

// WithMaxFileSize limits the size of the receipt file
func WithMaxFileSize(n int64) Option {
	return func(o *options) {
		o.maxFileSize = n
	}
}

// Parse consumes every part of mr. On error, receipts already stored by this
// call are removed before returning.
func Parse(ctx context.Context, mr *multipart.Reader, store receipt.Store, opts ...Option) (*Form, error) {
	o := options{
		maxFieldSize: defaultMaxFieldSize,
		maxFileSize:  defaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	form := &Form{Fields: make(map[string]string)}
	for {
		if err := ctx.Err(); err != nil {
			cleanup(store, form)
			return nil, err
		}

		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			cleanup(store, form)
			return nil, fmt.Errorf("reading multipart part: %w", err)
		}

		if err := handlePart(ctx, part, store, form, o); err != nil {
			part.Close()
			cleanup(store, form)
			return nil, err
		}
		part.Close()
	}
}

func handlePart(ctx context.Context, part *multipart.Part, store receipt.Store, form *Form, o options) error {
	name := part.FormName()
	filename := part.FileName()

	if name == ReceiptField {
		if filename == "" {
			// a receipt part without a file carries nothing to store
			return drain(part)
		}
		upload, err := storeReceipt(ctx, part, filename, store, o.maxFileSize)
		if err != nil {
			return err
		}
		if form.Receipt != nil {
			form.Discarded = append(form.Discarded, *form.Receipt)
		}
		form.Receipt = upload
		return nil
	}

	value, err := readText(part, o.maxFieldSize)
	if err != nil {
		return fmt.Errorf("reading field %q: %w", name, err)
	}
	form.Fields[name] = value
	return nil
}

// storeReceipt streams the part into the store, enforcing the size limit
func storeReceipt(ctx context.Context, part io.Reader, filename string, store receipt.Store, limit int64) (*Upload, error) {
	counter := &limitedCounter{r: part, limit: limit}
	key, err := store.Put(ctx, counter, receipt.ExtensionOf(filename))
	if counter.exceeded {
		if key != "" {
			if err := store.Remove(context.WithoutCancel(ctx), key); err != nil {
				slog.Warn("Failed to remove oversized receipt", "key", key, "error", err)
			}
		}
		return nil, ErrFileTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return &Upload{
		Key:              key,
		OriginalFilename: filename,
		Size:             counter.n,
	}, nil
}

// readText buffers a text part and decodes it as UTF-8. Invalid UTF-8
// yields an empty string rather than failing the request.
func readText(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", ErrFieldTooLarge
	}
	if !utf8.Valid(data) {
		return "", nil
	}
	return string(data), nil
}

func drain(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// cleanup removes receipts stored before a failed parse
func cleanup(store receipt.Store, form *Form) {
	ctx := context.Background()
	for _, key := range form.StoredKeys() {
		if err := store.Remove(ctx, key); err != nil {
			slog.Warn("Failed to remove receipt after aborted upload", "key", key, "error", err)
		}
	}
}

// limitedCounter counts bytes and fails once more than limit are read
type limitedCounter struct {
	r        io.Reader
	limit    int64
	n        int64
	exceeded bool
}

func (l *limitedCounter) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.limit {
		l.exceeded = true
		return n, ErrFileTooLarge
	}
	return n, err
}
