package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a receipt key has no stored object.
var ErrNotFound = errors.New("receipt not found")

// copyBufferSize bounds how much of an upload is held in memory at once.
const copyBufferSize = 32 << 10

// Object describes a stored receipt.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store defines the interface for receipt file storage operations.
// Keys live in a flat namespace and are opaque to the store.
type Store interface {
	// Put streams r into a new object and returns its generated key
	Put(ctx context.Context, r io.Reader, ext string) (string, error)

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)

	// Open returns a reader for the object, or ErrNotFound
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Remove deletes the object; a missing object is not an error
	Remove(ctx context.Context, key string) error

	// List returns every stored object
	List(ctx context.Context) ([]Object, error)
}

// LocalStorage implements Store on a single local directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Put writes the stream to a freshly keyed file
func (l *LocalStorage) Put(ctx context.Context, r io.Reader, ext string) (string, error) {
	key := NewKey(ext)
	path := filepath.Join(l.basePath, key)

	// O_EXCL: a key is never reused
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}

	if _, err := copyChunks(ctx, f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing file: %w", err)
	}
	return key, nil
}

// Exists reports whether the key is stored
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if !ValidKey(key) {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(l.basePath, key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file: %w", err)
	}
	return true, nil
}

// Open opens a stored receipt for reading
func (l *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.basePath, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return f, nil
}

// Remove deletes a receipt from local storage
func (l *LocalStorage) Remove(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return nil
	}
	err := os.Remove(filepath.Join(l.basePath, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// List returns the regular files in the storage directory
func (l *LocalStorage) List(ctx context.Context) ([]Object, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing directory: %w", err)
	}

	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		objects = append(objects, Object{
			Key:     entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}

// copyChunks copies src to dst one buffer at a time, waiting for each write
// before reading the next chunk. It stops early when ctx is cancelled.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// isSeparator reports whether r would escape the flat namespace
func isSeparator(r rune) bool {
	return r == '/' || r == '\\' || r == filepath.Separator
}

// ValidKey reports whether key is a plain name in the flat namespace
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	if strings.Contains(key, "..") {
		return false
	}
	return !strings.ContainsFunc(key, isSeparator)
}
