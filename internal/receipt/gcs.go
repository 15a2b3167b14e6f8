package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStorage implements Store on a Google Cloud Storage bucket.
// Objects are written under an optional prefix; keys exclude it.
type GCSStorage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStorage creates a GCS-backed store. It assumes Application Default
// Credentials are configured.
func NewGCSStorage(ctx context.Context, bucketName, prefix string) (*GCSStorage, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucketName),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (g *GCSStorage) objectName(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

// Put streams r into a new object
func (g *GCSStorage) Put(ctx context.Context, r io.Reader, ext string) (string, error) {
	key := NewKey(ext)
	obj := g.bucket.Object(g.objectName(key)).If(storage.Conditions{DoesNotExist: true})

	// cancelling the writer's context aborts the upload
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(wctx)
	w.ContentType = ContentTypeFor(key)
	if _, err := copyChunks(ctx, w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return key, nil
}

// Exists reports whether the object is present
func (g *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	if !ValidKey(key) {
		return false, nil
	}
	_, err := g.bucket.Object(g.objectName(key)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading object attrs %s: %w", key, err)
	}
	return true, nil
}

// Open returns a reader over the object
func (g *GCSStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, ErrNotFound
	}
	rc, err := g.bucket.Object(g.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", key, err)
	}
	return rc, nil
}

// Remove deletes the object, ignoring missing objects
func (g *GCSStorage) Remove(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return nil
	}
	err := g.bucket.Object(g.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	return nil
}

// List returns every object under the prefix
func (g *GCSStorage) List(ctx context.Context) ([]Object, error) {
	query := &storage.Query{}
	if g.prefix != "" {
		query.Prefix = g.prefix + "/"
	}

	var objects []Object
	it := g.bucket.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		key := strings.TrimPrefix(attrs.Name, query.Prefix)
		if !ValidKey(key) {
			continue
		}
		objects = append(objects, Object{
			Key:     key,
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return objects, nil
}

// Close releases the storage client
func (g *GCSStorage) Close() error {
	return g.client.Close()
}
