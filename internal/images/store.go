package images

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Store keeps original receipt images in a GCS bucket. The GCS URI is the
// durable audit link on the receipt; the image itself is never mutated.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore creates a Store with its own storage client. It assumes
// Application Default Credentials are configured.
func NewStore(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("image store: storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// NewStoreWithClient wraps an existing client. The caller owns its lifecycle.
func NewStoreWithClient(client *storage.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Save streams the image to the bucket under a fresh object name and
// returns its gs:// URI. The original filename only contributes its
// extension; the object name is a UUID so uploads never collide.
func (s *Store) Save(ctx context.Context, r io.Reader, filename string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	objectName := fmt.Sprintf("receipts/%s%s", uuid.NewString(), ext)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("image store: writing object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("image store: finalizing object %s: %w", objectName, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}

// Fetch downloads the image bytes behind a gs:// URI.
func (s *Store) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucket, object, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("image store: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("image store: reading bytes: %w", err)
	}
	return data, nil
}

// ParseURI splits a gs://bucket/object URI into its parts.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}
