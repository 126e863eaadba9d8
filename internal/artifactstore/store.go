// Package artifactstore persists serialized model artifacts on the local
// filesystem or in Google Cloud Storage.
package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// ErrNotFound reports that no artifact exists at the location. It is the
// expected state before the first training run.
var ErrNotFound = errors.New("model artifact not found")

// Store loads and saves one artifact blob.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Location() string
}

// Open picks a store for location: gs://bucket/object selects Cloud
// Storage, anything else is a local path.
func Open(location string) (Store, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("artifact location is empty")
	}
	if strings.HasPrefix(location, "gs://") {
		bucket, object, err := ParseGCSURI(location)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(bucket, object), nil
	}
	return NewFileStore(location), nil
}

// FileStore keeps the artifact in a local file. Saves are atomic: readers
// see either the previous or the new artifact, never a partial one.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Location() string { return s.path }

func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *FileStore) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".txcat-artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// GCSStore keeps the artifact as a Cloud Storage object. It relies on
// Application Default Credentials.
type GCSStore struct {
	bucket string
	object string
}

func NewGCSStore(bucket, object string) *GCSStore {
	return &GCSStore{bucket: bucket, object: object}
}

func (s *GCSStore) Location() string { return "gs://" + s.bucket + "/" + s.object }

func (s *GCSStore) Load(ctx context.Context) ([]byte, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.Location())
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// Save uploads the artifact. Cloud Storage only makes an object visible
// once the writer is closed, so readers never observe a partial upload.
func (s *GCSStore) Save(ctx context.Context, data []byte) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	w := client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write GCS object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}
