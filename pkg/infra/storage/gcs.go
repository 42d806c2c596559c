package storage

import (
	"context"
	"errors"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/types"
)

// GCSStore keeps artifact archives and run logs in a Cloud Storage
// bucket. Object names are the store keys, optionally under a prefix so
// one bucket can serve several deployments.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS creates a store writing to the given bucket. Credentials come
// from the environment.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Close releases the underlying storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(key string) *gcs.ObjectHandle {
	name := key
	if s.prefix != "" {
		name = s.prefix + "/" + key
	}
	return s.client.Bucket(s.bucket).Object(name)
}

// Put writes an object, replacing any previous content.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close object writer", goerr.V("key", key))
	}
	return nil
}

// Open returns a reader of the object. The caller closes it.
func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, goerr.Wrap(err, "object not found",
				goerr.V("key", key), goerr.T(types.ErrTagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("key", key))
	}
	return r, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil
		}
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}
