package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/types"
)

// LocalStore keeps objects as files under a base directory. It backs
// drover exec and deployments without a bucket. Writes go through a
// temporary file and a rename, so readers never see partial objects.
type LocalStore struct {
	baseDir string
}

// NewLocal creates a store rooted at baseDir, creating it if needed.
func NewLocal(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory",
			goerr.V("dir", baseDir))
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", goerr.New("invalid object key",
			goerr.V("key", key), goerr.T(types.ErrTagValidation))
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Put writes an object, replacing any previous content. The content type
// is ignored; it lives on the artifact record.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return goerr.Wrap(err, "failed to create object directory",
			goerr.V("key", key))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary object",
			goerr.V("key", key))
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temporary object",
			goerr.V("key", key))
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to place object", goerr.V("key", key))
	}
	return nil
}

// Open returns a reader of the object. The caller closes it.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(err, "object not found",
				goerr.V("key", key), goerr.T(types.ErrTagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("key", key))
	}
	return f, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}
