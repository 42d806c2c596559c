package storage_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/drover/pkg/infra/storage"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	gt.NoError(t, err)

	key := "runs/run-1/artifacts/bin.zip"
	gt.NoError(t, store.Put(ctx, key, bytes.NewReader([]byte("archive data")), "application/zip"))

	r, err := store.Open(ctx, key)
	gt.NoError(t, err)
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
	gt.Equal(t, string(data), "archive data")

	// Overwrite replaces the content
	gt.NoError(t, store.Put(ctx, key, strings.NewReader("updated"), "application/zip"))
	r, err = store.Open(ctx, key)
	gt.NoError(t, err)
	data, err = io.ReadAll(r)
	gt.NoError(t, err)
	gt.NoError(t, r.Close())
	gt.Equal(t, string(data), "updated")
}

func TestLocalStore_OpenMissing(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	gt.NoError(t, err)

	_, err = store.Open(ctx, "runs/none/log.txt")
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, types.ErrTagNotFound))
}

func TestLocalStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	gt.NoError(t, err)

	key := "runs/run-1/log.txt"
	gt.NoError(t, store.Put(ctx, key, strings.NewReader("log"), "text/plain"))
	gt.NoError(t, store.Delete(ctx, key))

	_, err = store.Open(ctx, key)
	gt.Error(t, err)

	// Delete is idempotent
	gt.NoError(t, store.Delete(ctx, key))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	gt.NoError(t, err)

	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b", "."} {
		t.Run(key, func(t *testing.T) {
			err := store.Put(ctx, key, strings.NewReader("x"), "")
			gt.Error(t, err)
			gt.True(t, goerr.HasTag(err, types.ErrTagValidation))
		})
	}
}
