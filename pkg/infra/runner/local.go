package runner

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/model"
)

// LocalFetcher copies a working tree into the run workspace. drover exec
// uses it so the checkout builtin works without the GitHub API.
type LocalFetcher struct {
	dir string
}

// NewLocalFetcher creates a fetcher reading from dir.
func NewLocalFetcher(dir string) *LocalFetcher {
	return &LocalFetcher{dir: dir}
}

// Fetch copies the tree into destDir, skipping the VCS directory.
func (f *LocalFetcher) Fetch(ctx context.Context, src *model.SourceRef, destDir string) (*model.CheckoutResult, error) {
	var files int
	var size int64

	err := filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(f.dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		dest := filepath.Join(destDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		n, err := copyFile(path, dest)
		if err != nil {
			return err
		}
		files++
		size += n
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to copy source tree",
			goerr.V("dir", f.dir))
	}

	return &model.CheckoutResult{
		Dir:   destDir,
		Files: files,
		Size:  size,
	}, nil
}

func copyFile(srcPath, destPath string) (int64, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	return n, out.Close()
}
