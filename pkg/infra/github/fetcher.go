package github

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/ctxlog"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
)

// ZipballFetcher materializes the source snapshot of a commit by
// downloading the repository zipball and extracting it into the run
// workspace. GitHub wraps the tree in a single top-level directory
// (owner-repo-sha); the fetcher strips it so the workspace root is the
// repository root.
type ZipballFetcher struct {
	client interfaces.GitHubClient
}

// NewZipballFetcher creates a SourceFetcher backed by the GitHub API.
func NewZipballFetcher(client interfaces.GitHubClient) *ZipballFetcher {
	return &ZipballFetcher{client: client}
}

// Fetch downloads and extracts the snapshot at src.CommitSHA into destDir.
func (f *ZipballFetcher) Fetch(ctx context.Context, src *model.SourceRef, destDir string) (*model.CheckoutResult, error) {
	logger := ctxlog.From(ctx)

	zipData, err := f.client.DownloadZipball(ctx, src.Owner, src.Repo, src.CommitSHA)
	if err != nil {
		return nil, fmt.Errorf("failed to download zipball for %s@%s: %w", src.FullName(), src.CommitSHA, err)
	}

	logger.Debug("Downloaded zipball",
		"size_bytes", len(zipData),
		"repo", src.FullName(),
		"commit_sha", src.CommitSHA,
	)

	result, err := extractZip(zipData, destDir)
	if err != nil {
		return nil, fmt.Errorf("failed to extract zip for %s: %w", src.FullName(), err)
	}
	return result, nil
}

// extractZip extracts ZIP data into destDir, stripping the zipball's
// top-level directory.
func extractZip(zipData []byte, destDir string) (*model.CheckoutResult, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zip reader: %w", err)
	}

	var files int
	var totalSize int64

	for _, file := range zipReader.File {
		name := stripRoot(file.Name)
		if name == "" {
			continue
		}

		if err := extractFile(file, name, destDir); err != nil {
			return nil, fmt.Errorf("failed to extract file %s: %w", file.Name, err)
		}

		if !file.FileInfo().IsDir() {
			files++
			totalSize += int64(file.UncompressedSize64)
		}
	}

	return &model.CheckoutResult{
		Dir:   destDir,
		Files: files,
		Size:  totalSize,
	}, nil
}

// stripRoot removes the leading path element of a zipball entry.
func stripRoot(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// extractFile extracts a single file from ZIP to the destination directory
func extractFile(file *zip.File, name, destDir string) error {
	// Security check: prevent path traversal attacks
	destPath := filepath.Join(destDir, name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("invalid file path detected: file=%s, dest=%s", file.Name, destPath)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0755)
	}

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open file %s in zip: %w", file.Name, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories %s: %w", filepath.Dir(destPath), err)
	}

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.FileInfo().Mode())
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destPath, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, rc); err != nil {
		return fmt.Errorf("failed to copy file content to %s: %w", destPath, err)
	}

	return nil
}
