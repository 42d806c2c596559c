package interfaces

import (
	"context"

	"github.com/m-mizutani/drover/pkg/domain/model"
)

// GitHubClient defines the interface for GitHub API operations
type GitHubClient interface {
	// DownloadZipball downloads the repository archive at the given ref.
	DownloadZipball(ctx context.Context, owner, repo, ref string) ([]byte, error)

	// GetFileContent returns the content of a single file at the given ref.
	GetFileContent(ctx context.Context, owner, repo, ref, path string) ([]byte, error)

	// CreateCommitStatus sets a commit status on the given SHA.
	CreateCommitStatus(ctx context.Context, owner, repo, sha string, status *model.CommitStatus) error

	// CreateComment posts a comment to an issue or pull request.
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
}
