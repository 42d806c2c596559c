package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

type client struct {
	githubClient *github.Client
}

// NewClient creates a new GitHub client with App authentication
func NewClient(appID, installationID int64, privateKey []byte) (interfaces.GitHubClient, error) {
	// Create GitHub App transport
	itr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}

	githubClient := github.NewClient(&http.Client{Transport: itr})

	return &client{
		githubClient: githubClient,
	}, nil
}

// NewClientFromConfig creates a client from a private key held as a
// string, as loaded from configuration.
func NewClientFromConfig(appID, installationID int64, privateKey string) (interfaces.GitHubClient, error) {
	return NewClient(appID, installationID, []byte(privateKey))
}

// DownloadZipball downloads the source code zipball for a specific commit
func (c *client) DownloadZipball(ctx context.Context, owner, repo, ref string) ([]byte, error) {
	// Get download URL for zipball
	url, _, err := c.githubClient.Repositories.GetArchiveLink(ctx, owner, repo, github.Zipball, &github.RepositoryContentGetOptions{
		Ref: ref,
	}, 3) // Follow up to 3 redirects

	if err != nil {
		return nil, fmt.Errorf("failed to get zipball download URL for %s/%s@%s: %w", owner, repo, ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request for %s: %w", url.String(), err)
	}

	// Use the same client transport for authentication
	httpClient := &http.Client{Transport: c.githubClient.Client().Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download zipball from %s: %w", url.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url.String())
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// GetFileContent fetches a single file at the given ref. Missing files
// are reported with a not_found tag so callers can treat "repository has
// no workflow" as a non-error.
func (c *client) GetFileContent(ctx context.Context, owner, repo, ref, path string) ([]byte, error) {
	fileContent, _, _, err := c.githubClient.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{
		Ref: ref,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(err, "file not found",
				goerr.V("path", path), goerr.T(types.ErrTagNotFound))
		}
		return nil, fmt.Errorf("failed to get contents of %s/%s@%s:%s: %w", owner, repo, ref, path, err)
	}
	if fileContent == nil {
		return nil, goerr.New("path is not a file",
			goerr.V("path", path), goerr.T(types.ErrTagValidation))
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode contents of %s: %w", path, err)
	}
	return []byte(content), nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// CreateCommitStatus sets a commit status on the given SHA
func (c *client) CreateCommitStatus(ctx context.Context, owner, repo, sha string, status *model.CommitStatus) error {
	// GitHub caps status descriptions at 140 characters
	desc := status.Description
	if len(desc) > 140 {
		desc = desc[:137] + "..."
	}

	repoStatus := &github.RepoStatus{
		State:       github.String(status.State),
		Context:     github.String(status.Context),
		Description: github.String(desc),
	}
	if status.TargetURL != "" {
		repoStatus.TargetURL = github.String(status.TargetURL)
	}

	if _, _, err := c.githubClient.Repositories.CreateStatus(ctx, owner, repo, sha, repoStatus); err != nil {
		return fmt.Errorf("failed to create commit status for %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}

// CreateComment posts a comment to an issue or pull request
func (c *client) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.githubClient.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to create comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}
