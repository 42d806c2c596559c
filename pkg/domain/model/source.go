package model

import (
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// SourceRef identifies the exact source snapshot a run builds, extracted
// from push and pull_request events.
type SourceRef struct {
	Owner      string            // Repository owner
	Repo       string            // Repository name
	CommitSHA  string            // Commit to check out
	Ref        string            // Branch being built (head branch for PRs)
	BaseBranch string            // Branch the event targets (== Ref for push)
	PRNumber   int               // Pull request number, 0 for push
	Trigger    types.TriggerType // Event kind that produced this ref
	Actor      string            // User who triggered the event
	Metadata   map[string]string // Event-specific metadata
}

// FullName returns the owner/repo form used as the repository key.
func (s *SourceRef) FullName() string {
	return s.Owner + "/" + s.Repo
}

// TargetBranch is the branch workflow triggers filter on: the pushed
// branch for push events, the base branch for pull requests.
func (s *SourceRef) TargetBranch() string {
	if s.Trigger == types.TriggerPullRequest {
		return s.BaseBranch
	}
	return s.Ref
}

// CheckoutResult represents the result of materializing a source snapshot
// into a run workspace.
type CheckoutResult struct {
	Dir   string // Directory the snapshot was extracted into
	Files int    // Number of extracted files
	Size  int64  // Total size in bytes
}
