package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// RunRepository persists run and artifact records.
type RunRepository interface {
	// CreateRun stores a new run. The run's delivery ID is unique: a
	// second run for the same delivery fails with a conflict error.
	CreateRun(ctx context.Context, run *model.Run) error

	// UpdateRun overwrites the stored run.
	UpdateRun(ctx context.Context, run *model.Run) error

	// GetRun returns the run or a not_found tagged error.
	GetRun(ctx context.Context, id types.RunID) (*model.Run, error)

	// ListRuns returns runs matching the query, newest first.
	ListRuns(ctx context.Context, q *model.RunQuery) ([]*model.Run, error)

	CreateArtifact(ctx context.Context, artifact *model.Artifact) error
	GetArtifact(ctx context.Context, id types.ArtifactID) (*model.Artifact, error)
	ListArtifactsByRun(ctx context.Context, runID types.RunID) ([]*model.Artifact, error)

	// ListExpiredArtifacts returns up to limit artifacts whose expiry is
	// before now.
	ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error)

	DeleteArtifact(ctx context.Context, id types.ArtifactID) error
}

// ArtifactStore reads and writes archive objects and run logs.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// SourceFetcher places the source tree of a commit into a directory.
type SourceFetcher interface {
	Fetch(ctx context.Context, src *model.SourceRef, destDir string) (*model.CheckoutResult, error)
}

// JobRunner executes a single job against a checked out source tree.
type JobRunner interface {
	// Labels returns the labels this runner offers.
	Labels() []string

	// Satisfies reports whether every requested label is offered.
	Satisfies(runsOn []string) bool

	// Execute runs the job and returns its result. The returned error
	// covers runner failures only; step failures are reported through
	// the result's conclusion.
	Execute(ctx context.Context, run *model.Run, job *model.Job, src *model.SourceRef) (*model.JobResult, error)
}

// Notifier delivers run completion notices to an external channel.
type Notifier interface {
	NotifyRunCompleted(ctx context.Context, run *model.Run) error
}
