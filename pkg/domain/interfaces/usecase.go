package interfaces

import (
	"context"
	"io"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// WebhookUseCase defines the interface for webhook event processing
type WebhookUseCase interface {
	// ProcessEvent matches an event against the repository's workflow and
	// starts a run when the triggers match. It returns nil for events
	// that simply do not start a run.
	ProcessEvent(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error
}

// RunUseCase defines operations around run execution and retrieval
type RunUseCase interface {
	// ExecuteRun drives a queued run to completion: execution, artifact
	// upload, persistence and reporting.
	ExecuteRun(ctx context.Context, run *model.Run, job *model.Job, src *model.SourceRef) error

	// GetRun returns a run with its artifact records joined.
	GetRun(ctx context.Context, id types.RunID) (*model.Run, error)

	// ListRuns returns runs matching the query, newest first.
	ListRuns(ctx context.Context, q *model.RunQuery) ([]*model.Run, error)

	// ListArtifacts returns the artifact records of a run.
	ListArtifacts(ctx context.Context, runID types.RunID) ([]*model.Artifact, error)

	// OpenArtifact returns an artifact record and a reader of its archive.
	// The caller closes the reader.
	OpenArtifact(ctx context.Context, id types.ArtifactID) (*model.Artifact, io.ReadCloser, error)

	// SweepExpiredArtifacts deletes artifacts past their retention
	// deadline and returns how many were removed.
	SweepExpiredArtifacts(ctx context.Context) (int, error)
}
