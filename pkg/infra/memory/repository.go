package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// Repository is an in-memory RunRepository. It backs local one-shot
// execution and tests, and keeps the same semantics as the Firestore
// implementation: delivery IDs are unique, deletes are idempotent.
type Repository struct {
	mu         sync.RWMutex
	runs       map[types.RunID]*model.Run
	deliveries map[types.DeliveryID]types.RunID
	artifacts  map[types.ArtifactID]*model.Artifact
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{
		runs:       make(map[types.RunID]*model.Run),
		deliveries: make(map[types.DeliveryID]types.RunID),
		artifacts:  make(map[types.ArtifactID]*model.Artifact),
	}
}

// CreateRun stores a new run, rejecting a second run for the same delivery.
func (r *Repository) CreateRun(ctx context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.DeliveryID != "" {
		if _, ok := r.deliveries[run.DeliveryID]; ok {
			return goerr.New("run already exists for delivery",
				goerr.V("delivery_id", run.DeliveryID),
				goerr.T(types.ErrTagConflict))
		}
	}
	if _, ok := r.runs[run.ID]; ok {
		return goerr.New("run already exists",
			goerr.V("run_id", run.ID), goerr.T(types.ErrTagConflict))
	}

	r.runs[run.ID] = cloneRun(run)
	if run.DeliveryID != "" {
		r.deliveries[run.DeliveryID] = run.ID
	}
	return nil
}

// UpdateRun overwrites an existing run.
func (r *Repository) UpdateRun(ctx context.Context, run *model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return goerr.New("run not found",
			goerr.V("run_id", run.ID), goerr.T(types.ErrTagNotFound))
	}
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun returns the stored run.
func (r *Repository) GetRun(ctx context.Context, id types.RunID) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, goerr.New("run not found",
			goerr.V("run_id", id), goerr.T(types.ErrTagNotFound))
	}
	return cloneRun(run), nil
}

// ListRuns returns runs matching the query, newest first.
func (r *Repository) ListRuns(ctx context.Context, q *model.RunQuery) ([]*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []*model.Run
	for _, run := range r.runs {
		if q.Repository != "" && run.Repository != q.Repository {
			continue
		}
		if q.Status != "" && run.Status != q.Status {
			continue
		}
		runs = append(runs, cloneRun(run))
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if q.Limit > 0 && len(runs) > q.Limit {
		runs = runs[:q.Limit]
	}
	return runs, nil
}

// CreateArtifact stores a new artifact record.
func (r *Repository) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.artifacts[artifact.ID]; ok {
		return goerr.New("artifact already exists",
			goerr.V("artifact_id", artifact.ID), goerr.T(types.ErrTagConflict))
	}

	clone := *artifact
	r.artifacts[artifact.ID] = &clone
	return nil
}

// GetArtifact returns the stored artifact record.
func (r *Repository) GetArtifact(ctx context.Context, id types.ArtifactID) (*model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifact, ok := r.artifacts[id]
	if !ok {
		return nil, goerr.New("artifact not found",
			goerr.V("artifact_id", id), goerr.T(types.ErrTagNotFound))
	}

	clone := *artifact
	return &clone, nil
}

// ListArtifactsByRun returns the artifact records of a run, ordered by name.
func (r *Repository) ListArtifactsByRun(ctx context.Context, runID types.RunID) ([]*model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var artifacts []*model.Artifact
	for _, artifact := range r.artifacts {
		if artifact.RunID != runID {
			continue
		}
		clone := *artifact
		artifacts = append(artifacts, &clone)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

// ListExpiredArtifacts returns up to limit artifacts past their expiry,
// oldest deadline first.
func (r *Repository) ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*model.Artifact
	for _, artifact := range r.artifacts {
		if !artifact.Expired(now) {
			continue
		}
		clone := *artifact
		expired = append(expired, &clone)
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// DeleteArtifact removes an artifact record. Deleting a missing record
// is not an error.
func (r *Repository) DeleteArtifact(ctx context.Context, id types.ArtifactID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.artifacts, id)
	return nil
}

// cloneRun copies a run so callers never share state with the store. The
// joined Artifacts field is not persisted.
func cloneRun(run *model.Run) *model.Run {
	clone := *run
	clone.Artifacts = nil

	if run.RunsOn != nil {
		clone.RunsOn = append([]string(nil), run.RunsOn...)
	}
	if run.Steps != nil {
		clone.Steps = make([]*model.StepResult, len(run.Steps))
		for i, step := range run.Steps {
			s := *step
			clone.Steps[i] = &s
		}
	}
	if run.Diagnosis != nil {
		d := *run.Diagnosis
		clone.Diagnosis = &d
	}
	return &clone
}
