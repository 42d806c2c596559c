package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// DefaultRetention is how long published artifacts are kept when no
// retention is configured.
const DefaultRetention = 90 * 24 * time.Hour

// sweepBatch bounds how many expired artifacts one sweep pass removes.
const sweepBatch = 100

type runUseCase struct {
	repo      interfaces.RunRepository
	store     interfaces.ArtifactStore
	github    interfaces.GitHubClient
	runner    interfaces.JobRunner
	notifier  interfaces.Notifier
	llmClient gollem.LLMClient
	retention time.Duration
	baseURL   string
}

// RunOption configures NewRun.
type RunOption func(*runUseCase)

// WithNotifier announces run completions through the notifier.
func WithNotifier(notifier interfaces.Notifier) RunOption {
	return func(uc *runUseCase) {
		uc.notifier = notifier
	}
}

// WithLLMClient enables failure diagnosis through the LLM client.
func WithLLMClient(llmClient gollem.LLMClient) RunOption {
	return func(uc *runUseCase) {
		uc.llmClient = llmClient
	}
}

// WithRetention sets the artifact retention period. Zero keeps artifacts
// forever.
func WithRetention(d time.Duration) RunOption {
	return func(uc *runUseCase) {
		uc.retention = d
	}
}

// WithRunBaseURL sets the public URL runs are reachable under, used as
// the commit status target.
func WithRunBaseURL(baseURL string) RunOption {
	return func(uc *runUseCase) {
		uc.baseURL = baseURL
	}
}

// NewRun creates a new instance of RunUseCase
func NewRun(
	repo interfaces.RunRepository,
	store interfaces.ArtifactStore,
	githubClient interfaces.GitHubClient,
	runner interfaces.JobRunner,
	options ...RunOption,
) interfaces.RunUseCase {
	uc := &runUseCase{
		repo:      repo,
		store:     store,
		github:    githubClient,
		runner:    runner,
		retention: DefaultRetention,
	}
	for _, opt := range options {
		opt(uc)
	}
	return uc
}

// ExecuteRun drives a queued run to completion: label check, execution,
// log and artifact upload, persistence and reporting.
func (uc *runUseCase) ExecuteRun(ctx context.Context, run *model.Run, job *model.Job, src *model.SourceRef) error {
	logger := ctxlog.From(ctx)

	if !uc.runner.Satisfies(run.RunsOn) {
		logger.Warn("No runner matches job labels",
			"run_id", run.ID,
			"runs_on", run.RunsOn,
			"labels", uc.runner.Labels(),
		)
		run.Finish(types.ConclusionFailure, fmt.Sprintf("no runner matches runs-on %v", run.RunsOn))
		if err := uc.repo.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("failed to record unmatched run %s: %w", run.ID, err)
		}
		uc.report(ctx, run, src)
		return nil
	}

	run.Start()
	if err := uc.repo.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run %s in progress: %w", run.ID, err)
	}

	result, err := uc.runner.Execute(ctx, run, job, src)
	if err != nil {
		logger.Error("Runner failed", "error", err, "run_id", run.ID)
		run.Finish(types.ConclusionFailure, fmt.Sprintf("runner error: %s", err))
		if uerr := uc.repo.UpdateRun(ctx, run); uerr != nil {
			return fmt.Errorf("failed to record runner error for run %s: %w", run.ID, uerr)
		}
		uc.report(ctx, run, src)
		return fmt.Errorf("runner failed for run %s: %w", run.ID, err)
	}

	run.Steps = result.Steps
	uc.uploadLog(ctx, run, result.Log)

	conclusion, reason := result.Conclusion, result.Reason
	if conclusion == types.ConclusionSuccess {
		if err := uc.publishArtifacts(ctx, run, result.Artifacts); err != nil {
			logger.Error("Failed to publish artifacts", "error", err, "run_id", run.ID)
			conclusion = types.ConclusionFailure
			reason = fmt.Sprintf("failed to publish artifacts: %s", err)
		}
	}

	run.Finish(conclusion, reason)

	if run.Conclusion == types.ConclusionFailure && uc.llmClient != nil {
		if diagnosis, err := uc.diagnose(ctx, run); err != nil {
			logger.Warn("Failure diagnosis failed", "error", err, "run_id", run.ID)
		} else {
			run.Diagnosis = diagnosis
		}
	}

	if err := uc.repo.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record result of run %s: %w", run.ID, err)
	}

	logger.Info("Run completed",
		"run_id", run.ID,
		"repository", run.Repository,
		"conclusion", run.Conclusion,
		"reason", run.Reason,
		"duration", run.Duration(),
		"artifacts", len(run.Artifacts),
	)

	uc.report(ctx, run, src)
	return nil
}

// uploadLog stores the combined step log. The run record keeps working
// without it, so failures only log.
func (uc *runUseCase) uploadLog(ctx context.Context, run *model.Run, log []byte) {
	logger := ctxlog.From(ctx)

	if len(log) == 0 {
		return
	}
	key := model.RunLogObjectKey(run.ID)
	if err := uc.store.Put(ctx, key, bytes.NewReader(log), "text/plain; charset=utf-8"); err != nil {
		logger.Warn("Failed to upload run log", "error", err, "run_id", run.ID)
		return
	}
	run.LogObject = key
}

// publishArtifacts uploads the staged archives and records them. The
// staged files are removed in every case.
func (uc *runUseCase) publishArtifacts(ctx context.Context, run *model.Run, harvested []*model.HarvestedArtifact) error {
	logger := ctxlog.From(ctx)

	defer func() {
		for _, h := range harvested {
			if err := os.Remove(h.ArchivePath); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove staged archive",
					"error", err, "path", h.ArchivePath)
			}
		}
	}()

	now := time.Now().UTC()
	for _, h := range harvested {
		record := &model.Artifact{
			ID:          types.NewArtifactID(),
			RunID:       run.ID,
			Name:        h.Name,
			Path:        h.Path,
			Digest:      h.Digest,
			SizeBytes:   h.SizeBytes,
			ContentType: "application/zip",
			Files:       h.Files,
			CreatedAt:   now,
		}
		if uc.retention > 0 {
			record.ExpiresAt = now.Add(uc.retention)
		}

		if err := uc.uploadArchive(ctx, record, h.ArchivePath); err != nil {
			return fmt.Errorf("failed to store artifact %q: %w", h.Name, err)
		}
		if err := uc.repo.CreateArtifact(ctx, record); err != nil {
			return fmt.Errorf("failed to record artifact %q: %w", h.Name, err)
		}

		logger.Info("Published artifact",
			"run_id", run.ID,
			"artifact_id", record.ID,
			"name", record.Name,
			"size_bytes", record.SizeBytes,
			"digest", record.Digest,
		)
		run.Artifacts = append(run.Artifacts, record)
	}
	return nil
}

func (uc *runUseCase) uploadArchive(ctx context.Context, record *model.Artifact, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open staged archive %s: %w", archivePath, err)
	}
	defer f.Close()

	return uc.store.Put(ctx, record.ObjectKey(), f, record.ContentType)
}

// report delivers the run outcome to GitHub and the notifier. Reporting
// never fails the run.
func (uc *runUseCase) report(ctx context.Context, run *model.Run, src *model.SourceRef) {
	logger := ctxlog.From(ctx)

	status := &model.CommitStatus{
		State:       statusState(run),
		Context:     statusContext(run.Workflow),
		Description: statusDescription(run),
		TargetURL:   runURL(uc.baseURL, run.ID),
	}
	if err := uc.github.CreateCommitStatus(ctx, src.Owner, src.Repo, src.CommitSHA, status); err != nil {
		logger.Error("Failed to report commit status", "error", err, "run_id", run.ID)
	}

	if run.Conclusion == types.ConclusionFailure && run.PRNumber > 0 {
		comment := formatFailureComment(run)
		if err := uc.github.CreateComment(ctx, src.Owner, src.Repo, run.PRNumber, comment); err != nil {
			logger.Error("Failed to post PR comment", "error", err, "run_id", run.ID)
		}
	}

	if uc.notifier != nil {
		if err := uc.notifier.NotifyRunCompleted(ctx, run); err != nil {
			logger.Error("Failed to send notification", "error", err, "run_id", run.ID)
		}
	}
}

func statusState(run *model.Run) string {
	switch run.Conclusion {
	case types.ConclusionSuccess:
		return model.StatusSuccess
	case types.ConclusionFailure:
		return model.StatusFailure
	default:
		return model.StatusError
	}
}

func statusDescription(run *model.Run) string {
	if run.Conclusion == types.ConclusionSuccess {
		return fmt.Sprintf("succeeded in %s", run.Duration().Round(time.Second))
	}
	if run.Reason != "" {
		return run.Reason
	}
	return "run " + string(run.Conclusion)
}

// formatFailureComment formats a failed run as a markdown PR comment
func formatFailureComment(run *model.Run) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## ❌ %s failed\n\n", run.Workflow))
	sb.WriteString(fmt.Sprintf("Run `%s` on `%s` @ `%s` failed", run.ID, run.Ref, shortSHA(run.CommitSHA)))
	if run.Reason != "" {
		sb.WriteString(fmt.Sprintf(": %s", run.Reason))
	}
	sb.WriteString("\n")

	if step := run.FailedStep(); step != nil && step.Output != "" {
		sb.WriteString(fmt.Sprintf("\n**Output of `%s`**:\n\n", step.Name))
		sb.WriteString("```\n")
		sb.WriteString(commentTail(step.Output, 2000))
		sb.WriteString("\n```\n")
	}

	if d := run.Diagnosis; d != nil {
		sb.WriteString(fmt.Sprintf("\n**Diagnosis**: %s\n", d.Summary))
		if d.LikelyCause != "" {
			sb.WriteString(fmt.Sprintf("\n**Likely cause**: %s\n", d.LikelyCause))
		}
		if d.Suggestion != "" {
			sb.WriteString(fmt.Sprintf("\n**Suggestion**: %s\n", d.Suggestion))
		}
	}

	sb.WriteString("\n---\n")
	sb.WriteString("🤖 Reported by drover\n")

	return sb.String()
}

func commentTail(s string, limit int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// GetRun returns a run with its artifact records joined.
func (uc *runUseCase) GetRun(ctx context.Context, id types.RunID) (*model.Run, error) {
	run, err := uc.repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	artifacts, err := uc.repo.ListArtifactsByRun(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list run artifacts", goerr.V("run_id", id))
	}
	run.Artifacts = artifacts
	return run, nil
}

// ListRuns returns runs matching the query, newest first.
func (uc *runUseCase) ListRuns(ctx context.Context, q *model.RunQuery) ([]*model.Run, error) {
	if q == nil {
		q = &model.RunQuery{}
	}
	return uc.repo.ListRuns(ctx, q)
}

// ListArtifacts returns the artifact records of a run.
func (uc *runUseCase) ListArtifacts(ctx context.Context, runID types.RunID) ([]*model.Artifact, error) {
	if _, err := uc.repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return uc.repo.ListArtifactsByRun(ctx, runID)
}

// OpenArtifact returns an artifact record and a reader of its archive.
func (uc *runUseCase) OpenArtifact(ctx context.Context, id types.ArtifactID) (*model.Artifact, io.ReadCloser, error) {
	record, err := uc.repo.GetArtifact(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if record.Expired(time.Now().UTC()) {
		return nil, nil, goerr.New("artifact expired",
			goerr.V("artifact_id", id), goerr.T(types.ErrTagExpired))
	}

	rc, err := uc.store.Open(ctx, record.ObjectKey())
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open artifact archive",
			goerr.V("artifact_id", id), goerr.V("key", record.ObjectKey()))
	}
	return record, rc, nil
}

// SweepExpiredArtifacts deletes artifacts past their retention deadline.
func (uc *runUseCase) SweepExpiredArtifacts(ctx context.Context) (int, error) {
	logger := ctxlog.From(ctx)

	expired, err := uc.repo.ListExpiredArtifacts(ctx, time.Now().UTC(), sweepBatch)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list expired artifacts")
	}

	removed := 0
	for _, artifact := range expired {
		if err := uc.store.Delete(ctx, artifact.ObjectKey()); err != nil {
			logger.Warn("Failed to delete expired artifact object",
				"error", err,
				"artifact_id", artifact.ID,
				"key", artifact.ObjectKey(),
			)
			continue
		}
		if err := uc.repo.DeleteArtifact(ctx, artifact.ID); err != nil {
			return removed, goerr.Wrap(err, "failed to delete artifact record",
				goerr.V("artifact_id", artifact.ID))
		}
		removed++
	}

	if removed > 0 {
		logger.Info("Swept expired artifacts", "removed", removed)
	}
	return removed, nil
}
