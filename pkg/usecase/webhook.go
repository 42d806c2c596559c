package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/drover/pkg/utils/async"
)

type webhookUseCase struct {
	repo       interfaces.RunRepository
	github     interfaces.GitHubClient
	runs       interfaces.RunUseCase
	dispatcher *async.Dispatcher
	registry   *model.Registry
	baseURL    string
}

// WebhookOption configures NewWebhook.
type WebhookOption func(*webhookUseCase)

// WithRegistry restricts processing to repositories listed in the
// registry and applies its workflow path overrides.
func WithRegistry(registry *model.Registry) WebhookOption {
	return func(uc *webhookUseCase) {
		uc.registry = registry
	}
}

// WithBaseURL sets the public URL runs are reachable under, used as the
// commit status target.
func WithBaseURL(baseURL string) WebhookOption {
	return func(uc *webhookUseCase) {
		uc.baseURL = baseURL
	}
}

// NewWebhook creates a new instance of WebhookUseCase
func NewWebhook(
	repo interfaces.RunRepository,
	githubClient interfaces.GitHubClient,
	runs interfaces.RunUseCase,
	dispatcher *async.Dispatcher,
	options ...WebhookOption,
) interfaces.WebhookUseCase {
	uc := &webhookUseCase{
		repo:       repo,
		github:     githubClient,
		runs:       runs,
		dispatcher: dispatcher,
	}
	for _, opt := range options {
		opt(uc)
	}
	return uc
}

// ProcessEvent matches a webhook event against the repository's workflow
// and starts a run when the triggers match.
func (uc *webhookUseCase) ProcessEvent(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error {
	logger := ctxlog.From(ctx)

	logger.Info("Processing webhook event",
		"id", event.ID,
		"type", event.Type,
		"action", event.Action,
		"repository", event.Repository,
		"sender", event.Sender,
	)

	if !event.IsSupportedEvent() {
		logger.Warn("Unsupported event received",
			"type", event.Type,
			"action", event.Action,
		)
		return nil
	}

	workflowPath, enabled := uc.registry.WorkflowPath(event.Repository)
	if !enabled {
		logger.Debug("Repository not enabled", "repository", event.Repository)
		return nil
	}

	data, err := uc.github.GetFileContent(ctx, src.Owner, src.Repo, src.CommitSHA, workflowPath)
	if err != nil {
		if goerr.HasTag(err, types.ErrTagNotFound) {
			logger.Debug("No workflow file at commit",
				"repository", event.Repository,
				"path", workflowPath,
				"commit_sha", src.CommitSHA,
			)
			return nil
		}
		return fmt.Errorf("failed to load workflow %s from %s@%s: %w", workflowPath, event.Repository, src.CommitSHA, err)
	}

	workflow, err := model.ParseWorkflow(data)
	if err != nil {
		logger.Warn("Invalid workflow definition",
			"repository", event.Repository,
			"path", workflowPath,
			"error", err,
		)
		return uc.recordInvalidWorkflow(ctx, event, src, workflowPath, err)
	}

	if !workflow.Matches(src) {
		logger.Debug("Workflow does not match event",
			"workflow", workflow.DisplayName(),
			"trigger", src.Trigger,
			"branch", src.TargetBranch(),
		)
		return nil
	}

	jobID, job := workflow.Job()
	run := model.NewRun(src, event.ID, workflow.DisplayName(), jobID, job.RunsOn)

	if err := uc.repo.CreateRun(ctx, run); err != nil {
		if goerr.HasTag(err, types.ErrTagConflict) {
			logger.Info("Duplicate delivery, run already recorded",
				"delivery_id", event.ID,
				"repository", event.Repository,
			)
			return nil
		}
		return fmt.Errorf("failed to create run for %s: %w", event.Repository, err)
	}

	logger.Info("Run created",
		"run_id", run.ID,
		"repository", run.Repository,
		"workflow", run.Workflow,
		"ref", run.Ref,
		"commit_sha", run.CommitSHA,
	)

	uc.reportPending(ctx, run, src)

	uc.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
		return uc.runs.ExecuteRun(ctx, run, job, src)
	})

	return nil
}

// recordInvalidWorkflow records a failed run for a commit whose workflow
// file does not parse, so the result is visible on the commit and in the
// run API.
func (uc *webhookUseCase) recordInvalidWorkflow(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef, workflowPath string, parseErr error) error {
	logger := ctxlog.From(ctx)

	run := model.NewRun(src, event.ID, workflowPath, "", nil)
	run.Finish(types.ConclusionFailure, fmt.Sprintf("invalid workflow: %s", parseErr))

	if err := uc.repo.CreateRun(ctx, run); err != nil {
		if goerr.HasTag(err, types.ErrTagConflict) {
			logger.Info("Duplicate delivery, run already recorded",
				"delivery_id", event.ID,
				"repository", event.Repository,
			)
			return nil
		}
		return fmt.Errorf("failed to record invalid workflow run for %s: %w", event.Repository, err)
	}

	status := &model.CommitStatus{
		State:       model.StatusError,
		Context:     statusContext(run.Workflow),
		Description: run.Reason,
		TargetURL:   runURL(uc.baseURL, run.ID),
	}
	if err := uc.github.CreateCommitStatus(ctx, src.Owner, src.Repo, src.CommitSHA, status); err != nil {
		logger.Error("Failed to report commit status", "error", err, "run_id", run.ID)
	}
	return nil
}

func (uc *webhookUseCase) reportPending(ctx context.Context, run *model.Run, src *model.SourceRef) {
	logger := ctxlog.From(ctx)

	status := &model.CommitStatus{
		State:       model.StatusPending,
		Context:     statusContext(run.Workflow),
		Description: "run queued",
		TargetURL:   runURL(uc.baseURL, run.ID),
	}
	if err := uc.github.CreateCommitStatus(ctx, src.Owner, src.Repo, src.CommitSHA, status); err != nil {
		logger.Error("Failed to report commit status", "error", err, "run_id", run.ID)
	}
}

// statusContext names the commit status line, one per workflow.
func statusContext(workflow string) string {
	return types.AppName + "/" + workflow
}

// runURL builds the public run URL, empty when no base URL is configured.
func runURL(baseURL string, runID types.RunID) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimSuffix(baseURL, "/") + "/api/v1/runs/" + runID.String()
}
