package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/ctxlog"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// zeroSHA is the after-commit of a branch deletion push.
const zeroSHA = "0000000000000000000000000000000000000000"

// EventProcessor turns GitHub webhook payloads into normalized events
// and source refs for the webhook use case.
type EventProcessor struct {
	webhookUC interfaces.WebhookUseCase
}

// NewEventProcessor creates a new GitHub event processor
func NewEventProcessor(webhookUC interfaces.WebhookUseCase) *EventProcessor {
	return &EventProcessor{
		webhookUC: webhookUC,
	}
}

// ProcessEvent processes a parsed GitHub webhook payload
func (p *EventProcessor) ProcessEvent(ctx context.Context, event *model.WebhookEvent, payload interface{}) error {
	logger := ctxlog.From(ctx)

	switch e := payload.(type) {
	case *github.PushEvent:
		return p.processPushEvent(ctx, event, e)
	case *github.PullRequestEvent:
		return p.processPullRequestEvent(ctx, event, e)
	default:
		logger.Info("Ignoring unsupported event type", "event_type", event.Type)
		return nil
	}
}

// processPushEvent handles a push event
func (p *EventProcessor) processPushEvent(ctx context.Context, event *model.WebhookEvent, pushEvent *github.PushEvent) error {
	logger := ctxlog.From(ctx)

	if pushEvent.GetDeleted() || pushEvent.GetAfter() == zeroSHA {
		logger.Info("Ignoring branch deletion push", "ref", pushEvent.GetRef())
		return nil
	}

	ref := pushEvent.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") {
		logger.Info("Ignoring push to non-branch ref", "ref", ref)
		return nil
	}
	branch := strings.TrimPrefix(ref, "refs/heads/")

	src, err := extractPushSource(pushEvent, branch)
	if err != nil {
		logger.Error("Failed to extract push source", "error", err)
		return err
	}

	event.Repository = pushEvent.GetRepo().GetFullName()
	event.Ref = branch
	event.Sender = pushEvent.GetSender().GetLogin()

	logger.Info("Processing push event",
		"repository", event.Repository,
		"branch", branch,
		"commit_sha", src.CommitSHA,
	)

	return p.webhookUC.ProcessEvent(ctx, event, src)
}

// processPullRequestEvent handles a pull_request event
func (p *EventProcessor) processPullRequestEvent(ctx context.Context, event *model.WebhookEvent, prEvent *github.PullRequestEvent) error {
	logger := ctxlog.From(ctx)

	event.Action = prEvent.GetAction()
	if !event.IsSupportedEvent() {
		logger.Info("Ignoring pull request action", "action", event.Action)
		return nil
	}

	src, err := extractPullRequestSource(prEvent)
	if err != nil {
		logger.Error("Failed to extract pull request source", "error", err)
		return err
	}

	event.Repository = prEvent.GetRepo().GetFullName()
	event.Sender = prEvent.GetSender().GetLogin()

	logger.Info("Processing pull request event",
		"repository", event.Repository,
		"number", src.PRNumber,
		"action", event.Action,
		"head_sha", src.CommitSHA,
	)

	return p.webhookUC.ProcessEvent(ctx, event, src)
}

// extractPushSource extracts the source ref of a push event
func extractPushSource(event *github.PushEvent, branch string) (*model.SourceRef, error) {
	owner := event.GetRepo().GetOwner().GetLogin()
	if owner == "" {
		// Push payloads carry the legacy owner shape with name only
		owner = event.GetRepo().GetOwner().GetName()
	}
	repo := event.GetRepo().GetName()
	commitSHA := event.GetAfter()

	if owner == "" || repo == "" || commitSHA == "" {
		return nil, fmt.Errorf("missing required fields: owner=%s, repo=%s, commit_sha=%s", owner, repo, commitSHA)
	}

	return &model.SourceRef{
		Owner:      owner,
		Repo:       repo,
		CommitSHA:  commitSHA,
		Ref:        branch,
		BaseBranch: branch,
		Trigger:    types.TriggerPush,
		Actor:      event.GetSender().GetLogin(),
	}, nil
}

// extractPullRequestSource extracts the source ref of a pull_request
// event. Runs build the head commit; triggers filter on the base branch.
func extractPullRequestSource(event *github.PullRequestEvent) (*model.SourceRef, error) {
	owner := event.GetRepo().GetOwner().GetLogin()
	repo := event.GetRepo().GetName()
	pr := event.GetPullRequest()
	commitSHA := pr.GetHead().GetSHA()
	number := pr.GetNumber()

	if owner == "" || repo == "" || commitSHA == "" || number == 0 {
		return nil, fmt.Errorf("missing required fields: owner=%s, repo=%s, commit_sha=%s, number=%d", owner, repo, commitSHA, number)
	}

	return &model.SourceRef{
		Owner:      owner,
		Repo:       repo,
		CommitSHA:  commitSHA,
		Ref:        pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		PRNumber:   number,
		Trigger:    types.TriggerPullRequest,
		Actor:      event.GetSender().GetLogin(),
	}, nil
}
