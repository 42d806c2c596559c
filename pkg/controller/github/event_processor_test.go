package github_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-github/v75/github"
	"github.com/m-mizutani/gt"

	githubcontroller "github.com/m-mizutani/drover/pkg/controller/github"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// MockWebhookUseCase is a mock implementation of WebhookUseCase
type MockWebhookUseCase struct {
	processEventFunc func(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error
	processCalls     []MockWebhookCall
}

type MockWebhookCall struct {
	Event *model.WebhookEvent
	Src   *model.SourceRef
}

func (m *MockWebhookUseCase) ProcessEvent(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error {
	m.processCalls = append(m.processCalls, MockWebhookCall{Event: event, Src: src})
	if m.processEventFunc != nil {
		return m.processEventFunc(ctx, event, src)
	}
	return nil
}

func newEvent(eventType model.WebhookEventType) *model.WebhookEvent {
	return &model.WebhookEvent{
		ID:         "test-delivery-id",
		Type:       eventType,
		ReceivedAt: time.Now(),
	}
}

func pushPayload() *github.PushEvent {
	return &github.PushEvent{
		Ref:   github.Ptr("refs/heads/main"),
		After: github.Ptr("abc123def456"),
		Repo: &github.PushEventRepository{
			Name:     github.Ptr("test-repo"),
			FullName: github.Ptr("test-owner/test-repo"),
			Owner: &github.User{
				Login: github.Ptr("test-owner"),
			},
		},
		Sender: &github.User{Login: github.Ptr("octocat")},
	}
}

func TestEventProcessor_ProcessPushEvent(t *testing.T) {
	ctx := context.Background()

	// Setup mock use case
	mockUC := &MockWebhookUseCase{}
	processor := githubcontroller.NewEventProcessor(mockUC)

	// Execute
	event := newEvent(model.EventTypePush)
	err := processor.ProcessEvent(ctx, event, pushPayload())

	// Verify
	gt.NoError(t, err)
	gt.Equal(t, len(mockUC.processCalls), 1)

	call := mockUC.processCalls[0]
	gt.Equal(t, call.Src.Owner, "test-owner")
	gt.Equal(t, call.Src.Repo, "test-repo")
	gt.Equal(t, call.Src.CommitSHA, "abc123def456")
	gt.Equal(t, call.Src.Ref, "main")
	gt.Equal(t, call.Src.BaseBranch, "main")
	gt.Equal(t, call.Src.Trigger, types.TriggerPush)
	gt.Equal(t, call.Src.Actor, "octocat")
	gt.Equal(t, call.Event.Repository, "test-owner/test-repo")
	gt.Equal(t, call.Event.Ref, "main")
}

func TestEventProcessor_ProcessPushEvent_LegacyOwnerName(t *testing.T) {
	ctx := context.Background()

	mockUC := &MockWebhookUseCase{}
	processor := githubcontroller.NewEventProcessor(mockUC)

	payload := pushPayload()
	payload.Repo.Owner = &github.User{Name: github.Ptr("test-owner")}

	gt.NoError(t, processor.ProcessEvent(ctx, newEvent(model.EventTypePush), payload))
	gt.Equal(t, len(mockUC.processCalls), 1)
	gt.Equal(t, mockUC.processCalls[0].Src.Owner, "test-owner")
}

func TestEventProcessor_ProcessPushEvent_Skipped(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		payload *github.PushEvent
	}{
		{
			name: "Branch deletion",
			payload: func() *github.PushEvent {
				p := pushPayload()
				p.Deleted = github.Ptr(true)
				p.After = github.Ptr(zeroSHATest)
				return p
			}(),
		},
		{
			name: "Zero after SHA without deleted flag",
			payload: func() *github.PushEvent {
				p := pushPayload()
				p.After = github.Ptr(zeroSHATest)
				return p
			}(),
		},
		{
			name: "Tag push",
			payload: func() *github.PushEvent {
				p := pushPayload()
				p.Ref = github.Ptr("refs/tags/v1.0.0")
				return p
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUC := &MockWebhookUseCase{}
			processor := githubcontroller.NewEventProcessor(mockUC)

			gt.NoError(t, processor.ProcessEvent(ctx, newEvent(model.EventTypePush), tt.payload))
			gt.Equal(t, len(mockUC.processCalls), 0)
		})
	}
}

const zeroSHATest = "0000000000000000000000000000000000000000"

func TestEventProcessor_ProcessPushEvent_MissingFields(t *testing.T) {
	ctx := context.Background()

	mockUC := &MockWebhookUseCase{}
	processor := githubcontroller.NewEventProcessor(mockUC)

	payload := pushPayload()
	payload.Repo.Name = nil

	err := processor.ProcessEvent(ctx, newEvent(model.EventTypePush), payload)
	gt.Error(t, err)
	gt.Equal(t, len(mockUC.processCalls), 0)
}

func prPayload(action string) *github.PullRequestEvent {
	return &github.PullRequestEvent{
		Action: github.Ptr(action),
		Number: github.Ptr(42),
		PullRequest: &github.PullRequest{
			Number: github.Ptr(42),
			Head: &github.PullRequestBranch{
				SHA: github.Ptr("feedface0123"),
				Ref: github.Ptr("feature/build"),
			},
			Base: &github.PullRequestBranch{
				Ref: github.Ptr("main"),
			},
		},
		Repo: &github.Repository{
			Name:     github.Ptr("test-repo"),
			FullName: github.Ptr("test-owner/test-repo"),
			Owner:    &github.User{Login: github.Ptr("test-owner")},
		},
		Sender: &github.User{Login: github.Ptr("octocat")},
	}
}

func TestEventProcessor_ProcessPullRequestEvent(t *testing.T) {
	ctx := context.Background()

	mockUC := &MockWebhookUseCase{}
	processor := githubcontroller.NewEventProcessor(mockUC)

	event := newEvent(model.EventTypePullRequest)
	gt.NoError(t, processor.ProcessEvent(ctx, event, prPayload("opened")))

	gt.Equal(t, len(mockUC.processCalls), 1)
	call := mockUC.processCalls[0]
	gt.Equal(t, call.Src.Owner, "test-owner")
	gt.Equal(t, call.Src.CommitSHA, "feedface0123")
	gt.Equal(t, call.Src.Ref, "feature/build")
	gt.Equal(t, call.Src.BaseBranch, "main")
	gt.Equal(t, call.Src.PRNumber, 42)
	gt.Equal(t, call.Src.Trigger, types.TriggerPullRequest)
	gt.Equal(t, call.Event.Action, "opened")
}

func TestEventProcessor_ProcessPullRequestEvent_IgnoredAction(t *testing.T) {
	ctx := context.Background()

	for _, action := range []string{"closed", "labeled", "assigned"} {
		t.Run(action, func(t *testing.T) {
			mockUC := &MockWebhookUseCase{}
			processor := githubcontroller.NewEventProcessor(mockUC)

			gt.NoError(t, processor.ProcessEvent(ctx, newEvent(model.EventTypePullRequest), prPayload(action)))
			gt.Equal(t, len(mockUC.processCalls), 0)
		})
	}
}

func TestEventProcessor_UnsupportedPayload(t *testing.T) {
	ctx := context.Background()

	mockUC := &MockWebhookUseCase{}
	processor := githubcontroller.NewEventProcessor(mockUC)

	gt.NoError(t, processor.ProcessEvent(ctx, newEvent("release"), &github.ReleaseEvent{}))
	gt.Equal(t, len(mockUC.processCalls), 0)
}
