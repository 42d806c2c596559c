package model

import (
	"time"

	"github.com/m-mizutani/drover/pkg/domain/types"
)

// WebhookEventType represents the type of webhook event received
type WebhookEventType string

const (
	EventTypePush        WebhookEventType = "push"
	EventTypePullRequest WebhookEventType = "pull_request"
	EventTypeUnknown     WebhookEventType = "unknown"
)

// WebhookEvent represents a webhook event received from GitHub
type WebhookEvent struct {
	ID         types.DeliveryID // Retrieved from X-GitHub-Delivery header
	Type       WebhookEventType // Retrieved from X-GitHub-Event header
	Action     string           // Event action (e.g., opened, synchronize)
	Repository string           // Repository full name (owner/repo)
	Ref        string           // Git ref of the push, empty for pull_request
	Sender     string           // Sender username
	ReceivedAt time.Time        // Time when the event was received
	RawPayload []byte           // Raw JSON payload
}

// pull_request actions that can start a run. Matches the default action
// set of the hosted CI platforms drover imitates.
var supportedPRActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// IsSupportedEvent checks if the event can start a run at all. Workflow
// triggers and branch filters are applied later against the SourceRef.
func (e *WebhookEvent) IsSupportedEvent() bool {
	switch e.Type {
	case EventTypePush:
		return true
	case EventTypePullRequest:
		return supportedPRActions[e.Action]
	default:
		return false
	}
}

// TriggerType maps the event type to the run trigger.
func (e *WebhookEvent) TriggerType() types.TriggerType {
	switch e.Type {
	case EventTypePush:
		return types.TriggerPush
	case EventTypePullRequest:
		return types.TriggerPullRequest
	default:
		return ""
	}
}
