package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// SlackNotifier posts run completion notices to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// NewSlack creates a notifier for the given incoming webhook URL.
func NewSlack(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// NotifyRunCompleted posts one message describing the finished run.
func (n *SlackNotifier) NotifyRunCompleted(ctx context.Context, run *model.Run) error {
	if err := slack.PostWebhookContext(ctx, n.webhookURL, buildRunMessage(run)); err != nil {
		return goerr.Wrap(err, "failed to post slack webhook",
			goerr.V("run_id", run.ID))
	}
	return nil
}

func buildRunMessage(run *model.Run) *slack.WebhookMessage {
	color := "good"
	title := fmt.Sprintf("Run succeeded: %s", run.Repository)

	switch run.Conclusion {
	case types.ConclusionFailure:
		color = "danger"
		title = fmt.Sprintf("Run failed: %s", run.Repository)
	case types.ConclusionCancelled:
		color = "warning"
		title = fmt.Sprintf("Run cancelled: %s", run.Repository)
	}

	fields := []slack.AttachmentField{
		{Title: "Workflow", Value: run.Workflow, Short: true},
		{Title: "Branch", Value: run.Ref, Short: true},
		{Title: "Commit", Value: shortSHA(run.CommitSHA), Short: true},
		{Title: "Duration", Value: run.Duration().Round(time.Second).String(), Short: true},
	}

	if run.Reason != "" {
		fields = append(fields, slack.AttachmentField{
			Title: "Reason", Value: run.Reason,
		})
	}
	if failed := run.FailedStep(); failed != nil {
		fields = append(fields, slack.AttachmentField{
			Title: "Failed step",
			Value: fmt.Sprintf("%s (exit code %d)", failed.Name, failed.ExitCode),
		})
	}
	if run.Diagnosis != nil && run.Diagnosis.Summary != "" {
		fields = append(fields, slack.AttachmentField{
			Title: "Diagnosis", Value: run.Diagnosis.Summary,
		})
	}

	return &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color:  color,
			Title:  title,
			Fields: fields,
			Footer: fmt.Sprintf("run %s", run.ID),
		}},
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
