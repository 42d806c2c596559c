package usecase

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"

	"github.com/m-mizutani/drover/pkg/domain/model"
)

//go:embed prompts/diagnose_system.md
var diagnoseSystemPrompt string

//go:embed prompts/diagnose_user.md
var diagnoseUserTemplate string

// diagnose asks the LLM for a short explanation of a failed run based on
// the failing step and its output tail.
func (uc *runUseCase) diagnose(ctx context.Context, run *model.Run) (*model.Diagnosis, error) {
	logger := ctxlog.From(ctx)

	tmpl, err := template.New("diagnose").Parse(diagnoseUserTemplate)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse diagnosis prompt template")
	}

	data := map[string]string{
		"Repository": run.Repository,
		"Workflow":   run.Workflow,
		"Reason":     run.Reason,
	}
	if step := run.FailedStep(); step != nil {
		data["Step"] = step.Name
		data["Command"] = step.Command
		data["Error"] = step.Error
		data["Output"] = commentTail(step.Output, 4000)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, goerr.Wrap(err, "failed to execute diagnosis prompt template")
	}

	logger.Debug("Calling LLM for failure diagnosis",
		"run_id", run.ID,
		"prompt_length", buf.Len(),
	)

	session, err := uc.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionSystemPrompt(diagnoseSystemPrompt),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(buf.String()))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate LLM content")
	}

	if len(resp.Texts) == 0 {
		return nil, goerr.New("no response from LLM")
	}

	var diagnosis model.Diagnosis
	if err := json.Unmarshal([]byte(resp.Texts[0]), &diagnosis); err != nil {
		return nil, goerr.Wrap(err, "failed to parse LLM response",
			goerr.V("response", resp.Texts[0]))
	}

	logger.Info("Diagnosed run failure",
		"run_id", run.ID,
		"summary", diagnosis.Summary,
	)
	return &diagnosis, nil
}
