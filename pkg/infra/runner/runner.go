package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// DefaultTimeout bounds a job that declares no timeout of its own.
const DefaultTimeout = 60 * time.Minute

// outputTailLimit bounds the per-step output kept on the run record. The
// full log still goes to the artifact store.
const outputTailLimit = 16 * 1024

// StepObserver receives step progress while a job executes. drover exec
// uses it to print output as it happens; the server runs without one.
type StepObserver interface {
	StepStarted(name string)
	StepOutput(p []byte)
	StepFinished(result *model.StepResult)
}

// Runner executes one job at a time on the local host. It advertises a
// label set; a run is scheduled here only when every label the job asks
// for is offered.
type Runner struct {
	labels     []string
	workDir    string
	defTimeout time.Duration
	fetcher    interfaces.SourceFetcher
	observer   StepObserver
}

// Option configures a Runner.
type Option func(*Runner)

// WithLabels replaces the advertised label set.
func WithLabels(labels []string) Option {
	return func(r *Runner) {
		if len(labels) > 0 {
			r.labels = labels
		}
	}
}

// WithWorkDir places run workspaces under dir instead of the system
// temporary directory.
func WithWorkDir(dir string) Option {
	return func(r *Runner) {
		r.workDir = dir
	}
}

// WithDefaultTimeout replaces the fallback job timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.defTimeout = d
		}
	}
}

// WithObserver attaches a step observer.
func WithObserver(obs StepObserver) Option {
	return func(r *Runner) {
		r.observer = obs
	}
}

// New creates a Runner that checks out sources through fetcher.
func New(fetcher interfaces.SourceFetcher, options ...Option) *Runner {
	r := &Runner{
		labels:     DefaultLabels(),
		defTimeout: DefaultTimeout,
		fetcher:    fetcher,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// DefaultLabels advertises the host platform the way workflow authors
// write it: self-hosted plus OS and architecture.
func DefaultLabels() []string {
	return []string{"self-hosted", runtime.GOOS, archLabel()}
}

func archLabel() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	default:
		return runtime.GOARCH
	}
}

// Labels returns the advertised label set.
func (r *Runner) Labels() []string {
	return r.labels
}

// Satisfies reports whether every requested label is offered. Labels
// compare case-insensitively.
func (r *Runner) Satisfies(runsOn []string) bool {
	for _, want := range runsOn {
		found := false
		for _, have := range r.labels {
			if strings.EqualFold(want, have) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// execution carries the per-run state shared by the step helpers.
type execution struct {
	run       *model.Run
	job       *model.Job
	src       *model.SourceRef
	workspace string
	log       *bytes.Buffer
}

// Execute runs the job's steps in order inside a fresh workspace. Step
// failures are reported through the result conclusion; the returned
// error covers runner problems only.
func (r *Runner) Execute(ctx context.Context, run *model.Run, job *model.Job, src *model.SourceRef) (*model.JobResult, error) {
	logger := ctxlog.From(ctx)

	workspace, err := r.newWorkspace(run.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("Failed to remove workspace",
				"workspace", workspace, "error", err)
		}
	}()

	timeout := job.Timeout(r.defTimeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Executing job",
		"run_id", run.ID,
		"workspace", workspace,
		"steps", len(job.Steps),
		"timeout", timeout,
	)

	ex := &execution{
		run:       run,
		job:       job,
		src:       src,
		workspace: workspace,
		log:       &bytes.Buffer{},
	}

	result := &model.JobResult{Conclusion: types.ConclusionSuccess}

	for _, step := range job.Steps {
		sr := r.runStep(runCtx, ex, step, result.Conclusion)
		result.Steps = append(result.Steps, sr)

		if sr.Status != types.StepFailed {
			continue
		}
		// Fail fast: the remaining steps are recorded as skipped
		if runCtx.Err() != nil && ctx.Err() == nil {
			result.Conclusion = types.ConclusionFailure
			result.Reason = fmt.Sprintf("job timed out after %s", timeout)
		} else if ctx.Err() != nil {
			result.Conclusion = types.ConclusionCancelled
			result.Reason = "run cancelled"
		} else {
			result.Conclusion = types.ConclusionFailure
			result.Reason = stepFailureReason(sr)
		}
	}

	if result.Conclusion == types.ConclusionSuccess && len(job.Artifacts) > 0 {
		artifacts, err := harvestArtifacts(ex)
		if err != nil {
			result.Conclusion = types.ConclusionFailure
			result.Reason = err.Error()
			fmt.Fprintf(ex.log, "artifact harvest failed: %s\n", err)
		} else {
			result.Artifacts = artifacts
		}
	}

	result.Log = ex.log.Bytes()
	return result, nil
}

// runStep executes one step, or records a skip when the job already
// concluded.
func (r *Runner) runStep(ctx context.Context, ex *execution, step *model.Step, conclusion types.Conclusion) *model.StepResult {
	sr := &model.StepResult{
		Name:      step.DisplayName(),
		Command:   step.Run,
		StartedAt: time.Now().UTC(),
	}

	if conclusion != types.ConclusionSuccess {
		sr.Status = types.StepSkipped
		sr.FinishedAt = sr.StartedAt
		fmt.Fprintf(ex.log, "--- %s (skipped)\n", sr.Name)
		return sr
	}

	if r.observer != nil {
		r.observer.StepStarted(sr.Name)
	}
	fmt.Fprintf(ex.log, "--- %s\n", sr.Name)

	if step.IsBuiltin() {
		r.runCheckout(ctx, ex, sr)
	} else {
		r.runCommand(ctx, ex, step, sr)
	}
	sr.FinishedAt = time.Now().UTC()

	if r.observer != nil {
		r.observer.StepFinished(sr)
	}
	return sr
}

// runCheckout materializes the source snapshot into the workspace.
func (r *Runner) runCheckout(ctx context.Context, ex *execution, sr *model.StepResult) {
	result, err := r.fetcher.Fetch(ctx, ex.src, ex.workspace)
	if err != nil {
		sr.Status = types.StepFailed
		sr.ExitCode = -1
		sr.Error = err.Error()
		fmt.Fprintf(ex.log, "checkout failed: %s\n", err)
		return
	}

	sr.Status = types.StepSucceeded
	fmt.Fprintf(ex.log, "checked out %s@%s (%d files, %d bytes)\n",
		ex.src.FullName(), ex.src.CommitSHA, result.Files, result.Size)
}

func stepFailureReason(sr *model.StepResult) string {
	if sr.Error != "" {
		return fmt.Sprintf("step %q failed: %s", sr.Name, sr.Error)
	}
	return fmt.Sprintf("step %q failed with exit code %d", sr.Name, sr.ExitCode)
}

// newWorkspace creates a fresh private directory for one run.
func (r *Runner) newWorkspace(runID types.RunID) (string, error) {
	if r.workDir == "" {
		dir, err := os.MkdirTemp("", "drover-run-*")
		if err != nil {
			return "", goerr.Wrap(err, "failed to create workspace")
		}
		return dir, nil
	}

	dir := filepath.Join(r.workDir, runID.String())
	if err := os.RemoveAll(dir); err != nil {
		return "", goerr.Wrap(err, "failed to clear workspace", goerr.V("dir", dir))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", goerr.Wrap(err, "failed to create workspace", goerr.V("dir", dir))
	}
	return dir, nil
}
