package model

import (
	"time"

	"github.com/m-mizutani/drover/pkg/domain/types"
)

// Run is the record of one workflow execution. A run is created when a
// delivery matches a workflow trigger and completes exactly once.
type Run struct {
	ID         types.RunID       `json:"id"`
	DeliveryID types.DeliveryID  `json:"delivery_id"`
	Repository string            `json:"repository"` // owner/repo
	Workflow   string            `json:"workflow"`   // workflow display name
	JobID      string            `json:"job_id"`
	Trigger    types.TriggerType `json:"trigger"`
	Ref        string            `json:"ref"` // branch being built
	CommitSHA  string            `json:"commit_sha"`
	PRNumber   int               `json:"pr_number,omitempty"` // 0 unless triggered by a pull request
	RunsOn     []string          `json:"runs_on"`

	Status     types.RunStatus  `json:"status"`
	Conclusion types.Conclusion `json:"conclusion,omitempty"`
	Reason     string           `json:"reason,omitempty"` // short failure reason, empty on success

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Steps     []*StepResult `json:"steps,omitempty"`
	Artifacts []*Artifact   `json:"artifacts,omitempty" firestore:"-"` // joined from the artifact records
	LogObject string        `json:"log_object,omitempty"`              // object key of the full run log, empty until uploaded
	Diagnosis *Diagnosis    `json:"diagnosis,omitempty"`
}

// NewRun builds a queued run for a matched source ref.
func NewRun(src *SourceRef, deliveryID types.DeliveryID, workflowName, jobID string, runsOn []string) *Run {
	return &Run{
		ID:         types.NewRunID(),
		DeliveryID: deliveryID,
		Repository: src.FullName(),
		Workflow:   workflowName,
		JobID:      jobID,
		Trigger:    src.Trigger,
		Ref:        src.Ref,
		CommitSHA:  src.CommitSHA,
		PRNumber:   src.PRNumber,
		RunsOn:     runsOn,
		Status:     types.RunQueued,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start marks the run as picked up by a runner.
func (r *Run) Start() {
	r.Status = types.RunInProgress
	r.StartedAt = time.Now().UTC()
}

// Finish marks the run as completed with the given conclusion.
func (r *Run) Finish(conclusion types.Conclusion, reason string) {
	r.Status = types.RunCompleted
	r.Conclusion = conclusion
	r.Reason = reason
	r.FinishedAt = time.Now().UTC()
}

// Succeeded reports a completed successful run.
func (r *Run) Succeeded() bool {
	return r.Status == types.RunCompleted && r.Conclusion == types.ConclusionSuccess
}

// Duration is the wall time between start and finish, zero until both
// timestamps are set.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedStep returns the first failed step, or nil.
func (r *Run) FailedStep() *StepResult {
	for _, step := range r.Steps {
		if step.Status == types.StepFailed {
			return step
		}
	}
	return nil
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name       string           `json:"name"`
	Command    string           `json:"command,omitempty"` // empty for builtin steps
	Status     types.StepStatus `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Output     string           `json:"output,omitempty"` // bounded tail of combined stdout/stderr
	Error      string           `json:"error,omitempty"`  // execution error, empty unless the step could not run
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Artifact is the metadata record of one published artifact archive.
type Artifact struct {
	ID          types.ArtifactID `json:"id"`
	RunID       types.RunID      `json:"run_id"`
	Name        string           `json:"name"`
	Path        string           `json:"path"`   // declared path in the workflow
	Digest      string           `json:"digest"` // sha256 of the stored archive
	SizeBytes   int64            `json:"size_bytes"`
	ContentType string           `json:"content_type"`
	Files       int              `json:"files"` // number of files in the archive
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// ObjectKey is the artifact's location in the artifact store.
func (a *Artifact) ObjectKey() string {
	return "runs/" + a.RunID.String() + "/artifacts/" + a.Name + ".zip"
}

// Expired reports whether the artifact passed its retention deadline.
func (a *Artifact) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// RunLogObjectKey is the location of a run's full log in the store.
func RunLogObjectKey(runID types.RunID) string {
	return "runs/" + runID.String() + "/log.txt"
}

// JobResult is what a runner reports back after executing a job.
type JobResult struct {
	Conclusion types.Conclusion
	Reason     string
	Steps      []*StepResult
	Log        []byte               // full combined step log
	Artifacts  []*HarvestedArtifact // populated only on success
}

// HarvestedArtifact is an artifact archive staged by the runner, waiting
// to be uploaded to the artifact store. ArchivePath lives outside the
// workspace so it survives workspace cleanup; the caller removes it.
type HarvestedArtifact struct {
	Name        string
	Path        string // declared path
	ArchivePath string // staged zip on local disk
	Digest      string
	SizeBytes   int64
	Files       int
}

// Diagnosis is an LLM-generated summary of a failed run.
type Diagnosis struct {
	Summary     string `json:"summary"`
	LikelyCause string `json:"likely_cause"`
	Suggestion  string `json:"suggestion"`
}

// RunQuery filters run listings.
type RunQuery struct {
	Repository string
	Status     types.RunStatus
	Limit      int
}

// Commit status states reported back to GitHub.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

// CommitStatus is a status reported on the triggering commit.
type CommitStatus struct {
	State       string
	Context     string
	Description string
	TargetURL   string
}
