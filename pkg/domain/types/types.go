package types

import "github.com/google/uuid"

// Version is the application version, overridden at build time via ldflags.
var Version = "v0.1.0"

const (
	// AppName is used for commit status contexts, token issuer and logs.
	AppName = "drover"

	// DefaultWorkflowPath is where drover looks for a workflow definition
	// in a repository unless the registry overrides it.
	DefaultWorkflowPath = ".drover.yml"
)

// RunID identifies a single workflow run.
type RunID string

// NewRunID issues a new random RunID.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

func (x RunID) String() string { return string(x) }

// ArtifactID identifies a stored artifact.
type ArtifactID string

// NewArtifactID issues a new random ArtifactID.
func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.NewString())
}

func (x ArtifactID) String() string { return string(x) }

// DeliveryID is the webhook delivery identifier (X-GitHub-Delivery).
// A delivery triggers at most one run.
type DeliveryID string

func (x DeliveryID) String() string { return string(x) }

// TriggerType is the event kind that started a run.
type TriggerType string

const (
	TriggerPush        TriggerType = "push"
	TriggerPullRequest TriggerType = "pull_request"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// Conclusion is the terminal outcome of a completed run.
type Conclusion string

const (
	ConclusionNone      Conclusion = ""
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
	ConclusionSkipped   Conclusion = "skipped"
)

// StepStatus is the outcome of a single step within a run.
type StepStatus string

const (
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "failure"
	StepSkipped   StepStatus = "skipped"
)
