package model

import (
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// BuiltinCheckout is the only builtin step: it materializes the source
// snapshot of the triggering commit into the run workspace.
const BuiltinCheckout = "checkout"

// Workflow is a parsed workflow definition. Definitions live in the
// repository they build (default .drover.yml) and are loaded at the
// triggering commit, so a workflow change takes effect with the commit
// that introduces it.
type Workflow struct {
	Name string          `yaml:"name"`
	On   Triggers        `yaml:"on"`
	Jobs map[string]*Job `yaml:"jobs"`
}

// Triggers declares which events start the workflow. The YAML form is
// flexible: a single event name, a list of names, or a mapping with
// per-event branch filters.
type Triggers struct {
	Push        *TriggerRule `yaml:"push"`
	PullRequest *TriggerRule `yaml:"pull_request"`
}

// TriggerRule filters an enabled trigger by branch. An empty filter
// matches every branch. Patterns support path.Match globs ("release/*").
type TriggerRule struct {
	Branches []string `yaml:"branches"`
}

// Job is the single job of a workflow: an ordered list of steps executed
// sequentially on a runner that satisfies RunsOn.
type Job struct {
	Name           string            `yaml:"name"`
	RunsOn         StringList        `yaml:"runs-on"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
	Env            map[string]string `yaml:"env"`
	Steps          []*Step           `yaml:"steps"`
	Artifacts      []*ArtifactSpec   `yaml:"artifacts"`
}

// Step is one unit of work. Exactly one of Uses (builtin) or Run (shell
// command) must be set.
type Step struct {
	Name       string            `yaml:"name"`
	Uses       string            `yaml:"uses"`
	Run        string            `yaml:"run"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working-dir"`
}

// ArtifactSpec declares a file (or glob) to publish under a name after
// the job succeeds.
type ArtifactSpec struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// StringList accepts both a YAML scalar and a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (s *StringList) UnmarshalYAML(data []byte) error {
	var one string
	if err := yaml.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}

	var many []string
	if err := yaml.Unmarshal(data, &many); err != nil {
		return goerr.Wrap(err, "expected a string or a list of strings")
	}
	*s = StringList(many)
	return nil
}

// UnmarshalYAML implements yaml.BytesUnmarshaler. It accepts the three
// shapes of the "on" block: scalar, sequence and mapping.
func (t *Triggers) UnmarshalYAML(data []byte) error {
	var one string
	if err := yaml.Unmarshal(data, &one); err == nil {
		return t.enable(one, &TriggerRule{})
	}

	var names []string
	if err := yaml.Unmarshal(data, &names); err == nil {
		for _, name := range names {
			if err := t.enable(name, &TriggerRule{}); err != nil {
				return err
			}
		}
		return nil
	}

	var rules map[string]*TriggerRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return goerr.Wrap(err, "invalid trigger block")
	}
	for name, rule := range rules {
		if rule == nil {
			rule = &TriggerRule{}
		}
		if err := t.enable(name, rule); err != nil {
			return err
		}
	}
	return nil
}

func (t *Triggers) enable(name string, rule *TriggerRule) error {
	switch name {
	case string(types.TriggerPush):
		t.Push = rule
	case string(types.TriggerPullRequest):
		t.PullRequest = rule
	default:
		return goerr.New("unsupported trigger event",
			goerr.V("event", name), goerr.T(types.ErrTagValidation))
	}
	return nil
}

// ParseWorkflow parses and validates a workflow definition.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.UnmarshalWithOptions(data, &wf, yaml.Strict()); err != nil {
		return nil, goerr.Wrap(err, "failed to parse workflow",
			goerr.T(types.ErrTagValidation))
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks the structural rules a definition must satisfy before
// a run can be planned from it.
func (w *Workflow) Validate() error {
	if w.On.Push == nil && w.On.PullRequest == nil {
		return goerr.New("workflow declares no triggers",
			goerr.T(types.ErrTagValidation))
	}

	if len(w.Jobs) != 1 {
		return goerr.New("workflow must define exactly one job",
			goerr.V("jobs", len(w.Jobs)), goerr.T(types.ErrTagValidation))
	}

	for id, job := range w.Jobs {
		if err := job.validate(); err != nil {
			return goerr.Wrap(err, "invalid job", goerr.V("job", id))
		}
	}
	return nil
}

func (j *Job) validate() error {
	if len(j.RunsOn) == 0 {
		return goerr.New("runs-on must not be empty",
			goerr.T(types.ErrTagValidation))
	}
	if len(j.Steps) == 0 {
		return goerr.New("job has no steps", goerr.T(types.ErrTagValidation))
	}

	for i, step := range j.Steps {
		if err := step.validate(); err != nil {
			return goerr.Wrap(err, "invalid step", goerr.V("step", i))
		}
	}

	seen := map[string]bool{}
	for _, spec := range j.Artifacts {
		if err := spec.validate(); err != nil {
			return err
		}
		if seen[spec.Name] {
			return goerr.New("duplicate artifact name",
				goerr.V("name", spec.Name), goerr.T(types.ErrTagValidation))
		}
		seen[spec.Name] = true
	}
	return nil
}

func (s *Step) validate() error {
	if (s.Run == "") == (s.Uses == "") {
		return goerr.New("step requires exactly one of run or uses",
			goerr.T(types.ErrTagValidation))
	}
	if s.Uses != "" && s.Uses != BuiltinCheckout {
		return goerr.New("unknown builtin step",
			goerr.V("uses", s.Uses), goerr.T(types.ErrTagValidation))
	}
	if s.WorkingDir != "" && !validRelPath(s.WorkingDir) {
		return goerr.New("working-dir must stay inside the workspace",
			goerr.V("working-dir", s.WorkingDir), goerr.T(types.ErrTagValidation))
	}
	return nil
}

func (a *ArtifactSpec) validate() error {
	if a.Name == "" || strings.ContainsAny(a.Name, `/\`) {
		return goerr.New("artifact name must be a plain name",
			goerr.V("name", a.Name), goerr.T(types.ErrTagValidation))
	}
	if !validRelPath(a.Path) {
		return goerr.New("artifact path must stay inside the workspace",
			goerr.V("name", a.Name), goerr.V("path", a.Path),
			goerr.T(types.ErrTagValidation))
	}
	return nil
}

func validRelPath(p string) bool {
	if p == "" || filepath.IsAbs(p) {
		return false
	}
	clean := path.Clean(filepath.ToSlash(p))
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

// Matches reports whether the source ref triggers this workflow.
func (w *Workflow) Matches(src *SourceRef) bool {
	var rule *TriggerRule
	switch src.Trigger {
	case types.TriggerPush:
		rule = w.On.Push
	case types.TriggerPullRequest:
		rule = w.On.PullRequest
	}
	if rule == nil {
		return false
	}
	return rule.MatchBranch(src.TargetBranch())
}

// MatchBranch applies the branch filter.
func (r *TriggerRule) MatchBranch(branch string) bool {
	if len(r.Branches) == 0 {
		return true
	}
	for _, pattern := range r.Branches {
		if ok, err := path.Match(pattern, branch); err == nil && ok {
			return true
		}
	}
	return false
}

// Job returns the workflow's single job. Call only after Validate.
func (w *Workflow) Job() (string, *Job) {
	for id, job := range w.Jobs {
		return id, job
	}
	return "", nil
}

// DisplayName returns a human readable workflow name.
func (w *Workflow) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return "workflow"
}

// DisplayName returns the step name for logs and run records.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	name := s.Run
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	if len(name) > 48 {
		name = name[:48]
	}
	return name
}

// IsBuiltin reports whether the step is a builtin rather than a command.
func (s *Step) IsBuiltin() bool { return s.Uses != "" }

// Timeout returns the job timeout, falling back to def when unset.
func (j *Job) Timeout(def time.Duration) time.Duration {
	if j.TimeoutMinutes > 0 {
		return time.Duration(j.TimeoutMinutes) * time.Minute
	}
	return def
}
