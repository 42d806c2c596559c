package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

func TestParseWorkflow(t *testing.T) {
	data := []byte(`
name: windows build
on:
  push:
    branches: [main, "release/*"]
  pull_request:
jobs:
  build:
    runs-on: [windows, x64]
    timeout-minutes: 30
    env:
      CONFIGURATION: Release
    steps:
      - uses: checkout
      - name: Build
        run: dotnet build -c Release
        env:
          VERBOSE: "1"
      - run: dotnet test
    artifacts:
      - name: widgets-windows
        path: output/*
`)

	wf, err := model.ParseWorkflow(data)
	gt.NoError(t, err)
	gt.Equal(t, wf.Name, "windows build")
	gt.Value(t, wf.On.Push).NotNil()
	gt.Value(t, wf.On.PullRequest).NotNil()
	gt.Equal(t, wf.On.Push.Branches, []string{"main", "release/*"})

	jobID, job := wf.Job()
	gt.Equal(t, jobID, "build")
	gt.Equal(t, []string(job.RunsOn), []string{"windows", "x64"})
	gt.Equal(t, job.TimeoutMinutes, 30)
	gt.Equal(t, job.Env["CONFIGURATION"], "Release")
	gt.Equal(t, len(job.Steps), 3)
	gt.Equal(t, job.Steps[0].Uses, model.BuiltinCheckout)
	gt.Equal(t, job.Steps[1].Name, "Build")
	gt.Equal(t, job.Steps[1].Env["VERBOSE"], "1")
	gt.Equal(t, len(job.Artifacts), 1)
	gt.Equal(t, job.Artifacts[0].Name, "widgets-windows")
	gt.Equal(t, job.Artifacts[0].Path, "output/*")
}

func TestParseWorkflow_TriggerForms(t *testing.T) {
	const jobs = `
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
`

	tests := []struct {
		name string
		on   string
		push bool
		pr   bool
	}{
		{
			name: "Scalar event name",
			on:   "on: push\n",
			push: true,
		},
		{
			name: "Sequence of event names",
			on:   "on: [push, pull_request]\n",
			push: true,
			pr:   true,
		},
		{
			name: "Mapping with branch filter",
			on:   "on:\n  pull_request:\n    branches: [main]\n",
			pr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := model.ParseWorkflow([]byte(tt.on + jobs))
			gt.NoError(t, err)
			gt.Equal(t, wf.On.Push != nil, tt.push)
			gt.Equal(t, wf.On.PullRequest != nil, tt.pr)

			_, job := wf.Job()
			gt.Equal(t, []string(job.RunsOn), []string{"linux"})
		})
	}
}

func TestParseWorkflow_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "No triggers",
			yaml: `
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
`,
		},
		{
			name: "Unsupported trigger event",
			yaml: `
on: release
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
`,
		},
		{
			name: "More than one job",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
  test:
    runs-on: linux
    steps:
      - run: make test
`,
		},
		{
			name: "Empty runs-on",
			yaml: `
on: push
jobs:
  build:
    steps:
      - run: make
`,
		},
		{
			name: "No steps",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
`,
		},
		{
			name: "Step with both run and uses",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - uses: checkout
        run: make
`,
		},
		{
			name: "Step with neither run nor uses",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - name: noop
`,
		},
		{
			name: "Unknown builtin step",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - uses: setup-go
`,
		},
		{
			name: "Working dir escaping the workspace",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
        working-dir: ../outside
`,
		},
		{
			name: "Absolute artifact path",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
    artifacts:
      - name: bin
        path: /etc/passwd
`,
		},
		{
			name: "Artifact path escaping the workspace",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
    artifacts:
      - name: bin
        path: ../secrets.txt
`,
		},
		{
			name: "Artifact name with path separator",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
    artifacts:
      - name: out/bin
        path: out/bin
`,
		},
		{
			name: "Duplicate artifact name",
			yaml: `
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
    artifacts:
      - name: bin
        path: out/a
      - name: bin
        path: out/b
`,
		},
		{
			name: "Unknown top-level field",
			yaml: `
on: push
timeout: 5
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
`,
		},
		{
			name: "Not YAML at all",
			yaml: `{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.ParseWorkflow([]byte(tt.yaml))
			gt.Error(t, err)
		})
	}
}

func TestWorkflowMatches(t *testing.T) {
	wf, err := model.ParseWorkflow([]byte(`
on:
  push:
    branches: [main, "release/*"]
  pull_request:
    branches: [main]
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
`))
	gt.NoError(t, err)

	tests := []struct {
		name string
		src  *model.SourceRef
		want bool
	}{
		{
			name: "Push to main",
			src:  &model.SourceRef{Trigger: types.TriggerPush, Ref: "main"},
			want: true,
		},
		{
			name: "Push to release branch via glob",
			src:  &model.SourceRef{Trigger: types.TriggerPush, Ref: "release/1.2"},
			want: true,
		},
		{
			name: "Push to unlisted branch",
			src:  &model.SourceRef{Trigger: types.TriggerPush, Ref: "feature/x"},
			want: false,
		},
		{
			name: "Pull request targeting main",
			src: &model.SourceRef{
				Trigger:    types.TriggerPullRequest,
				Ref:        "feature/x",
				BaseBranch: "main",
				PRNumber:   12,
			},
			want: true,
		},
		{
			name: "Pull request targeting another branch",
			src: &model.SourceRef{
				Trigger:    types.TriggerPullRequest,
				Ref:        "feature/x",
				BaseBranch: "develop",
				PRNumber:   13,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Equal(t, wf.Matches(tt.src), tt.want)
		})
	}
}

func TestWorkflowMatches_NoFilter(t *testing.T) {
	wf, err := model.ParseWorkflow([]byte(`
on: push
jobs:
  build:
    runs-on: linux
    steps:
      - run: make
`))
	gt.NoError(t, err)

	// No branch filter matches every branch
	gt.True(t, wf.Matches(&model.SourceRef{Trigger: types.TriggerPush, Ref: "anything"}))

	// Trigger not enabled never matches
	gt.Equal(t, wf.Matches(&model.SourceRef{
		Trigger:    types.TriggerPullRequest,
		BaseBranch: "main",
	}), false)
}

func TestStepDisplayName(t *testing.T) {
	tests := []struct {
		name string
		step *model.Step
		want string
	}{
		{
			name: "Explicit name wins",
			step: &model.Step{Name: "Build", Run: "make build"},
			want: "Build",
		},
		{
			name: "Builtin uses its identifier",
			step: &model.Step{Uses: "checkout"},
			want: "checkout",
		},
		{
			name: "Command first line",
			step: &model.Step{Run: "make build\nmake test"},
			want: "make build",
		},
		{
			name: "Long command is truncated",
			step: &model.Step{Run: strings.Repeat("x", 60)},
			want: strings.Repeat("x", 48),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Equal(t, tt.step.DisplayName(), tt.want)
		})
	}
}

func TestJobTimeout(t *testing.T) {
	job := &model.Job{}
	gt.Equal(t, job.Timeout(time.Hour), time.Hour)

	job.TimeoutMinutes = 5
	gt.Equal(t, job.Timeout(time.Hour), 5*time.Minute)
}
