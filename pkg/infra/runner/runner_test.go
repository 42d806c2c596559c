package runner_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/drover/pkg/infra/runner"
)

// newSourceDir builds a small source tree for checkout
func newSourceDir(t *testing.T, files map[string]string) string {
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		gt.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		gt.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func newTestRun(src *model.SourceRef) *model.Run {
	return model.NewRun(src, "delivery-1", "build", "build", []string{"self-hosted"})
}

func testSource() *model.SourceRef {
	return &model.SourceRef{
		Owner:     "octo",
		Repo:      "widgets",
		CommitSHA: "abc123",
		Ref:       "main",
		Trigger:   types.TriggerPush,
	}
}

func removeArchives(t *testing.T, artifacts []*model.HarvestedArtifact) {
	for _, a := range artifacts {
		_ = os.Remove(a.ArchivePath)
	}
}

func TestRunner_Execute_Success(t *testing.T) {
	ctx := context.Background()
	srcDir := newSourceDir(t, map[string]string{
		"README.md": "# widgets\n",
	})

	r := runner.New(runner.NewLocalFetcher(srcDir))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Uses: "checkout"},
			{Name: "build", Run: "printf done > result.txt"},
			{Name: "verify", Run: "cat result.txt"},
		},
		Artifacts: []*model.ArtifactSpec{
			{Name: "result", Path: "result.txt"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)
	defer removeArchives(t, result.Artifacts)

	gt.Equal(t, result.Conclusion, types.ConclusionSuccess)
	gt.Equal(t, len(result.Steps), 3)
	for _, step := range result.Steps {
		gt.Equal(t, step.Status, types.StepSucceeded)
	}
	gt.Equal(t, result.Steps[2].Output, "done")
	gt.String(t, string(result.Log)).Contains("checked out octo/widgets@abc123")

	// Declared artifact is staged as a zip with a digest
	gt.Equal(t, len(result.Artifacts), 1)
	artifact := result.Artifacts[0]
	gt.Equal(t, artifact.Name, "result")
	gt.Equal(t, artifact.Files, 1)
	gt.Value(t, artifact.Digest).NotEqual("")
	gt.Number(t, artifact.SizeBytes).Greater(int64(0))

	zr, err := zip.OpenReader(artifact.ArchivePath)
	gt.NoError(t, err)
	defer zr.Close()
	gt.Equal(t, len(zr.File), 1)
	gt.Equal(t, zr.File[0].Name, "result.txt")
}

func TestRunner_Execute_FailFast(t *testing.T) {
	ctx := context.Background()
	srcDir := newSourceDir(t, map[string]string{"README.md": "x"})

	r := runner.New(runner.NewLocalFetcher(srcDir))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Name: "first", Run: "echo one"},
			{Name: "boom", Run: "exit 3"},
			{Name: "never", Run: "echo never"},
		},
		Artifacts: []*model.ArtifactSpec{
			{Name: "bin", Path: "out/*"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionFailure)
	gt.String(t, result.Reason).Contains("exit code 3")

	gt.Equal(t, result.Steps[0].Status, types.StepSucceeded)
	gt.Equal(t, result.Steps[1].Status, types.StepFailed)
	gt.Equal(t, result.Steps[1].ExitCode, 3)
	gt.Equal(t, result.Steps[2].Status, types.StepSkipped)

	// Failed jobs never publish artifacts
	gt.Equal(t, len(result.Artifacts), 0)
}

func TestRunner_Execute_MissingArtifact(t *testing.T) {
	ctx := context.Background()

	r := runner.New(runner.NewLocalFetcher(t.TempDir()))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Name: "noop", Run: "true"},
		},
		Artifacts: []*model.ArtifactSpec{
			{Name: "bin", Path: "out/bin.exe"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionFailure)
	gt.String(t, result.Reason).Contains("matched no files")
	gt.Equal(t, len(result.Artifacts), 0)
}

func TestRunner_Execute_SymlinkEscape(t *testing.T) {
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "secret.txt")
	gt.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))

	r := runner.New(runner.NewLocalFetcher(t.TempDir()))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Name: "link", Run: "ln -s " + outside + " leak.txt"},
		},
		Artifacts: []*model.ArtifactSpec{
			{Name: "leak", Path: "leak.txt"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionFailure)
	gt.String(t, result.Reason).Contains("escapes the workspace")
	gt.Equal(t, len(result.Artifacts), 0)
}

func TestRunner_Execute_Env(t *testing.T) {
	ctx := context.Background()

	// Host variables outside the passthrough list stay invisible
	t.Setenv("DROVER_TEST_LEAK", "leaked")

	r := runner.New(runner.NewLocalFetcher(t.TempDir()))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Env:    map[string]string{"FROM_JOB": "job-value"},
		Steps: []*model.Step{
			{
				Name: "env",
				Run:  `printf '%s|%s|%s|%s' "$CI" "$FROM_JOB" "$FROM_STEP" "$DROVER_TEST_LEAK"`,
				Env:  map[string]string{"FROM_STEP": "step-value"},
			},
		},
	}

	src := testSource()
	run := newTestRun(src)
	result, err := r.Execute(ctx, run, job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionSuccess)
	gt.Equal(t, result.Steps[0].Output, "true|job-value|step-value|")
}

func TestRunner_Execute_WorkingDir(t *testing.T) {
	ctx := context.Background()
	srcDir := newSourceDir(t, map[string]string{
		"sub/file.txt": "here",
	})

	r := runner.New(runner.NewLocalFetcher(srcDir))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Uses: "checkout"},
			{Name: "where", Run: "cat file.txt", WorkingDir: "sub"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionSuccess)
	gt.Equal(t, result.Steps[1].Output, "here")
}

func TestRunner_Execute_Timeout(t *testing.T) {
	ctx := context.Background()

	r := runner.New(runner.NewLocalFetcher(t.TempDir()),
		runner.WithDefaultTimeout(100*time.Millisecond))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Name: "slow", Run: "sleep 5"},
		},
	}

	src := testSource()
	start := time.Now()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionFailure)
	gt.String(t, result.Reason).Contains("timed out")
	gt.Equal(t, result.Steps[0].Status, types.StepFailed)

	// The sleeping process tree is killed, not waited for
	gt.True(t, time.Since(start) < 3*time.Second)
}

func TestRunner_Execute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	r := runner.New(runner.NewLocalFetcher(t.TempDir()))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Name: "slow", Run: "sleep 5"},
			{Name: "after", Run: "echo after"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionCancelled)
	gt.Equal(t, result.Reason, "run cancelled")
	gt.Equal(t, result.Steps[1].Status, types.StepSkipped)
}

func TestRunner_Satisfies(t *testing.T) {
	r := runner.New(nil, runner.WithLabels([]string{"self-hosted", "linux", "x64"}))

	tests := []struct {
		name   string
		runsOn []string
		want   bool
	}{
		{name: "Single matching label", runsOn: []string{"linux"}, want: true},
		{name: "All labels offered", runsOn: []string{"self-hosted", "linux", "x64"}, want: true},
		{name: "Case insensitive", runsOn: []string{"Linux", "X64"}, want: true},
		{name: "Unknown label", runsOn: []string{"windows"}, want: false},
		{name: "Partial match is not enough", runsOn: []string{"linux", "gpu"}, want: false},
		{name: "Empty request matches", runsOn: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Equal(t, r.Satisfies(tt.runsOn), tt.want)
		})
	}
}

// recordingObserver captures observer callbacks
type recordingObserver struct {
	started  []string
	finished []string
	output   []byte
}

func (o *recordingObserver) StepStarted(name string) {
	o.started = append(o.started, name)
}

func (o *recordingObserver) StepOutput(p []byte) {
	o.output = append(o.output, p...)
}

func (o *recordingObserver) StepFinished(result *model.StepResult) {
	o.finished = append(o.finished, result.Name)
}

func TestRunner_Execute_Observer(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}

	r := runner.New(runner.NewLocalFetcher(t.TempDir()), runner.WithObserver(obs))

	job := &model.Job{
		RunsOn: model.StringList{"self-hosted"},
		Steps: []*model.Step{
			{Name: "hello", Run: "echo hello"},
		},
	}

	src := testSource()
	result, err := r.Execute(ctx, newTestRun(src), job, src)
	gt.NoError(t, err)

	gt.Equal(t, result.Conclusion, types.ConclusionSuccess)
	gt.Equal(t, obs.started, []string{"hello"})
	gt.Equal(t, obs.finished, []string{"hello"})
	gt.String(t, string(obs.output)).Contains("hello")
}
