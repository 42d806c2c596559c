package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/drover/pkg/infra/runner"
)

func cmdExec() *cli.Command {
	var (
		workflowPath string
		sourceDir    string
		outputDir    string
		jobTimeout   time.Duration
	)

	return &cli.Command{
		Name:    "exec",
		Aliases: []string{"x"},
		Usage:   "Run a workflow against a local source tree",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "workflow",
				Aliases:     []string{"w"},
				Usage:       "Workflow file, relative paths resolve against --dir",
				Value:       types.DefaultWorkflowPath,
				Destination: &workflowPath,
			},
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "Source directory to run against",
				Value:       ".",
				Destination: &sourceDir,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "Directory harvested artifacts are written to",
				Value:       "./drover-out",
				Destination: &outputDir,
			},
			&cli.DurationFlag{
				Name:        "job-timeout",
				Usage:       "Default job timeout, overridden by timeout-minutes in the workflow",
				Value:       30 * time.Minute,
				Destination: &jobTimeout,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			absDir, err := filepath.Abs(sourceDir)
			if err != nil {
				return goerr.Wrap(err, "failed to resolve source directory")
			}

			path := workflowPath
			if !filepath.IsAbs(path) {
				path = filepath.Join(absDir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return goerr.Wrap(err, "failed to read workflow file", goerr.V("path", path))
			}

			wf, err := model.ParseWorkflow(data)
			if err != nil {
				return err
			}
			jobID, job := wf.Job()

			// Triggers and runs-on do not apply to a local run.
			src := &model.SourceRef{
				Owner:      "local",
				Repo:       filepath.Base(absDir),
				CommitSHA:  "local",
				Ref:        "local",
				BaseBranch: "local",
				Trigger:    types.TriggerPush,
				Actor:      "local",
			}

			run := model.NewRun(src, types.DeliveryID("exec-"+uuid.NewString()), wf.DisplayName(), jobID, job.RunsOn)
			run.Start()

			jobRunner := runner.New(runner.NewLocalFetcher(absDir),
				runner.WithDefaultTimeout(jobTimeout),
				runner.WithObserver(&consoleObserver{}),
			)

			result, err := jobRunner.Execute(ctx, run, job, src)
			if err != nil {
				return goerr.Wrap(err, "runner failed")
			}
			run.Steps = result.Steps
			run.Finish(result.Conclusion, result.Reason)

			if len(result.Artifacts) > 0 {
				if err := saveArtifacts(result.Artifacts, outputDir); err != nil {
					return err
				}
			}

			if !run.Succeeded() {
				color.New(color.FgRed, color.Bold).Printf("\n✘ %s %s", wf.DisplayName(), result.Conclusion)
				if result.Reason != "" {
					fmt.Printf(": %s", result.Reason)
				}
				fmt.Println()
				return goerr.New("run failed", goerr.V("reason", result.Reason))
			}

			color.New(color.FgGreen, color.Bold).Printf("\n✔ %s succeeded in %s\n",
				wf.DisplayName(), run.Duration().Round(time.Millisecond))
			return nil
		},
	}
}

// saveArtifacts moves staged archives into the output directory.
func saveArtifacts(artifacts []*model.HarvestedArtifact, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create output directory")
	}

	for _, h := range artifacts {
		dest := filepath.Join(outputDir, h.Name+".zip")
		if err := moveFile(h.ArchivePath, dest); err != nil {
			return goerr.Wrap(err, "failed to save artifact", goerr.V("name", h.Name))
		}
		color.New(color.FgCyan).Printf("📦 %s (%d files, %d bytes) -> %s\n",
			h.Name, h.Files, h.SizeBytes, dest)
	}
	return nil
}

// moveFile renames when possible and copies across filesystems.
func moveFile(srcPath, destPath string) error {
	if err := os.Rename(srcPath, destPath); err == nil {
		return nil
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(srcPath)
}

// consoleObserver prints step progress while a local run executes.
type consoleObserver struct{}

func (o *consoleObserver) StepStarted(name string) {
	color.New(color.FgCyan, color.Bold).Printf("▶ %s\n", name)
}

func (o *consoleObserver) StepOutput(p []byte) {
	_, _ = os.Stdout.Write(p)
}

func (o *consoleObserver) StepFinished(result *model.StepResult) {
	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)
	switch result.Status {
	case types.StepSucceeded:
		color.New(color.FgGreen).Printf("✔ %s (%s)\n", result.Name, elapsed)
	case types.StepSkipped:
		color.New(color.FgYellow).Printf("- %s (skipped)\n", result.Name)
	default:
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		color.New(color.FgRed).Printf("✘ %s: %s\n", result.Name, msg)
	}
}
