package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// Host variables handed through to steps. Builds need the toolchain on
// PATH; everything else must be declared in the workflow.
var passthroughEnv = []string{"PATH", "HOME", "TMPDIR"}

// runCommand executes one run step through the shell.
func (r *Runner) runCommand(ctx context.Context, ex *execution, step *model.Step, sr *model.StepResult) {
	cmd := exec.Command("sh", "-c", step.Run)
	cmd.Dir = ex.workspace
	if step.WorkingDir != "" {
		cmd.Dir = filepath.Join(ex.workspace, filepath.FromSlash(step.WorkingDir))
	}
	cmd.Env = buildStepEnv(ex, step)

	// Set process group so the entire process tree dies on cancellation
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	w := &stepWriter{
		ex:   ex,
		tail: &tailBuffer{limit: outputTailLimit},
		obs:  r.observer,
	}
	// Same writer for both streams, so os/exec serializes the writes
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		sr.Status = types.StepFailed
		sr.ExitCode = -1
		sr.Error = err.Error()
		fmt.Fprintf(ex.log, "failed to start step: %s\n", err)
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		// Kill the process group (negative PID)
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done // Wait for the process to actually exit
		sr.Status = types.StepFailed
		sr.ExitCode = -1
		sr.Error = ctx.Err().Error()
		sr.Output = w.tail.String()
		return
	case err = <-done:
	}

	sr.Output = w.tail.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			sr.Status = types.StepFailed
			sr.ExitCode = exitErr.ExitCode()
		} else {
			sr.Status = types.StepFailed
			sr.ExitCode = -1
			sr.Error = err.Error()
		}
		return
	}

	sr.Status = types.StepSucceeded
}

// buildStepEnv assembles the step environment: run identity, a few host
// passthrough variables, then workflow and step declarations. Later
// entries win, so a step can override its job.
func buildStepEnv(ex *execution, step *model.Step) []string {
	env := []string{
		"CI=true",
		"DROVER=true",
		"DROVER_RUN_ID=" + ex.run.ID.String(),
		"DROVER_REPOSITORY=" + ex.run.Repository,
		"DROVER_REF=" + ex.run.Ref,
		"DROVER_SHA=" + ex.run.CommitSHA,
		"DROVER_WORKSPACE=" + ex.workspace,
	}

	for _, key := range passthroughEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}

	for k, v := range ex.job.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// stepWriter fans step output out to the run log, the bounded tail and
// the observer.
type stepWriter struct {
	ex   *execution
	tail *tailBuffer
	obs  StepObserver
}

func (w *stepWriter) Write(p []byte) (int, error) {
	w.ex.log.Write(p)
	w.tail.Write(p)
	if w.obs != nil {
		w.obs.StepOutput(p)
	}
	return len(p), nil
}

// tailBuffer keeps the last limit bytes written through it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
