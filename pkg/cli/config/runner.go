package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

// Runner holds job runner configuration
type Runner struct {
	Labels      []string
	WorkDir     string
	Concurrency int
	JobTimeout  time.Duration
}

// Flags returns CLI flags for runner configuration
func (c *Runner) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "runner-label",
			Usage:       "Label this runner offers, matched against runs-on (repeatable)",
			Destination: &c.Labels,
			Sources:     cli.EnvVars("DROVER_RUNNER_LABELS"),
		},
		&cli.StringFlag{
			Name:        "runner-workdir",
			Usage:       "Directory run workspaces are created under (default: system temp)",
			Destination: &c.WorkDir,
			Sources:     cli.EnvVars("DROVER_RUNNER_WORKDIR"),
		},
		&cli.IntFlag{
			Name:        "runner-concurrency",
			Usage:       "Maximum number of runs executed at once",
			Value:       2,
			Destination: &c.Concurrency,
			Sources:     cli.EnvVars("DROVER_RUNNER_CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:        "job-timeout",
			Usage:       "Default job timeout, overridden by timeout-minutes in the workflow",
			Value:       30 * time.Minute,
			Destination: &c.JobTimeout,
			Sources:     cli.EnvVars("DROVER_JOB_TIMEOUT"),
		},
	}
}
