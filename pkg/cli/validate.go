package cli

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

func cmdValidate() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow files",
		ArgsUsage: "[files...]",
		Action: func(ctx context.Context, c *cli.Command) error {
			files := c.Args().Slice()
			if len(files) == 0 {
				files = []string{types.DefaultWorkflowPath}
			}

			failures := 0
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					color.New(color.FgRed).Printf("✘ %s: %s\n", path, err)
					failures++
					continue
				}

				wf, err := model.ParseWorkflow(data)
				if err != nil {
					color.New(color.FgRed).Printf("✘ %s: %s\n", path, err)
					failures++
					continue
				}

				jobID, job := wf.Job()
				color.New(color.FgGreen).Printf("✔ %s: workflow %q, job %q, %d steps\n",
					path, wf.DisplayName(), jobID, len(job.Steps))
			}

			if failures > 0 {
				return goerr.New("workflow validation failed",
					goerr.V("failures", failures))
			}
			return nil
		},
	}
}
