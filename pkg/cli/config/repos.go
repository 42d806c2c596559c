package config

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/drover/pkg/domain/model"
)

// Repos holds repository registry configuration. Without a registry
// file every repository is served with the default workflow path.
type Repos struct {
	File string
}

// Flags returns CLI flags for registry configuration
func (c *Repos) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repos-file",
			Usage:       "TOML registry restricting which repositories may run",
			Destination: &c.File,
			Sources:     cli.EnvVars("DROVER_REPOS_FILE"),
		},
	}
}

// Load parses the registry file. Returns nil when no file is configured.
func (c *Repos) Load() (*model.Registry, error) {
	if c.File == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read registry file",
			goerr.V("path", c.File))
	}

	registry, err := model.ParseRegistry(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse registry file",
			goerr.V("path", c.File))
	}
	return registry, nil
}
