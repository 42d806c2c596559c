package config

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// GitHub holds GitHub App configuration
type GitHub struct {
	AppID          int64
	InstallationID int64
	PrivateKey     string
	PrivateKeyFile string
	WebhookSecret  string
}

// Flags returns CLI flags for GitHub configuration
func (c *GitHub) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "github-app-id",
			Usage:       "GitHub App ID",
			Required:    true,
			Destination: &c.AppID,
			Sources:     cli.EnvVars("DROVER_GITHUB_APP_ID"),
		},
		&cli.Int64Flag{
			Name:        "github-installation-id",
			Usage:       "GitHub App installation ID",
			Required:    true,
			Destination: &c.InstallationID,
			Sources:     cli.EnvVars("DROVER_GITHUB_INSTALLATION_ID"),
		},
		&cli.StringFlag{
			Name:        "github-private-key",
			Usage:       "GitHub App private key in PEM format",
			Destination: &c.PrivateKey,
			Sources:     cli.EnvVars("DROVER_GITHUB_PRIVATE_KEY"),
		},
		&cli.StringFlag{
			Name:        "github-private-key-file",
			Usage:       "Path to the GitHub App private key file",
			Destination: &c.PrivateKeyFile,
			Sources:     cli.EnvVars("DROVER_GITHUB_PRIVATE_KEY_FILE"),
		},
		&cli.StringFlag{
			Name:        "github-webhook-secret",
			Usage:       "GitHub webhook secret",
			Required:    true,
			Destination: &c.WebhookSecret,
			Sources:     cli.EnvVars("DROVER_GITHUB_WEBHOOK_SECRET"),
		},
	}
}

// LoadPrivateKey returns the App private key, reading the key file when
// one is configured.
func (c *GitHub) LoadPrivateKey() (string, error) {
	if c.PrivateKeyFile != "" {
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read GitHub private key file",
				goerr.V("path", c.PrivateKeyFile))
		}
		return string(data), nil
	}

	if c.PrivateKey == "" {
		return "", goerr.New("either github-private-key or github-private-key-file is required")
	}
	return c.PrivateKey, nil
}
