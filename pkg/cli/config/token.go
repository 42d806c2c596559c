package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

// Token holds artifact download token configuration. Without a secret
// downloads are unauthenticated.
type Token struct {
	Secret string
	TTL    time.Duration
}

// Flags returns CLI flags for download token configuration
func (c *Token) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "token-secret",
			Usage:       "HMAC secret for artifact download tokens",
			Destination: &c.Secret,
			Sources:     cli.EnvVars("DROVER_TOKEN_SECRET"),
		},
		&cli.DurationFlag{
			Name:        "token-ttl",
			Usage:       "How long download links stay valid",
			Value:       time.Hour,
			Destination: &c.TTL,
			Sources:     cli.EnvVars("DROVER_TOKEN_TTL"),
		},
	}
}
