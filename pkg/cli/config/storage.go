package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

// Storage holds artifact store configuration. When a bucket is set the
// store is Google Cloud Storage, otherwise a local directory.
type Storage struct {
	Bucket        string
	Prefix        string
	LocalDir      string
	Retention     time.Duration
	SweepInterval time.Duration
}

// Flags returns CLI flags for storage configuration
func (c *Storage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-bucket",
			Usage:       "Cloud Storage bucket for artifacts and run logs",
			Destination: &c.Bucket,
			Sources:     cli.EnvVars("DROVER_STORAGE_BUCKET"),
		},
		&cli.StringFlag{
			Name:        "storage-prefix",
			Usage:       "Object key prefix within the bucket",
			Destination: &c.Prefix,
			Sources:     cli.EnvVars("DROVER_STORAGE_PREFIX"),
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Local directory for artifacts when no bucket is configured",
			Value:       "./artifacts",
			Destination: &c.LocalDir,
			Sources:     cli.EnvVars("DROVER_STORAGE_DIR"),
		},
		&cli.DurationFlag{
			Name:        "artifact-retention",
			Usage:       "How long artifacts are kept (0 keeps them forever)",
			Value:       90 * 24 * time.Hour,
			Destination: &c.Retention,
			Sources:     cli.EnvVars("DROVER_ARTIFACT_RETENTION"),
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Usage:       "How often expired artifacts are swept",
			Value:       time.Hour,
			Destination: &c.SweepInterval,
			Sources:     cli.EnvVars("DROVER_SWEEP_INTERVAL"),
		},
	}
}
