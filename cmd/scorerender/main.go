package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"score-render/logging"
)

// version is the CLI version, set at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "scorerender",
		Usage:   "Render worker host and client for the score-editing site",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "scorerender.toml",
				Sources: cli.EnvVars("SCORERENDER_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Before:   r.Setup,
		Commands: r.register(),
	}
}

func main() {
	runner := NewRunner(RunnerOpts{})
	if err := newApp(runner).Run(context.Background(), os.Args); err != nil {
		logging.New(os.Stderr, "error").Fatal("scorerender failed", "error", err)
	}
}
