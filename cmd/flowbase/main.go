// Package main provides the flowbase command line tool for validating and
// importing workflow definitions.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/flowbase/pkg/log"
	"github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowbase",
		Usage:                 "Validate and import workflow definitions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing integration plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), "text")

			return ctx, nil
		},
		Commands: []*cli.Command{
			ValidateCommand(),
			ImportCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
