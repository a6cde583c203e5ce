package main

import (
	"context"
	"os"

	"github.com/dukex/flowbase/pkg/cmd"
	"github.com/dukex/flowbase/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "flowbase-api",
		Usage:                 "Author workflows, receive events and test runs over HTTP",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, cmd.RuntimeFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Flowbase API")

			config := cmd.RuntimeConfigFromCommand(command, "flowbase-api")

			shutdownTracing := cmd.SetupTracing(ctx, logger, command, &config)
			defer shutdownTracing(context.WithoutCancel(ctx))

			runtime, err := cmd.NewRuntime(ctx, logger, config)
			if err != nil {
				return err
			}

			defer func() {
				if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			// POST /events matches in this process too, so the index follows
			// activations made elsewhere.
			if err := runtime.WatchWorkflows(ctx); err != nil {
				return err
			}

			if err := runtime.EventBus.Subscribe(ctx); err != nil {
				return err
			}

			return NewAPI(logger, runtime).Start(int(command.Int("port")))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("api").Error("API stopped", "error", err)
		os.Exit(1)
	}
}
