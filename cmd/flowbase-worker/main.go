package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowbase/pkg/cmd"
	"github.com/dukex/flowbase/pkg/log"
	"github.com/dukex/flowbase/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowbase-worker",
		EnableShellCompletion: true,
		Usage:                 "Consume form and database events, run matching workflows and wake suspended runs",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "wake-queue-url",
				Usage:   "Redis URL for the wake-up queue; the run store is polled when empty",
				Sources: cli.EnvVars("WAKE_QUEUE_URL"),
			},
			&cli.DurationFlag{
				Name:    "wake-interval",
				Usage:   "How often due delays and approval timeouts are checked",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("WAKE_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "wake-concurrency",
				Usage:   "Runs resumed in parallel per tick",
				Value:   scheduler.DefaultConcurrency,
				Sources: cli.EnvVars("WAKE_CONCURRENCY"),
			},
		}, cmd.RuntimeFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowbase-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Flowbase Worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			config := cmd.RuntimeConfigFromCommand(command, "flowbase-worker")

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

			opts := []scheduler.Option{
				scheduler.WithInterval(command.Duration("wake-interval")),
				scheduler.WithConcurrency(int(command.Int("wake-concurrency"))),
			}

			if url := command.String("wake-queue-url"); url != "" {
				queue, err := scheduler.NewRedisQueueFromURL(ctx, url)
				if err != nil {
					return err
				}

				defer func() {
					if err := queue.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close wake queue", "error", err)
					}
				}()

				opts = append(opts, scheduler.WithQueue(queue))
			}

			worker := NewWorker(logger, runtime, scheduler.New(logger, runtime.Persistence.RunRepository(), runtime.Engine, opts...))

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("flowbase-worker").Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}
