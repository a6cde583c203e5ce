package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/flowbase/pkg/cmd"
	"github.com/dukex/flowbase/pkg/config"
	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/log"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/services"
	"github.com/urfave/cli/v3"
)

var ErrInvalidWorkflows = errors.New("one or more workflows are invalid")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow files for graph and configuration problems",
		ArgsUsage: "<file> [file...]",
		Action: func(ctx context.Context, command *cli.Command) error {
			validator, err := newValidator(ctx, command)
			if err != nil {
				return err
			}

			return validateFiles(command.Root().Writer, validator, command.Args().Slice())
		},
	}
}

func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Aliases:   []string{"i"},
		Usage:     "Store workflows from files; running API and worker processes pick up activations on restart",
		ArgsUsage: "<file> [file...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL: a directory, file://<dir> or postgres://...",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.BoolFlag{
				Name:  "activate",
				Usage: "Activate each workflow after import",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("flowbase-cli")

			validator, err := newValidator(ctx, command)
			if err != nil {
				return err
			}

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			service := services.NewWorkflow(logger, store, validator, nil)

			return importFiles(ctx, command.Root().Writer, service, command.Args().Slice(), command.Bool("activate"))
		},
	}
}

func newValidator(ctx context.Context, command *cli.Command) (*graph.Validator, error) {
	reg, err := cmd.NewRegistry(ctx, slog.Default(), nil, eventbus.NopPublisher{}, cmd.RegistryConfig{
		PluginsPath: command.String("plugins-path"),
	})
	if err != nil {
		return nil, err
	}

	return graph.NewValidator(reg), nil
}

func loadAll(paths []string) ([]*models.Workflow, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one workflow file is required")
	}

	var all []*models.Workflow

	for _, path := range paths {
		workflows, err := config.LoadWorkflows(path)
		if err != nil {
			return nil, err
		}

		all = append(all, workflows...)
	}

	return all, nil
}

func validateFiles(out io.Writer, validator *graph.Validator, paths []string) error {
	workflows, err := loadAll(paths)
	if err != nil {
		return err
	}

	invalid := 0

	for _, wf := range workflows {
		err := validator.Validate(wf)
		if err == nil {
			fmt.Fprintf(out, "OK: %s\n", wf.Name)

			continue
		}

		invalid++

		fmt.Fprintf(out, "Invalid: %s\n", wf.Name)

		var validationErr *graph.ValidationError
		if !errors.As(err, &validationErr) {
			fmt.Fprintf(out, "- %v\n", err)

			continue
		}

		for _, p := range validationErr.Problems {
			fmt.Fprintf(out, "- [%s] %s\n", p.Code, p.Message)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(workflows))
	}

	return nil
}

func importFiles(ctx context.Context, out io.Writer, service *services.Workflow, paths []string, activate bool) error {
	workflows, err := loadAll(paths)
	if err != nil {
		return err
	}

	for _, wf := range workflows {
		created, err := service.Create(ctx, wf)
		if err != nil {
			return fmt.Errorf("failed to import %q: %w", wf.Name, err)
		}

		if activate {
			if _, err := service.Activate(ctx, created.ID); err != nil {
				return fmt.Errorf("imported %q as %s but activation failed: %w", wf.Name, created.ID, err)
			}
		}

		fmt.Fprintf(out, "Imported: %s (%s)\n", created.Name, created.ID)
	}

	return nil
}
