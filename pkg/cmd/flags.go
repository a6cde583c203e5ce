package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/actions/sendemail"
	"github.com/dukex/flowbase/pkg/actions/sendwhatsapp"
	"github.com/dukex/flowbase/pkg/otelhelper"
	"github.com/dukex/flowbase/pkg/registry"
	"github.com/urfave/cli/v3"
)

// RuntimeFlags are the flags every long running binary accepts.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL: a directory, file://<dir> or postgres://...",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing integration plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.IntFlag{
			Name:    "retry-attempts",
			Usage:   "Attempts for external integration calls",
			Value:   3,
			Sources: cli.EnvVars("RETRY_ATTEMPTS"),
		},
		&cli.StringFlag{Name: "smtp-addr", Usage: "SMTP relay host:port", Sources: cli.EnvVars("SMTP_ADDR")},
		&cli.StringFlag{Name: "smtp-username", Sources: cli.EnvVars("SMTP_USERNAME")},
		&cli.StringFlag{Name: "smtp-password", Sources: cli.EnvVars("SMTP_PASSWORD")},
		&cli.StringFlag{Name: "smtp-from", Value: "no-reply@flowbase.local", Sources: cli.EnvVars("SMTP_FROM")},
		&cli.StringFlag{Name: "whatsapp-base-url", Value: "https://graph.facebook.com/v19.0", Sources: cli.EnvVars("WHATSAPP_BASE_URL")},
		&cli.StringFlag{Name: "whatsapp-phone-number-id", Sources: cli.EnvVars("WHATSAPP_PHONE_NUMBER_ID")},
		&cli.StringFlag{Name: "whatsapp-token", Sources: cli.EnvVars("WHATSAPP_TOKEN")},
		&cli.DurationFlag{
			Name:    "index-refresh",
			Usage:   "How often the trigger index is reloaded from the store (0 disables)",
			Value:   DefaultIndexRefresh,
			Sources: cli.EnvVars("INDEX_REFRESH_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP HTTP (configured by the OTEL_EXPORTER_OTLP_* variables)",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// RuntimeConfigFromCommand reads RuntimeFlags back from a parsed command.
func RuntimeConfigFromCommand(command *cli.Command, serviceName string) RuntimeConfig {
	return RuntimeConfig{
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		ServiceName:  serviceName,
		IndexRefresh: command.Duration("index-refresh"),
		Registry: RegistryConfig{
			PluginsPath: command.String("plugins-path"),
			SMTP: sendemail.SMTPConfig{
				Addr:     command.String("smtp-addr"),
				Username: command.String("smtp-username"),
				Password: command.String("smtp-password"),
				From:     command.String("smtp-from"),
			},
			WhatsApp: sendwhatsapp.ClientConfig{
				BaseURL:       command.String("whatsapp-base-url"),
				PhoneNumberID: command.String("whatsapp-phone-number-id"),
				Token:         command.String("whatsapp-token"),
			},
			Retry: registry.RetryPolicy{
				MaxAttempts:     int(command.Int("retry-attempts")),
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
			},
		},
	}
}

// SetupTracing installs the OTLP tracer when enabled and returns its
// shutdown function, which is a no-op otherwise.
func SetupTracing(ctx context.Context, logger *slog.Logger, command *cli.Command, config *RuntimeConfig) func(context.Context) {
	if !command.Bool("tracing") {
		return func(context.Context) {}
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, config.ServiceName)
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)

		return func(context.Context) {}
	}

	config.Tracer = tracer

	return func(ctx context.Context) {
		if err := shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}
}
