// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowbase/pkg/actions/approval"
	"github.com/dukex/flowbase/pkg/actions/condition"
	"github.com/dukex/flowbase/pkg/actions/delay"
	"github.com/dukex/flowbase/pkg/actions/notification"
	"github.com/dukex/flowbase/pkg/actions/sendemail"
	"github.com/dukex/flowbase/pkg/actions/sendwhatsapp"
	"github.com/dukex/flowbase/pkg/actions/transform"
	"github.com/dukex/flowbase/pkg/actions/updatedatabase"
	"github.com/dukex/flowbase/pkg/actions/webhook"
	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/integrations/slack"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/registry"
)

var ErrMailerNotConfigured = errors.New("no SMTP relay configured")

type RegistryConfig struct {
	PluginsPath string
	SMTP        sendemail.SMTPConfig
	WhatsApp    sendwhatsapp.ClientConfig
	Retry       registry.RetryPolicy
}

func newMailer(logger *slog.Logger, config sendemail.SMTPConfig) sendemail.Mailer {
	if config.Addr != "" {
		return sendemail.NewSMTPMailer(config)
	}

	logger.Warn("SMTP_ADDR is not set, send-email steps will fail")

	return sendemail.MailerFunc(func(context.Context, sendemail.Message) error {
		return backoff.Permanent(ErrMailerNotConfigured)
	})
}

func registerNativeActions(reg *registry.Registry, logger *slog.Logger, records persistence.RecordRepository, publisher eventbus.EventPublisher, config RegistryConfig) error {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	for _, err := range []error{
		reg.Register(sendemail.NewActionFactory(newMailer(logger, config.SMTP))),
		reg.Register(webhook.NewActionFactory(httpClient)),
		reg.Register(updatedatabase.NewActionFactory(records, updatedatabase.WithPublisher(publisher))),
		reg.Register(delay.NewActionFactory()),
		reg.Register(condition.NewActionFactory()),
		reg.Register(approval.NewActionFactory()),
		reg.Register(sendwhatsapp.NewActionFactory(sendwhatsapp.NewClient(config.WhatsApp, httpClient))),
		reg.Register(transform.NewActionFactory()),
		reg.Register(notification.NewActionFactory(publisher)),
		reg.RegisterIntegration(slack.New(httpClient)),
	} {
		if err != nil {
			return err
		}
	}

	return nil
}

// NewRegistry registers the built-in actions, the bundled integrations and
// any integration plugins found under config.PluginsPath.
func NewRegistry(ctx context.Context, logger *slog.Logger, records persistence.RecordRepository, publisher eventbus.EventPublisher, config RegistryConfig) (*registry.Registry, error) {
	var opts []registry.Option
	if config.Retry.MaxAttempts > 0 {
		opts = append(opts, registry.WithRetryPolicy(config.Retry))
	}

	reg := registry.NewRegistry(logger, opts...)

	if err := registerNativeActions(reg, logger, records, publisher, config); err != nil {
		return nil, err
	}

	if config.PluginsPath != "" {
		if err := reg.LoadIntegrationPlugins(ctx, config.PluginsPath); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
