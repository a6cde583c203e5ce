// Package sendwhatsapp sends a WhatsApp message through a Cloud API
// compatible endpoint.
package sendwhatsapp

import (
	"context"
	"regexp"
	"strings"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
)

const Type = "send-whatsapp"

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

type Config struct {
	To       string `json:"to"       validate:"required"`
	Message  string `json:"message"  validate:"required_without=Template"`
	Template string `json:"template"`
}

type ActionFactory struct {
	client *Client
}

func NewActionFactory(client *Client) *ActionFactory {
	return &ActionFactory{client: client}
}

func (f *ActionFactory) ID() string     { return Type }
func (f *ActionFactory) Name() string   { return "Send WhatsApp" }
func (f *ActionFactory) External() bool { return true }

func (f *ActionFactory) Description() string {
	return "Sends a WhatsApp text message, or an approved template when template is set."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"to":       {Type: "string", Description: "Phone number in international format", Pattern: `^(\+?[0-9]{6,15}|.*\{\{.*\}\}.*)$`},
		"message":  models.StringProperty("Text body"),
		"template": models.StringProperty("Name of a pre-approved message template"),
	}, "to")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	cfg, err := decode(config)
	if err != nil {
		return err
	}

	if template.HasPlaceholder(cfg.To) {
		return nil
	}

	return checkPhone(cfg.To)
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	cfg, err := decode(config)
	if err != nil {
		return nil, err
	}

	if err := checkPhone(cfg.To); err != nil {
		return nil, err
	}

	return &Action{client: f.client, config: cfg}, nil
}

func decode(config map[string]any) (Config, error) {
	var cfg Config

	err := actions.Decode(config, &cfg)

	return cfg, err
}

func normalizePhone(to string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(to)
}

func checkPhone(to string) error {
	if !phonePattern.MatchString(normalizePhone(to)) {
		return &invalidPhoneError{to: to}
	}

	return nil
}

type invalidPhoneError struct {
	to string
}

func (e *invalidPhoneError) Error() string {
	return "invalid phone number " + e.to
}

type Action struct {
	client *Client
	config Config
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	to := strings.TrimPrefix(normalizePhone(a.config.To), "+")

	id, err := a.client.Send(ctx, to, a.config.Message, a.config.Template)
	if err != nil {
		return nil, err
	}

	input.Logger.InfoContext(ctx, "WhatsApp message sent", "step_id", input.StepID, "message_id", id)

	return &protocol.Result{
		Output: map[string]any{
			"to":         to,
			"message_id": id,
		},
	}, nil
}
