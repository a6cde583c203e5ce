// Package sendemail delivers an email through the configured Mailer.
package sendemail

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
)

const Type = "send-email"

type Config struct {
	Recipient string `json:"recipient" validate:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body"      validate:"required_without=Template"`
	Template  string `json:"template"`
	From      string `json:"from"`
	Cc        any    `json:"cc"`
	Bcc       any    `json:"bcc"`
	Priority  string `json:"priority"  validate:"omitempty,oneof=low normal high urgent"`
}

type ActionFactory struct {
	mailer Mailer
}

func NewActionFactory(mailer Mailer) *ActionFactory {
	return &ActionFactory{mailer: mailer}
}

func (f *ActionFactory) ID() string     { return Type }
func (f *ActionFactory) Name() string   { return "Send Email" }
func (f *ActionFactory) External() bool { return true }

func (f *ActionFactory) Description() string {
	return "Sends an email. Recipient, subject and body accept {{path}} placeholders; template sends an HTML body."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"recipient": models.StringProperty("Recipient address or comma separated list, e.g. {{formData.email}}"),
		"subject":   models.StringProperty("Subject line"),
		"body":      models.StringProperty("Plain text body"),
		"template":  models.StringProperty("HTML body; used instead of body when set"),
		"from":      models.StringProperty("Sender address, defaults to the configured sender"),
		"cc":        {Type: []string{"string", "array"}, Description: "Carbon copy recipients"},
		"bcc":       {Type: []string{"string", "array"}, Description: "Blind carbon copy recipients"},
		"priority":  {Type: "string", Enum: []any{"low", "normal", "high", "urgent"}, Default: "normal"},
	}, "recipient")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return err
	}

	if template.HasPlaceholder(cfg.Recipient) {
		return nil
	}

	_, err := parseAddresses(cfg.Recipient)

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return nil, err
	}

	to, err := parseAddresses(cfg.Recipient)
	if err != nil {
		return nil, err
	}

	cc, err := parseAddresses(cfg.Cc)
	if err != nil {
		return nil, fmt.Errorf("cc: %w", err)
	}

	bcc, err := parseAddresses(cfg.Bcc)
	if err != nil {
		return nil, fmt.Errorf("bcc: %w", err)
	}

	return &Action{mailer: f.mailer, config: cfg, to: to, cc: cc, bcc: bcc}, nil
}

// parseAddresses accepts a comma separated string or a list of strings.
func parseAddresses(v any) ([]string, error) {
	var raw []string

	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = strings.Split(val, ",")
	case []any:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		return nil, fmt.Errorf("unsupported address list %T", v)
	}

	addresses := make([]string, 0, len(raw))

	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}

		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", r, err)
		}

		addresses = append(addresses, addr.Address)
	}

	return addresses, nil
}

type Action struct {
	mailer Mailer
	config Config
	to     []string
	cc     []string
	bcc    []string
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	if len(a.to) == 0 {
		return nil, fmt.Errorf("recipient resolved to an empty address list")
	}

	body, html := a.config.Body, false
	if a.config.Template != "" {
		body, html = a.config.Template, true
	}

	msg := Message{
		ID:       newMessageID(domainOf(a.config.From)),
		From:     a.config.From,
		To:       a.to,
		Cc:       a.cc,
		Bcc:      a.bcc,
		Subject:  a.config.Subject,
		Body:     body,
		HTML:     html,
		Priority: a.config.Priority,
	}

	if err := a.mailer.Send(ctx, msg); err != nil {
		return nil, err
	}

	input.Logger.InfoContext(ctx, "Email sent", "step_id", input.StepID, "recipients", len(a.to), "message_id", msg.ID)

	return &protocol.Result{
		Output: map[string]any{
			"recipient":  strings.Join(a.to, ", "),
			"subject":    msg.Subject,
			"message_id": msg.ID,
		},
	}, nil
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return strings.Trim(address[i+1:], "> ")
	}

	return ""
}
