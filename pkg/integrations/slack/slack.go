// Package slack is a built-in integration that posts messages through Slack
// incoming webhooks. Its actions register as "slack_<action>".
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
)

const ID = "slack"

var ErrSlack = errors.New("slack rejected the message")

type Integration struct {
	client *http.Client
}

func New(client *http.Client) *Integration {
	if client == nil {
		client = http.DefaultClient
	}

	return &Integration{client: client}
}

func (i *Integration) ID() string   { return ID }
func (i *Integration) Name() string { return "Slack" }

func (i *Integration) Actions() []protocol.ActionFactory {
	return []protocol.ActionFactory{&postMessageFactory{client: i.client}}
}

type postMessageConfig struct {
	WebhookURL string `json:"webhook_url" validate:"required,url"`
	Text       string `json:"text"        validate:"required"`
	Channel    string `json:"channel"`
	Username   string `json:"username"`
}

type postMessageFactory struct {
	client *http.Client
}

func (f *postMessageFactory) ID() string     { return "post-message" }
func (f *postMessageFactory) Name() string   { return "Post Slack Message" }
func (f *postMessageFactory) External() bool { return true }

func (f *postMessageFactory) Description() string {
	return "Posts a text message to a Slack channel through an incoming webhook."
}

func (f *postMessageFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"webhook_url": {Type: "string", Description: "Incoming webhook URL", Format: "uri"},
		"text":        models.StringProperty("Message text"),
		"channel":     models.StringProperty("Channel override"),
		"username":    models.StringProperty("Display name override"),
	}, "webhook_url", "text")
}

func (f *postMessageFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg postMessageConfig
	if err := actions.Decode(config, &cfg); err != nil {
		return nil, err
	}

	return &postMessage{client: f.client, config: cfg}, nil
}

type postMessage struct {
	client *http.Client
	config postMessageConfig
}

func (a *postMessage) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	body := map[string]any{"text": a.config.Text}
	if a.config.Channel != "" {
		body["channel"] = a.config.Channel
	}

	if a.config.Username != "" {
		body["username"] = a.config.Username
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %d %s", ErrSlack, resp.StatusCode, reply)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, backoff.Permanent(fmt.Errorf("%w: %d %s", ErrSlack, resp.StatusCode, reply))
	}

	input.Logger.InfoContext(ctx, "Slack message posted", "step_id", input.StepID, "channel", a.config.Channel)

	return &protocol.Result{Output: map[string]any{"ok": true, "channel": a.config.Channel}}, nil
}
