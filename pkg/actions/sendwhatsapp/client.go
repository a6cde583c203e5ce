package sendwhatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrNotConfigured = errors.New("whatsapp client is not configured")
	ErrServerError   = errors.New("messaging API server error")
	ErrRejected      = errors.New("messaging API rejected the message")
)

// ClientConfig points at a Cloud API compatible messaging endpoint:
// POST {BaseURL}/{PhoneNumberID}/messages with a bearer token.
type ClientConfig struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
	Language      string
}

type Client struct {
	config ClientConfig
	http   *http.Client
}

func NewClient(config ClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if config.Language == "" {
		config.Language = "en_US"
	}

	return &Client{config: config, http: httpClient}
}

type outbound struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type templateBody struct {
	Name     string            `json:"name"`
	Language map[string]string `json:"language"`
}

type response struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts a text message, or a template message when templateName is
// set, and returns the provider message id.
func (c *Client) Send(ctx context.Context, to, text, templateName string) (string, error) {
	if c.config.BaseURL == "" || c.config.PhoneNumberID == "" {
		return "", backoff.Permanent(ErrNotConfigured)
	}

	body := outbound{MessagingProduct: "whatsapp", To: to, Type: "text", Text: &textBody{Body: text}}
	if templateName != "" {
		body.Type = "template"
		body.Text = nil
		body.Template = &templateBody{Name: templateName, Language: map[string]string{"code": c.config.Language}}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + c.config.PhoneNumberID + "/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("messaging request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read messaging response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return "", backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, payload))
	}

	var decoded response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("unexpected messaging response: %w", err)
	}

	if len(decoded.Messages) == 0 {
		return "", nil
	}

	return decoded.Messages[0].ID, nil
}
