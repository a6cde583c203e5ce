// Package webhook calls an external HTTP endpoint and exposes the response to
// later steps.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
)

const (
	Type = "webhook-call"

	defaultTimeout = 30 * time.Second
)

var (
	ErrServerError = errors.New("server error during webhook call")
	ErrClientError = errors.New("webhook rejected the request")
)

type Config struct {
	URL     string         `json:"url" validate:"required"`
	Method  string         `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Headers map[string]any `json:"headers"`
	Body    any            `json:"body"`
	Timeout string         `json:"timeout"`
}

type ActionFactory struct {
	client *http.Client
}

// NewActionFactory builds webhook actions. A nil client uses a default one.
func NewActionFactory(client *http.Client) *ActionFactory {
	if client == nil {
		client = &http.Client{}
	}

	return &ActionFactory{client: client}
}

func (f *ActionFactory) ID() string     { return Type }
func (f *ActionFactory) Name() string   { return "Webhook Call" }
func (f *ActionFactory) External() bool { return true }

func (f *ActionFactory) Description() string {
	return "Sends an HTTP request. Object bodies are sent as JSON; the response status, headers and body become the step output."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"url":     {Type: "string", Format: "uri", Description: "Endpoint to call"},
		"method":  {Type: "string", Enum: []any{"GET", "POST", "PUT", "PATCH", "DELETE"}, Default: "POST"},
		"headers": models.ObjectProperty("Request headers"),
		"body":    {Description: "String or object body"},
		"timeout": models.StringProperty("Per attempt timeout, default 30s"),
	}, "url")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	_, err := decode(config)

	return err
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	cfg, err := decode(config)
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout

	if cfg.Timeout != "" {
		timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
		}
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	return &Action{
		client:  f.client,
		url:     cfg.URL,
		method:  method,
		headers: cfg.Headers,
		body:    cfg.Body,
		timeout: timeout,
	}, nil
}

func decode(config map[string]any) (Config, error) {
	var cfg Config

	err := actions.Decode(config, &cfg)

	return cfg, err
}

type Action struct {
	client  *http.Client
	url     string
	method  string
	headers map[string]any
	body    any
	timeout time.Duration
}

// Execute performs one attempt. 5xx responses and transport errors are
// retryable; 4xx responses are permanent.
func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	logger := input.Logger.With("module", "webhook_action")

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := a.buildRequest(ctx)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	logger.DebugContext(ctx, "Calling webhook", "method", a.method, "url", a.url)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	output, err := processResponse(resp)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrClientError, resp.StatusCode))
	}

	logger.InfoContext(ctx, "Webhook completed", "status_code", resp.StatusCode)

	return &protocol.Result{Output: output}, nil
}

func (a *Action) buildRequest(ctx context.Context) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)

	switch body := a.body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(body)
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, a.method, a.url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, value := range a.headers {
		req.Header.Set(key, fmt.Sprint(value))
	}

	return req, nil
}

func processResponse(resp *http.Response) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
