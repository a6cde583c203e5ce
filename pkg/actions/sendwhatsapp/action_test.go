package sendwhatsapp_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowbase/pkg/actions/sendwhatsapp"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWhatsApp_Text(t *testing.T) {
	t.Parallel()

	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer server.Close()

	client := sendwhatsapp.NewClient(sendwhatsapp.ClientConfig{BaseURL: server.URL, PhoneNumberID: "12345", Token: "secret"}, server.Client())

	action, err := sendwhatsapp.NewActionFactory(client).Create(map[string]any{"to": "+55 (11) 99999-0000", "message": "Hi"})
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), protocol.Input{Logger: slog.Default()})
	require.NoError(t, err)

	assert.Equal(t, "5511999990000", body["to"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, map[string]any{"body": "Hi"}, body["text"])
	assert.Equal(t, "wamid.1", result.Output.(map[string]any)["message_id"])
}

func TestSendWhatsApp_Template(t *testing.T) {
	t.Parallel()

	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.2"}]}`))
	}))
	defer server.Close()

	client := sendwhatsapp.NewClient(sendwhatsapp.ClientConfig{BaseURL: server.URL, PhoneNumberID: "1"}, server.Client())

	action, err := sendwhatsapp.NewActionFactory(client).Create(map[string]any{"to": "5511999990000", "template": "welcome"})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), protocol.Input{Logger: slog.Default()})
	require.NoError(t, err)
	assert.Equal(t, "template", body["type"])
	assert.Equal(t, "welcome", body["template"].(map[string]any)["name"])
}

func TestSendWhatsApp_RejectedIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := sendwhatsapp.NewClient(sendwhatsapp.ClientConfig{BaseURL: server.URL, PhoneNumberID: "1"}, server.Client())

	action, err := sendwhatsapp.NewActionFactory(client).Create(map[string]any{"to": "5511999990000", "message": "x"})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), protocol.Input{Logger: slog.Default()})
	assert.ErrorIs(t, err, sendwhatsapp.ErrRejected)

	var permanent *backoff.PermanentError
	assert.True(t, errors.As(err, &permanent))
}

func TestSendWhatsApp_ValidateConfig(t *testing.T) {
	t.Parallel()

	factory := sendwhatsapp.NewActionFactory(nil)

	assert.NoError(t, factory.ValidateConfig(map[string]any{"to": "{{formData.phone}}", "message": "x"}))
	assert.Error(t, factory.ValidateConfig(map[string]any{"to": "call me", "message": "x"}))
	assert.Error(t, factory.ValidateConfig(map[string]any{"to": "5511999990000"}))
}
