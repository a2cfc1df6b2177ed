package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon-edge/internal/config"
)

func newTestTelegram(baseURL string) *TelegramClient {
	cfg := &config.Config{Lead: config.LeadConfig{
		BotToken:       "123:secret",
		ChatID:         "42",
		APIBaseURL:     baseURL,
		TimeoutSeconds: 5,
	}}
	return NewTelegramClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTelegramClient_SendMessage(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bot123:secret/sendMessage", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	err := newTestTelegram(srv.URL).SendMessage(context.Background(), "<b>hi</b>")
	require.NoError(t, err)
	assert.Equal(t, sendMessageRequest{ChatID: "42", Text: "<b>hi</b>", ParseMode: "HTML"}, got)
}

func TestTelegramClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := newTestTelegram(srv.URL).SendMessage(context.Background(), "x")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 400, apiErr.ErrorCode)
	assert.Equal(t, "Bad Request: chat not found", apiErr.Description)
	assert.Contains(t, apiErr.Raw, "chat not found")
}

func TestTelegramClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestTelegram(srv.URL).SendMessage(context.Background(), "x")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.ErrorCode)
	assert.Equal(t, "bad gateway", apiErr.Raw)
}

func TestTelegramClient_TransportErrorRedactsToken(t *testing.T) {
	err := newTestTelegram("http://127.0.0.1:1").SendMessage(context.Background(), "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:secret")
	assert.Contains(t, err.Error(), "[REDACTED]")
}
