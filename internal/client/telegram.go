package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tryon-edge/internal/config"
)

// APIError is a non-success reply from the Telegram Bot API.
type APIError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	// Raw is the response body as received, used as a diagnostic.
	Raw string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error: status %d: %s", e.StatusCode, e.Raw)
}

// redactedError hides the bot token from error text while keeping the chain.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiReply struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// TelegramClient posts messages to a single chat through the Bot API.
type TelegramClient struct {
	http   *resty.Client
	token  string
	chatID string
	logger *slog.Logger
}

// NewTelegramClient creates a TelegramClient for the configured bot and chat.
func NewTelegramClient(cfg *config.Config, logger *slog.Logger) *TelegramClient {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Lead.APIBaseURL, "/")).
		SetTimeout(time.Duration(cfg.Lead.TimeoutSeconds)*time.Second).
		SetHeader("User-Agent", "tryon-edge/1.0")

	return &TelegramClient{
		http:   rc,
		token:  cfg.Lead.BotToken,
		chatID: cfg.Lead.ChatID,
		logger: logger.With("component", "telegram_client"),
	}
}

// SendMessage delivers an HTML-formatted message to the configured chat.
// A non-success reply is returned as *APIError.
func (c *TelegramClient) SendMessage(ctx context.Context, text string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{
			ChatID:    c.chatID,
			Text:      text,
			ParseMode: "HTML",
		}).
		Post("/bot" + c.token + "/sendMessage")
	if err != nil {
		return &redactedError{msg: "send message: " + c.redact(err.Error()), err: err}
	}

	var reply apiReply
	decodeErr := json.Unmarshal(resp.Body(), &reply)

	if resp.IsError() || decodeErr != nil || !reply.OK {
		apiErr := &APIError{
			StatusCode:  resp.StatusCode(),
			ErrorCode:   reply.ErrorCode,
			Description: reply.Description,
			Raw:         c.redact(strings.TrimSpace(string(resp.Body()))),
		}
		if apiErr.ErrorCode == 0 {
			apiErr.ErrorCode = resp.StatusCode()
		}
		c.logger.Warn("telegram rejected message",
			"status", apiErr.StatusCode,
			"error_code", apiErr.ErrorCode,
			"description", apiErr.Description,
		)
		return apiErr
	}

	c.logger.Debug("telegram message sent", "chat_id", c.chatID)
	return nil
}

func (c *TelegramClient) redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, "[REDACTED]")
}
