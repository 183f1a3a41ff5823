package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramGateway delivers messages through the Telegram Bot API. The
// recipient id is the chat id.
type TelegramGateway struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramGateway constructs a Telegram gateway.
func NewTelegramGateway(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramGateway{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_gateway").Logger(),
	}
}

// Send posts the content via sendMessage. Telegram performs no idempotency
// dedup of its own, so the key only travels as a header for tracing.
func (g *TelegramGateway) Send(ctx context.Context, recipient, content, idempotencyKey string) error {
	payload := map[string]string{
		"chat_id": recipient,
		"text":    content,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal telegram payload: %v", ErrPermanent, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", g.baseURL, g.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create telegram request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send telegram request: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: telegram status %d", ErrTransient, resp.StatusCode)
	default:
		// 400/403/404: bad chat id or blocked bot. Retrying cannot help.
		return fmt.Errorf("%w: telegram status %d", ErrPermanent, resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("%w: telegram returned ok=false", ErrTransient)
	}

	g.logger.Debug().Str("chat_id", recipient).Msg("telegram message sent")
	return nil
}

var _ Gateway = (*TelegramGateway)(nil)
