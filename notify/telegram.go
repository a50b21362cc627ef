package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// telegramMaxBytes is the bot API's hard limit on a single message.
const telegramMaxBytes = 4096

// Telegram sends notifications via the Telegram bot API. Documents over the
// message limit are truncated with a marker; the bot API rejects long
// payloads outright so truncation happens before sending.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

// NewTelegram creates a Telegram backend.
func NewTelegram(token, chatID string, logger *slog.Logger) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// Name implements Backend.
func (t *Telegram) Name() string { return "telegram" }

// Send implements Backend.
func (t *Telegram) Send(ctx context.Context, text string) error {
	text = truncateUTF8(text, telegramMaxBytes-30) // reserve room for the marker
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	return retry.Do(
		func() error {
			t.logger.Info("Telegram API request starting",
				"method", "POST",
				"endpoint", "sendMessage",
				"bytes", len(text))

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
				strings.NewReader(form.Encode()))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := t.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				t.logger.Warn("Telegram API request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					t.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				t.logger.Warn("Telegram API returned non-2xx status, will retry",
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var apiResp struct {
				OK          bool   `json:"ok"`
				Description string `json:"description"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if !apiResp.OK {
				return retry.Unrecoverable(fmt.Errorf("telegram API error: %s", apiResp.Description))
			}

			t.logger.Info("Telegram API request completed",
				"endpoint", "sendMessage",
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Info("Retrying Telegram send after error", "attempt", n, "error", err)
		}),
	)
}

// truncateUTF8 shortens text to at most maxBytes bytes without splitting a
// rune, appending a truncation marker when anything was cut.
func truncateUTF8(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... (truncated)"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
