package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// discordMaxChars is the webhook API's limit on a single message's content.
const discordMaxChars = 2000

// Discord sends notifications via a webhook. Documents over the message
// limit are split at line boundaries into sequential chunks with
// continuation markers; delivery succeeds only when every chunk lands.
type Discord struct {
	webhookURL string
	chunkDelay time.Duration // pause between chunks, webhook rate-limit courtesy
	client     *http.Client
	logger     *slog.Logger
}

// NewDiscord creates a Discord webhook backend.
func NewDiscord(webhookURL string, chunkDelay time.Duration, logger *slog.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		chunkDelay: chunkDelay,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Name implements Backend.
func (d *Discord) Name() string { return "discord" }

// Send implements Backend.
func (d *Discord) Send(ctx context.Context, text string) error {
	chunks := splitChunks(strings.TrimSpace(text), discordMaxChars)

	for i, chunk := range chunks {
		if err := d.sendChunk(ctx, chunk, i+1); err != nil {
			return fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		if i < len(chunks)-1 && d.chunkDelay > 0 {
			select {
			case <-time.After(d.chunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if len(chunks) > 1 {
		d.logger.Info("All Discord chunks sent", "chunks", len(chunks))
	}
	return nil
}

func (d *Discord) sendChunk(ctx context.Context, content string, index int) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return retry.Do(
		func() error {
			d.logger.Info("Discord webhook request starting",
				"method", "POST",
				"chunk", index,
				"chars", len(content))

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL,
				bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := d.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				d.logger.Warn("Discord webhook request failed, will retry",
					"chunk", index,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					d.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				d.logger.Warn("Discord webhook returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"chunk", index)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			d.logger.Info("Discord webhook request completed",
				"chunk", index,
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
			d.logger.Info("Retrying Discord chunk after error", "attempt", n, "chunk", index, "error", err)
		}),
	)
}

// splitChunks breaks text into pieces below maxChars, splitting at the last
// newline before the limit where possible, and decorates multi-part output
// with part and continuation markers. Each returned chunk, markers
// included, fits within maxChars.
func splitChunks(text string, maxChars int) []string {
	const continuation = "\n... (Continued in next part)"

	var raw []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxChars {
			raw = append(raw, remaining)
			break
		}
		split := strings.LastIndex(remaining[:maxChars], "\n")
		if split <= 0 {
			// No usable newline; hard-split at the limit without cutting
			// through a rune.
			split = maxChars
			for split > 0 && !isRuneStart(remaining[split]) {
				split--
			}
			if split == 0 {
				split = maxChars
			}
		}
		raw = append(raw, remaining[:split])
		remaining = strings.TrimLeft(remaining[split:], "\n")
	}

	if len(raw) <= 1 {
		return raw
	}

	out := make([]string, 0, len(raw))
	for i, chunk := range raw {
		prefix := ""
		if i > 0 {
			prefix = fmt.Sprintf("(Part %d) ...\n", i+1)
		}
		suffix := ""
		if i < len(raw)-1 {
			suffix = continuation
		}

		budget := maxChars - len(prefix) - len(suffix)
		if len(chunk) > budget {
			cut := budget - 3
			for cut > 0 && !isRuneStart(chunk[cut]) {
				cut--
			}
			chunk = chunk[:cut] + "..."
		}
		out = append(out, prefix+chunk+suffix)
	}
	return out
}
