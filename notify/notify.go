// Package notify delivers formatted notification text to chat backends.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend is one delivery channel for a notification document. Each backend
// enforces its own message size limit (truncating or chunking as needed).
type Backend interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Dispatcher tries backends strictly in priority order and stops at the
// first one that fully delivers the document.
type Dispatcher struct {
	backends []Backend
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given backends, highest
// priority first.
func NewDispatcher(backends []Backend, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{backends: backends, logger: logger}
}

// Send delivers the text via the first backend that succeeds. It returns an
// error only when every configured backend failed.
func (d *Dispatcher) Send(ctx context.Context, text string) error {
	if text == "" {
		d.logger.Info("Empty notification document, nothing to send")
		return nil
	}
	if len(d.backends) == 0 {
		return errors.New("no notification backends configured")
	}

	var lastErr error
	for _, b := range d.backends {
		d.logger.Info("Attempting notification delivery", "backend", b.Name())
		if err := b.Send(ctx, text); err != nil {
			d.logger.Error("Notification delivery failed, trying next backend",
				"backend", b.Name(), "error", err)
			lastErr = err
			continue
		}
		d.logger.Info("Notification delivered", "backend", b.Name())
		return nil
	}

	return fmt.Errorf("all notification backends failed: %w", lastErr)
}
