// Package poll runs one monitoring cycle: scrape, reconcile, persist, notify.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"funpay-notifier/pkg/offer"

	"github.com/google/uuid"
)

// Scraper fetches the current listing page.
type Scraper interface {
	Fetch(ctx context.Context) (map[string]offer.Offer, error)
}

// Store persists the offer snapshot.
type Store interface {
	Load(ctx context.Context) (offer.Snapshot, error)
	Save(ctx context.Context, snap offer.Snapshot) error
}

// Reconciler classifies the scrape against the previous snapshot.
type Reconciler interface {
	Reconcile(current map[string]offer.Offer, previous offer.Snapshot, now time.Time) (offer.Changes, offer.Snapshot)
}

// Dispatcher delivers the rendered notification document.
type Dispatcher interface {
	Send(ctx context.Context, text string) error
}

// Renderer turns a change set into the notification document.
type Renderer func(changes *offer.Changes, now time.Time) string

// Monitor orchestrates one monitoring run.
type Monitor struct {
	scraper    Scraper
	store      Store
	reconciler Reconciler
	dispatcher Dispatcher
	render     Renderer
	logger     *slog.Logger
}

// New creates a poll monitor.
func New(scraper Scraper, store Store, reconciler Reconciler, dispatcher Dispatcher, render Renderer, logger *slog.Logger) *Monitor {
	return &Monitor{
		scraper:    scraper,
		store:      store,
		reconciler: reconciler,
		dispatcher: dispatcher,
		render:     render,
		logger:     logger,
	}
}

// Run executes one monitoring cycle. A failed or empty scrape aborts before
// any persisted state is touched. The snapshot write is authoritative: it
// happens right after reconciliation and is not rolled back when delivery
// fails; a delivery failure is returned as the run's error.
func (m *Monitor) Run(ctx context.Context) error {
	start := time.Now()
	logger := m.logger.With("run_id", uuid.NewString())

	logger.Info("Monitoring run starting")

	current, err := m.scraper.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch listing page: %w", err)
	}

	previous, err := m.store.Load(ctx)
	if err != nil {
		logger.Error("Failed to load snapshot, starting with empty state", "error", err)
		previous = offer.Snapshot{}
	}

	changes, next := m.reconciler.Reconcile(current, previous, start)

	if saveErr := m.store.Save(ctx, next); saveErr != nil {
		// The run continues: the next run will re-detect the same changes,
		// which favors re-notification over silent data loss.
		logger.Error("Failed to save snapshot, next run will re-detect these changes", "error", saveErr)
	}

	var delivered bool
	var deliverErr error
	message := m.render(&changes, start)
	if message == "" {
		logger.Info("No relevant changes detected, nothing to send")
	} else {
		deliverErr = m.dispatcher.Send(ctx, message)
		delivered = deliverErr == nil
	}

	logger.Info("Monitoring run finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"offers", len(current),
		"new", len(changes.New),
		"dropped", len(changes.Dropped),
		"increased", len(changes.Increased),
		"removed", len(changes.Removed),
		"notified", delivered)

	if deliverErr != nil {
		return fmt.Errorf("deliver notification: %w", deliverErr)
	}
	return nil
}
