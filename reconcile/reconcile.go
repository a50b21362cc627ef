// Package reconcile implements the offer reconciliation engine: diffing a
// fresh scrape against the persisted snapshot and classifying each offer as
// new, price-changed, reappeared, or removed.
package reconcile

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"funpay-notifier/pkg/offer"
)

// Policy holds the noise-suppression rules applied during reconciliation.
// DropPercent and DropAmount are mutually exclusive; exactly one (or
// neither, meaning any decrease notifies) may be set.
type Policy struct {
	DropPercent     float64 // notify when the decrease exceeds this percentage of the prior price
	DropAmount      float64 // notify when the decrease exceeds this fixed USD amount
	NotifyIncreases bool    // also report price rises past the same threshold
	MinSP           float64 // suppress notifications for offers below this many million skill points
}

// Validate rejects contradictory policies.
func (p Policy) Validate() error {
	if p.DropPercent > 0 && p.DropAmount > 0 {
		return fmt.Errorf("percentage (%.1f) and fixed-amount (%.2f) thresholds are mutually exclusive", p.DropPercent, p.DropAmount)
	}
	return nil
}

// Engine reconciles scrape results against the stored snapshot.
type Engine struct {
	logger *slog.Logger
	policy Policy
}

// New creates a reconciliation engine with the given policy.
func New(policy Policy, logger *slog.Logger) *Engine {
	return &Engine{policy: policy, logger: logger}
}

// Reconcile compares the current scrape against the previous snapshot and
// returns the classified change lists plus the next snapshot to persist.
// The previous snapshot is not mutated. Running with identical input twice
// yields empty change lists and an equivalent snapshot.
func (e *Engine) Reconcile(current map[string]offer.Offer, previous offer.Snapshot, now time.Time) (offer.Changes, offer.Snapshot) {
	var changes offer.Changes
	next := previous.Clone()

	for id, o := range current {
		prev, known := previous[id]

		if !known {
			e.logger.Info("New offer", "offer_id", id, "price", priceField(o.Price))
			if e.notifiable(o) {
				changes.New = append(changes.New, o)
			}
			next[id] = offer.StateOf(o, now)
			continue
		}

		st := offer.StateOf(o, now)

		if prev.RemovalNotifiedAt != nil {
			// Previously reported removed; it is back. Reset the flag and
			// report it alongside new offers.
			e.logger.Info("Offer reappeared, resetting removal status", "offer_id", id)
			if e.notifiable(o) {
				changes.New = append(changes.New, o)
			}
		}

		// Price comparison only when both sides are present; a missing side
		// disables price-change detection for this offer.
		if o.Price != nil && prev.Price != nil {
			e.classifyPriceMove(&changes, o, *prev.Price)
		}

		if o.Price == nil && prev.Price != nil {
			// Conservative retention: keep the last known price rather than
			// recording an absence that would look like a change later.
			e.logger.Warn("Price became unavailable, retaining last known value",
				"offer_id", id, "last_price", *prev.Price)
			st.Price = prev.Price
			st.PriceText = prev.PriceText
		}

		next[id] = st
	}

	// Offers in the snapshot but absent from the scrape: notify once.
	for id, st := range next {
		if _, present := current[id]; present {
			continue
		}
		if st.RemovalNotifiedAt != nil {
			e.logger.Debug("Offer still absent, removal already reported",
				"offer_id", id, "notified_at", st.RemovalNotifiedAt.Format(time.RFC3339))
			continue
		}
		e.logger.Info("Offer removed", "offer_id", id, "price", priceField(st.Price))
		t := now
		st.RemovalNotifiedAt = &t
		changes.Removed = append(changes.Removed, st)
	}

	sortOffers(changes.New)
	sortPriceChanges(changes.Dropped)
	sortPriceChanges(changes.Increased)
	sortStates(changes.Removed)

	e.logger.Info("Reconciliation complete",
		"current", len(current),
		"new", len(changes.New),
		"dropped", len(changes.Dropped),
		"increased", len(changes.Increased),
		"removed", len(changes.Removed),
		"tracked", len(next))

	return changes, next
}

func (e *Engine) classifyPriceMove(changes *offer.Changes, o offer.Offer, lastPrice float64) {
	diff := *o.Price - lastPrice
	if diff == 0 {
		return
	}

	amount := math.Abs(diff)
	// A zero prior price has no meaningful percentage; the amount still
	// drives the absolute threshold.
	percent := 0.0
	if lastPrice > 0 {
		percent = amount / lastPrice * 100.0
	}

	if !e.exceedsThreshold(amount, percent) {
		// Suppressed, but the stored price still updates to the new value.
		e.logger.Info("Price move below threshold, suppressing notification",
			"offer_id", o.ID, "last_price", lastPrice, "price", *o.Price)
		return
	}

	change := offer.PriceChange{Offer: o, LastPrice: lastPrice, Amount: amount, Percent: percent}

	if diff < 0 {
		e.logger.Info("Price drop",
			"offer_id", o.ID, "last_price", lastPrice, "price", *o.Price, "percent", percent)
		if e.notifiable(o) {
			changes.Dropped = append(changes.Dropped, change)
		}
		return
	}

	if e.policy.NotifyIncreases {
		e.logger.Info("Price increase",
			"offer_id", o.ID, "last_price", lastPrice, "price", *o.Price, "percent", percent)
		if e.notifiable(o) {
			changes.Increased = append(changes.Increased, change)
		}
	}
}

func (e *Engine) exceedsThreshold(amount, percent float64) bool {
	switch {
	case e.policy.DropAmount > 0:
		return amount > e.policy.DropAmount
	case e.policy.DropPercent > 0:
		return percent > e.policy.DropPercent
	default:
		return true
	}
}

// notifiable applies the skill point minimum filter. Offers with no
// extractable skill point value always pass.
func (e *Engine) notifiable(o offer.Offer) bool {
	if e.policy.MinSP <= 0 || o.SP == nil {
		return true
	}
	if *o.SP < e.policy.MinSP {
		e.logger.Debug("Offer below skill point minimum, suppressing notification",
			"offer_id", o.ID, "sp_million", *o.SP, "min", e.policy.MinSP)
		return false
	}
	return true
}

// sortPrice is the sentinel-based ordering key: absent prices sort last.
func sortPrice(p *float64) float64 {
	if p == nil {
		return math.Inf(1)
	}
	return *p
}

func sortOffers(list []offer.Offer) {
	sort.SliceStable(list, func(i, j int) bool {
		return sortPrice(list[i].Price) < sortPrice(list[j].Price)
	})
}

func sortPriceChanges(list []offer.PriceChange) {
	sort.SliceStable(list, func(i, j int) bool {
		return sortPrice(list[i].Offer.Price) < sortPrice(list[j].Offer.Price)
	})
}

func sortStates(list []*offer.State) {
	sort.SliceStable(list, func(i, j int) bool {
		return sortPrice(list[i].Price) < sortPrice(list[j].Price)
	})
}

func priceField(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *p)
}
