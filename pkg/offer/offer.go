// Package offer contains the core domain types for the funpay offer monitor.
package offer

import "time"

// Offer is one normalized marketplace listing observed during a single run.
// Offers are ephemeral: they are rebuilt from the page on every run.
type Offer struct {
	ID          string   // numeric string extracted from the listing link
	Description string   // free-text description, "N/A" when unavailable
	Seller      string   // seller display name, "N/A" when unavailable
	Price       *float64 // price in USD, nil when unparsable
	PriceText   string   // original price text as shown on the page
	SP          *float64 // skill points in millions parsed from the description
	Link        string   // canonical URL to the listing
}

// State is the persisted record for one offer id in the snapshot.
type State struct {
	ID                string     `json:"id"`
	Description       string     `json:"description"`
	Seller            string     `json:"seller"`
	Price             *float64   `json:"price_usd"`
	PriceText         string     `json:"price_text"`
	SP                *float64   `json:"sp_million"`
	Link              string     `json:"href"`
	LastSeenActive    *time.Time `json:"last_seen_active"`
	RemovalNotifiedAt *time.Time `json:"notified_as_removed_at"` // nil unless removal was already reported
}

// Snapshot maps offer id to its last known state. It is the only durable
// entity: loaded at run start, rebuilt during reconciliation, and overwritten
// wholesale at run end.
type Snapshot map[string]*State

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, st := range s {
		c := *st
		out[id] = &c
	}
	return out
}

// PriceChange records an offer whose price moved past the configured
// threshold, with the prior price for display.
type PriceChange struct {
	Offer     Offer
	LastPrice float64
	Amount    float64 // absolute change in USD, always positive
	Percent   float64 // change relative to the prior price, always positive
}

// Changes is the classified result of reconciling one scrape against the
// previous snapshot. Reappeared offers are reported in New.
type Changes struct {
	New       []Offer
	Dropped   []PriceChange
	Increased []PriceChange
	Removed   []*State // last known details of offers gone from the page
}

// Empty reports whether no change list has entries.
func (c *Changes) Empty() bool {
	return len(c.New) == 0 && len(c.Dropped) == 0 && len(c.Increased) == 0 && len(c.Removed) == 0
}

// StateOf builds a snapshot entry from a freshly scraped offer.
func StateOf(o Offer, seenAt time.Time) *State {
	t := seenAt
	return &State{
		ID:             o.ID,
		Description:    o.Description,
		Seller:         o.Seller,
		Price:          o.Price,
		PriceText:      o.PriceText,
		SP:             o.SP,
		Link:           o.Link,
		LastSeenActive: &t,
	}
}
