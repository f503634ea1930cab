// Package status builds the read-only anti-theft dashboard view.
package status

import (
	"context"

	"backend-safetrack/internal/antitheft"
	"backend-safetrack/internal/evidence"
	"backend-safetrack/internal/points"
)

const DefaultHistoryLimit = 100

type Snapshot struct {
	IsEnabled       bool              `json:"is_enabled"`
	ActiveEvent     *antitheft.Event  `json:"active_event"`
	LocationHistory []points.Point    `json:"location_history"`
	MediaRecordings []evidence.Record `json:"media_recordings"`
}

type Aggregator struct {
	events       *antitheft.Service
	ledger       *points.Ledger
	media        *evidence.Registry
	historyLimit int
}

func NewAggregator(events *antitheft.Service, ledger *points.Ledger, media *evidence.Registry, historyLimit int) *Aggregator {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Aggregator{events: events, ledger: ledger, media: media, historyLimit: historyLimit}
}

// Snapshot reports whether anti-theft is enabled and, when an event is
// active, its most recent points (newest first) and its media. It never
// writes.
func (a *Aggregator) Snapshot(ctx context.Context, ownerID string) (Snapshot, error) {
	snap := Snapshot{
		LocationHistory: []points.Point{},
		MediaRecordings: []evidence.Record{},
	}

	enabled, err := a.events.Enabled(ctx, ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	snap.IsEnabled = enabled

	active, err := a.events.ActiveEvent(ctx, ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	if active == nil {
		return snap, nil
	}
	snap.ActiveEvent = active

	history, err := a.ledger.Read(ctx, points.EventParent(active.ID), points.Descending, a.historyLimit)
	if err != nil {
		return Snapshot{}, err
	}
	snap.LocationHistory = history

	records, err := a.media.List(ctx, active.ID)
	if err != nil {
		return Snapshot{}, err
	}
	snap.MediaRecordings = records
	return snap, nil
}
