// Package events implements the ride-channel fan-out. Delivery is
// best-effort and at-most-once per subscriber per publish; disconnected
// subscribers resync through the read API.
package events

import (
	"log/slog"

	"github.com/example/ride-bidding/internal/models"
)

// Publisher is the fan-out contract consumed by the engine.
type Publisher interface {
	Publish(ev models.Event)
}

// Multi fans a publish out to several publishers (local hub, redis bridge,
// kafka stream). Nil members are skipped so wiring stays env-driven.
type Multi []Publisher

func (m Multi) Publish(ev models.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ev)
		}
	}
}

// LogPublisher logs every event; used as a stand-in sink in local runs.
type LogPublisher struct {
	Logger *slog.Logger
}

func (l *LogPublisher) Publish(ev models.Event) {
	l.Logger.Info("ride_event", "ride_id", ev.RideID, "kind", ev.Kind)
}
