package events

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-bidding/internal/models"
	"github.com/example/ride-bidding/internal/observability"
)

// FeedChannel is the logical channel drivers watch for open fixed-mode
// rides; every ride also gets its own channel keyed by ride ID.
const FeedChannel = "feed"

// session wraps one websocket connection. The mutex serializes writers
// since gorilla allows only one concurrent writer per conn.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub delivers events to websocket subscribers grouped by channel. A failed
// write drops the subscriber; it never blocks or fails the publish.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*session]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{channels: make(map[string]map[*session]struct{}), logger: logger}
}

// Subscribe registers conn on the channel and returns an unsubscribe func.
func (h *Hub) Subscribe(channel string, conn *websocket.Conn) func() {
	s := &session{conn: conn}
	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*session]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()
	observability.FanoutSubscribers.Inc()

	return func() {
		h.mu.Lock()
		if subs, ok := h.channels[channel]; ok {
			if _, present := subs[s]; present {
				delete(subs, s)
				observability.FanoutSubscribers.Dec()
			}
			if len(subs) == 0 {
				delete(h.channels, channel)
			}
		}
		h.mu.Unlock()
		_ = conn.Close()
	}
}

// Publish delivers ev to the ride's channel, and to the open-ride feed for
// the kinds feed watchers care about.
func (h *Hub) Publish(ev models.Event) {
	h.broadcast(ev.RideID, ev)
	switch ev.Kind {
	case models.EventRideAvailable, models.EventRideAccepted:
		h.broadcast(FeedChannel, ev)
	}
}

func (h *Hub) broadcast(channel string, ev models.Event) {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(ev); err != nil {
			h.logger.Warn("fanout write failed, dropping subscriber",
				"channel", channel, "kind", ev.Kind, "error", err)
			h.drop(channel, s)
			observability.FanoutDropped.Inc()
			continue
		}
		observability.FanoutEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
}

func (h *Hub) drop(channel string, s *session) {
	h.mu.Lock()
	if subs, ok := h.channels[channel]; ok {
		if _, present := subs[s]; present {
			delete(subs, s)
			observability.FanoutSubscribers.Dec()
		}
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
	_ = s.conn.Close()
}
