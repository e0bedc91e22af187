package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-bidding/internal/models"
)

const bridgePattern = "ride-events:*"

// bridgeEnvelope tags each relayed event with the publishing process so a
// relay never re-delivers its own publishes locally.
type bridgeEnvelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

// RedisBridge mirrors every local publish onto redis pub/sub so hubs in
// other processes can relay it to their own subscribers.
type RedisBridge struct {
	client *redis.Client
	origin string
	logger *slog.Logger
}

func NewRedisBridge(addr, password string, logger *slog.Logger) *RedisBridge {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return &RedisBridge{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		origin: hex.EncodeToString(b),
		logger: logger,
	}
}

func (r *RedisBridge) Publish(ev models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := json.Marshal(bridgeEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		r.logger.Error("bridge marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, "ride-events:"+ev.RideID, payload).Err(); err != nil {
		r.logger.Warn("bridge publish failed", "ride_id", ev.RideID, "error", err)
	}
}

// Relay subscribes to the bridge channels and feeds foreign events into the
// local hub until ctx is cancelled.
func (r *RedisBridge) Relay(ctx context.Context, hub *Hub) {
	sub := r.client.PSubscribe(ctx, bridgePattern)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("bridge relay decode failed", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			hub.Publish(env.Event)
		}
	}
}

func (r *RedisBridge) Close() error { return r.client.Close() }
