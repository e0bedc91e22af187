// The feedindexer consumes the ride event stream from kafka and maintains
// the open-ride feed index in redis: fixed-mode rides appear when announced
// and disappear the moment they are assigned. Driver apps read the index to
// bootstrap their feed before live events take over.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-bidding/internal/config"
	"github.com/example/ride-bidding/internal/logging"
	"github.com/example/ride-bidding/internal/models"
)

const openRidesKey = "rides:open"

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedindexer_messages_consumed_total",
		Help: "Total ride events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedindexer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	feedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedindexer_feed_updates_total",
		Help: "Total successful feed index updates",
	})
	feedErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedindexer_feed_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, feedUpdates, feedErrors)
}

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	logger := logging.NewLogger(logLevel)
	cfg, err := config.LoadIndexerConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	feed := &redisFeed{c: rc}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("feedindexer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down feedindexer")
				return
			}
			logger.Warn("kafka read error, backing off", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err)
			continue
		}

		if err := updateFeedWithRetry(ctx, feed, ev, 3, 200*time.Millisecond); err != nil {
			feedErrors.Inc()
			logger.Warn("feed update failed", "ride_id", ev.RideID, "kind", ev.Kind, "error", err)
			continue
		}
		feedUpdates.Inc()
	}
}

// FeedUpdater defines the small subset of redis operations we need for
// tests and production.
type FeedUpdater interface {
	AddOpenRide(ctx context.Context, r *models.Ride) error
	RemoveOpenRide(ctx context.Context, rideID string) error
}

type redisFeed struct{ c *redis.Client }

func (f *redisFeed) AddOpenRide(ctx context.Context, r *models.Ride) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return f.c.HSet(ctx, openRidesKey, r.ID, b).Err()
}

func (f *redisFeed) RemoveOpenRide(ctx context.Context, rideID string) error {
	return f.c.HDel(ctx, openRidesKey, rideID).Err()
}

// updateFeedWithRetry applies one event to the feed index with
// retry/backoff. Events that do not touch the feed are dropped here.
func updateFeedWithRetry(ctx context.Context, feed FeedUpdater, ev models.Event, attempts int, delay time.Duration) error {
	apply := func(ctx context.Context) error {
		switch ev.Kind {
		case models.EventRideAvailable:
			if ev.Ride == nil {
				return nil
			}
			return feed.AddOpenRide(ctx, ev.Ride)
		case models.EventRideAccepted, models.EventRideStatusChanged:
			// any assignment or progression closes the ride for the feed
			return feed.RemoveOpenRide(ctx, ev.RideID)
		default:
			return nil
		}
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = apply(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
