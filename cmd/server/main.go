package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-bidding/internal/auth"
	"github.com/example/ride-bidding/internal/config"
	"github.com/example/ride-bidding/internal/engine"
	"github.com/example/ride-bidding/internal/events"
	httpapi "github.com/example/ride-bidding/internal/http"
	"github.com/example/ride-bidding/internal/logging"
	"github.com/example/ride-bidding/internal/payments"
	"github.com/example/ride-bidding/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.RideStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer func() { _ = ps.Close() }()
		store = ps
		logger.Info("using postgres ride store")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory ride store")
	}

	hub := events.NewHub(logging.NewComponentLogger(logger, "hub"))
	publishers := events.Multi{hub}

	if cfg.RedisAddr != "" {
		bridge := events.NewRedisBridge(cfg.RedisAddr, cfg.RedisPassword, logging.NewComponentLogger(logger, "redis_bridge"))
		defer func() { _ = bridge.Close() }()
		publishers = append(publishers, bridge)
		go bridge.Relay(ctx, hub)
		logger.Info("redis event bridge enabled", "addr", cfg.RedisAddr)
	}
	if len(cfg.KafkaBrokers) > 0 {
		stream := events.NewStreamProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logging.NewComponentLogger(logger, "stream"))
		defer func() { _ = stream.Close() }()
		publishers = append(publishers, stream)
		logger.Info("kafka event stream enabled", "topic", cfg.KafkaTopic)
	}
	if cfg.RedisAddr == "" && len(cfg.KafkaBrokers) == 0 {
		// local runs without external sinks still get an event trail
		publishers = append(publishers, &events.LogPublisher{Logger: logging.NewComponentLogger(logger, "events")})
	}

	eng := &engine.Service{
		Store:    store,
		Events:   publishers,
		Currency: cfg.Currency,
		Logger:   logging.NewComponentLogger(logger, "engine"),
	}
	if cfg.StripeAPIKey != "" {
		eng.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
		logger.Info("stripe payments enabled")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(eng, hub, auth.NewVerifier(cfg.JWTSecret), logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-bidding listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
