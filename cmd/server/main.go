package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/geounlock/internal/config"
	"github.com/playperu/geounlock/internal/database"
	"github.com/playperu/geounlock/internal/events"
	"github.com/playperu/geounlock/internal/handler/health"
	"github.com/playperu/geounlock/internal/migrations"
	"github.com/playperu/geounlock/internal/secretquiz"
	"github.com/playperu/geounlock/internal/server"
	"github.com/playperu/geounlock/internal/store/profile"
	"github.com/playperu/geounlock/internal/store/sqlite"
	"github.com/playperu/geounlock/internal/unlock"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	version, err := migrations.Run(ctx, db)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath, "schema_version", version)

	local := sqlite.NewStore(db)
	if cfg.SeedCatalog {
		seeded, err := local.SeedCatalog(ctx, secretquiz.DemoCatalog())
		if err != nil {
			return fmt.Errorf("seeding catalog: %w", err)
		}
		if seeded {
			logger.Info("seeded demo catalog", "quizzes", len(secretquiz.DemoCatalog()))
		}
	}

	// --- Redis ---
	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()
	logger.Info("connected to redis", "prefix", cfg.RedisPrefix)

	remote := profile.NewStore(rdb, cfg.RedisPrefix)

	// --- Events ---
	broker := events.NewBroker(logger)
	sink := events.Fanout{broker}
	checks := map[string]health.Checker{
		"sqlite": local,
		"redis":  remote,
	}

	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return fmt.Errorf("connecting to amqp: %w", err)
		}
		defer publisher.Close()
		sink = append(sink, publisher)
		checks["amqp"] = publisher
		logger.Info("publishing unlock events", "exchange", cfg.AMQPExchange, "routing_key", events.RoutingKeyUnlocked)
	}

	// --- Unlock sessions ---
	sessions := unlock.NewSessions(unlock.Deps{
		Catalog: local,
		Premium: remote,
		State:   unlock.NewStateStore(remote, local, logger),
		Sink:    sink,
		Logger:  logger,
	}, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Sessions: sessions,
		Catalog:  local,
		Unlocks:  local,
		Premium:  remote,
		Broker:   broker,
		Admin: server.AdminCredentials{
			User:         cfg.AdminUser,
			PasswordHash: cfg.AdminPasswordHash,
		},
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		err := srv.Shutdown(context.Background())
		// In-flight passes finish their remote writes before the stores close.
		sessions.Close()
		return err
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
