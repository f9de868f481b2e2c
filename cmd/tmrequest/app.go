package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fernandezvara/dbkit"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fernandezvara/tmrequest"
)

// app holds the connections shared by every subcommand.
type app struct {
	cfg        Config
	logger     *slog.Logger
	db         *dbkit.DBKit
	redis      *redis.Client
	registry   *prometheus.Registry
	store      *tmrequest.BunStore
	reconciler *tmrequest.Reconciler
}

func newApp(cfg Config) (*app, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("TM_DATABASE_URL is not set")
	}
	logger := cfg.logger()

	db, err := dbkit.New(dbkit.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
		store:    tmrequest.NewBunStore(db.Bun()),
	}

	policy, err := cfg.assignPolicy()
	if err != nil {
		a.Close()
		return nil, err
	}

	var settings tmrequest.SettingsProvider = a.store
	switch cfg.SettingsSource {
	case "database":
	case "env":
		settings = tmrequest.EnvSettings{}
	default:
		a.Close()
		return nil, fmt.Errorf("unknown settings source %q", cfg.SettingsSource)
	}

	opts := []tmrequest.Option{
		tmrequest.WithLogger(logger),
		tmrequest.WithAuditLogger(a.store),
		tmrequest.WithAssignPolicy(policy),
		tmrequest.WithRevokeInvalid(cfg.RevokeInvalid),
		tmrequest.WithMetrics(tmrequest.NewMetrics(a.registry)),
	}

	if cfg.SMTP.Host != "" {
		sender, err := tmrequest.NewMailSender(cfg.SMTP)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, tmrequest.WithNotifier(
			tmrequest.NewNotifier(a.store, settings, sender, tmrequest.WithLogger(logger))))
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		opts = append(opts, tmrequest.WithLocker(
			tmrequest.NewRedisLocker(a.redis, cfg.LockTTL, tmrequest.WithLogger(logger))))
	}

	a.reconciler = tmrequest.NewReconciler(a.store, a.store, settings, opts...)
	return a, nil
}

func (a *app) migrate(ctx context.Context) ([]string, error) {
	result, err := a.db.Migrate(ctx, a.store.Migrations())
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	ids := make([]string, 0, len(result.Applied))
	for _, m := range result.Applied {
		ids = append(ids, m.ID)
		a.logger.Info("applied migration", slog.String("id", m.ID))
	}
	return ids, nil
}

// Close releases the database and redis connections.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
