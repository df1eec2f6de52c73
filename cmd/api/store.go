package main

import (
	"context"
	"fmt"

	"campaign/internal/adapter/repo"
	"campaign/internal/domain"
	"campaign/internal/infra"
)

// jobStore is the job repository picked from configuration plus its lifecycle.
type jobStore struct {
	Repo  domain.JobRepository
	Ping  func(ctx context.Context) error
	Close func()
}

// openStore prefers Postgres when DATABASE_URL is set and falls back to SQLite.
func openStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*jobStore, error) {
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		r := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
		if err := r.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		logger.Info().Msg("api: using postgres job store")
		return &jobStore{Repo: r, Ping: pool.Ping, Close: pool.Close}, nil
	}

	db, err := infra.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	r := repo.NewJobRepositorySQLite(db, logger)
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("api: using sqlite job store")
	return &jobStore{Repo: r, Ping: db.PingContext, Close: func() { _ = db.Close() }}, nil
}
