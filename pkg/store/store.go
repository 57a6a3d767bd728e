// Package store opens the support.Store backend selected in configuration.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gocql/gocql"

	"github.com/mahaj/dupahar-support/pkg/config"
	"github.com/mahaj/dupahar-support/pkg/store/memory"
	"github.com/mahaj/dupahar-support/pkg/store/scylla"
	"github.com/mahaj/dupahar-support/pkg/store/sqlstore"
	"github.com/mahaj/dupahar-support/pkg/support"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open connects the configured backend. The closer releases its
// connections.
func Open(ctx context.Context, cfg config.Store, logger *slog.Logger) (support.Store, io.Closer, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), io.NopCloser(nil), nil

	case "sqlite", "postgres":
		s, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Backend), cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case "scylla":
		session, err := scylla.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, logger)
		if err != nil {
			return nil, nil, err
		}
		return scylla.New(session), closerFunc(func() error { session.Close(); return nil }), nil
	}
	return nil, nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
}

// Migrate creates the schema of the configured backend.
func Migrate(ctx context.Context, cfg config.Store, logger *slog.Logger) error {
	switch cfg.Backend {
	case "memory":
		return nil
	case "sqlite", "postgres":
		s, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Backend), cfg.DSN, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Migrate(ctx)
	case "scylla":
		if err := scylla.EnsureKeyspace(ctx, cfg.ScyllaHosts, cfg.ScyllaKeyspace, cfg.ScyllaReplication); err != nil {
			return err
		}
		return withSession(cfg, logger, func(s *gocql.Session) error { return scylla.Migrate(ctx, s) })
	}
	return fmt.Errorf("store: unknown backend %q", cfg.Backend)
}

// Drop removes every table of the configured backend.
func Drop(ctx context.Context, cfg config.Store, logger *slog.Logger) error {
	switch cfg.Backend {
	case "memory":
		return nil
	case "sqlite", "postgres":
		s, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Backend), cfg.DSN, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Drop(ctx)
	case "scylla":
		return withSession(cfg, logger, func(s *gocql.Session) error { return scylla.Drop(ctx, s) })
	}
	return fmt.Errorf("store: unknown backend %q", cfg.Backend)
}

func withSession(cfg config.Store, logger *slog.Logger, fn func(*gocql.Session) error) error {
	session, err := scylla.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace, logger)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}
