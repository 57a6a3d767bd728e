package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/mahaj/dupahar-support/pkg/config"
	"github.com/mahaj/dupahar-support/pkg/store/storetest"
)

func TestOpenSQLiteAfterMigrate(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Store{Backend: "sqlite", DSN: filepath.Join(t.TempDir(), "support.db")}

	if err := Migrate(ctx, cfg, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	s, closer, err := Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.CreateChannel(ctx, storetest.Channel("c1", "u1")); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	closer.Close()

	if err := Drop(ctx, cfg, logger); err != nil {
		t.Fatalf("Drop: %v", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, _, err := Open(context.Background(), config.Store{Backend: "cassette"}, logger); err == nil {
		t.Fatal("unknown backend accepted")
	}
}
