// Command messaging runs the platform-queue worker: it consumes reconcile
// tasks and keeps the Redis queue in step with channel state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/dupahar-support/pkg/config"
	"github.com/mahaj/dupahar-support/pkg/presence"
	"github.com/mahaj/dupahar-support/pkg/queue"
	"github.com/mahaj/dupahar-support/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "messaging:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	concurrency := pflag.Int("concurrency", cfg.WorkerConcurrency, "tasks processed in parallel")
	pflag.Parse()

	if !cfg.Store.Shared() {
		// The api reconciles in-process on this backend.
		return fmt.Errorf("store backend %q is private to one process; the worker needs sqlite, postgres or scylla", cfg.Store.Backend)
	}

	logger, logCloser, err := cfg.Logger("messaging")
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, storeCloser, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	rdb, err := presence.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	handler := queue.NewReconcileHandler(st, presence.NewPlatformQueue(rdb), logger)
	worker := queue.NewServer(cfg.RedisAddr, *concurrency, handler, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("platform queue worker starting", "concurrency", *concurrency, "store", cfg.Store.Backend)
		return worker.Run(ctx)
	})
	err = g.Wait()
	logger.Info("worker stopped", "error", err)
	return err
}
