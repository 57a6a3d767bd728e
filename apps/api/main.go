// Command api serves the support channel REST API. With the local bus it
// also hosts the websocket gateway at /ws.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/dupahar-support/pkg/auth"
	"github.com/mahaj/dupahar-support/pkg/bus"
	"github.com/mahaj/dupahar-support/pkg/config"
	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/presence"
	"github.com/mahaj/dupahar-support/pkg/queue"
	"github.com/mahaj/dupahar-support/pkg/realtime"
	"github.com/mahaj/dupahar-support/pkg/snowflake"
	"github.com/mahaj/dupahar-support/pkg/store"
	"github.com/mahaj/dupahar-support/pkg/support"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	addr := pflag.String("addr", cfg.APIAddr, "listen address")
	migrate := pflag.Bool("migrate", false, "create the store schema before serving")
	pflag.Parse()

	logger, logCloser, err := cfg.Logger("api")
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrate {
		if err := store.Migrate(ctx, cfg.Store, logger); err != nil {
			return err
		}
	}
	st, storeCloser, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	events, err := bus.Open(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	opts := []support.Option{
		support.WithPublisher(events.Publisher),
		support.WithIDGenerator(node),
		support.WithLogger(logger),
	}
	srv := &server{tokens: tokens, logger: logger, devLogin: cfg.DevLogin}

	var online realtime.Presence
	rdb, err := presence.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable; presence and platform queue disabled", "addr", cfg.RedisAddr, "error", err)
	} else {
		defer rdb.Close()
		o := presence.NewOnline(rdb)
		online, srv.online = o, o
		platform := presence.NewPlatformQueue(rdb)
		srv.queue = platform

		if cfg.Store.Shared() {
			tasks := queue.NewClient(cfg.RedisAddr)
			defer tasks.Close()
			opts = append(opts, support.WithPlatformQueue(tasks))
		} else {
			// No worker can read this store; reconcile on the request path.
			opts = append(opts, support.WithPlatformQueue(queue.NewReconcileHandler(st, platform, logger)))
		}
	}
	srv.svc = support.NewService(st, opts...)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Bus.Backend == bus.BackendLocal {
		hub := realtime.NewHub(online, logger)
		srv.ws = realtime.NewGateway(hub, srv.svc, tokens, logger)
		g.Go(func() error { hub.Run(ctx); return nil })
		g.Go(func() error {
			return events.Subscriber.Run(ctx, func(ctx context.Context, ev model.Event) {
				hub.Publish(ctx, ev.ChannelID, ev)
			})
		})
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("api listening", "addr", *addr, "store", cfg.Store.Backend, "bus", cfg.Bus.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("api stopped", "error", err)
	return err
}

