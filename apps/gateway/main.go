// Command gateway holds client websocket connections and forwards bus
// events to the participants of each channel.
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
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	addr := pflag.String("addr", cfg.GatewayAddr, "listen address")
	pflag.Parse()

	logger, logCloser, err := cfg.Logger("gateway")
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if cfg.Bus.Backend == bus.BackendLocal {
		// Nothing would reach this process; the api serves /ws itself.
		return errors.New("the local bus only works with the gateway inside the api; set BUS_BACKEND to kafka or mqtt")
	}
	if !cfg.Store.Shared() {
		return fmt.Errorf("store backend %q is private to one process; the gateway needs sqlite, postgres or scylla", cfg.Store.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return err
	}

	rdb, err := presence.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()
	tasks := queue.NewClient(cfg.RedisAddr)
	defer tasks.Close()

	// Frames from clients go through the same service as the REST API and
	// reach other gateways over the bus.
	svc := support.NewService(st,
		support.WithPublisher(events.Publisher),
		support.WithPlatformQueue(tasks),
		support.WithIDGenerator(node),
		support.WithLogger(logger),
	)
	hub := realtime.NewHub(presence.NewOnline(rdb), logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", realtime.NewGateway(hub, svc, tokens, logger))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { hub.Run(ctx); return nil })
	g.Go(func() error {
		return events.Subscriber.Run(ctx, func(ctx context.Context, ev model.Event) {
			if err := hub.Publish(ctx, ev.ChannelID, ev); err != nil {
				logger.Debug("event not delivered", "channel_id", ev.ChannelID, "error", err)
			}
		})
	})
	g.Go(func() error {
		logger.Info("gateway listening", "addr", *addr, "bus", cfg.Bus.Backend)
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
	logger.Info("gateway stopped", "error", err)
	return err
}
