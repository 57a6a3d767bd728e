// Command migrate creates (or with --drop, removes) the schema of the
// store selected by STORE_BACKEND.
package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/pflag"

	"github.com/mahaj/dupahar-support/pkg/config"
	"github.com/mahaj/dupahar-support/pkg/store"
)

func main() {
	drop := pflag.Bool("drop", false, "drop every table instead of creating them")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, closer, err := cfg.Logger("migrate")
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *drop {
		if err := store.Drop(ctx, cfg.Store, logger); err != nil {
			log.Fatalf("drop: %v", err)
		}
		logger.Info("schema dropped", "store", cfg.Store.Backend)
		return
	}
	if err := store.Migrate(ctx, cfg.Store, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	logger.Info("schema ready", "store", cfg.Store.Backend)
}
