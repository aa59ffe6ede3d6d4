// Command reconcile runs one pending-order sweep and exits. Suitable for
// cron when the API's background job is disabled.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"doorlist.app/internal/config"
	"doorlist.app/internal/obs"
	"doorlist.app/internal/payment"
	"doorlist.app/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("DOORLIST_PG_DSN is required")
	}

	pgStore, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer pgStore.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reconciler := payment.NewReconciler(pgStore.Orders(), pgStore.Tickets(), cfg.OrderTimeout)
	report, err := reconciler.Run(ctx)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatalf("encode report: %v", err)
	}
}
