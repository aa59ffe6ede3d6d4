package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doorlist.app/internal/auth"
	"doorlist.app/internal/config"
	"doorlist.app/internal/coupon"
	"doorlist.app/internal/httpapi"
	"doorlist.app/internal/invite"
	"doorlist.app/internal/ledger"
	"doorlist.app/internal/obs"
	"doorlist.app/internal/payment"
	"doorlist.app/internal/store/pg"
	"doorlist.app/internal/stream"
	"doorlist.app/internal/support"
	"doorlist.app/internal/ticket"
)

var version = "1.0.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		ready      httpapi.ReadyProbe
		authStore  auth.Store
		invites    invite.Store
		coupons    coupon.Store
		tickets    ticket.Store
		orders     payment.Store
		led        ledger.Service
		closeStore func() error
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		ready = httpapi.ReadyProbe{DB: pgStore.DB()}
		authStore = pgStore.Auth()
		invites = pgStore.Invites()
		coupons = pgStore.Coupons()
		tickets = pgStore.Tickets()
		orders = pgStore.Orders()
		led = pgStore.Ledger()
		closeStore = pgStore.Close
	} else {
		log.Println("DOORLIST_PG_DSN not set, using in-memory stores")
		memInvites := invite.NewMemory()
		memLedger := ledger.NewInMemory()
		authStore = auth.NewMemory(memInvites)
		invites = memInvites
		coupons = coupon.NewMemory()
		tickets = ticket.NewMemory()
		orders = payment.NewMemory(memLedger)
		led = memLedger
		closeStore = func() error { return nil }
	}

	authSvc, err := auth.NewService(authStore, invites, []byte(cfg.SessionSecret),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithTOTPIssuer(cfg.TOTPIssuer),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	events := stream.New()
	checkout := payment.NewCheckout(orders, tickets, coupons)
	processor := payment.NewProcessor(orders, payment.WithEventStream(events))
	reconciler := payment.NewReconciler(orders, tickets, cfg.OrderTimeout,
		payment.WithReconcilerStream(events))

	api := httpapi.New(httpapi.Deps{
		Ready:            ready,
		Version:          version,
		Auth:             authSvc,
		Checkout:         checkout,
		Processor:        processor,
		Reconciler:       reconciler,
		Orders:           orders,
		Tickets:          tickets,
		Coupons:          coupons,
		Invites:          invites,
		Ledger:           led,
		Events:           events,
		Support:          support.NewService(cfg.SupportNumber),
		WebhookSecret:    cfg.WebhookSecret,
		WebhookTolerance: cfg.WebhookTolerance,
		RateBurst:        cfg.RateBurst,
		RatePerSec:       cfg.RatePerSec,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background sweep alongside the /v1/jobs/reconcile endpoint, so stuck
	// orders are cleared even without an external cron.
	jobCtx, jobCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.OrderTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				report, err := reconciler.Run(jobCtx)
				if err != nil {
					log.Printf("reconcile: %v", err)
					continue
				}
				if report.CancelledOrders > 0 || report.ReconciledPayments > 0 {
					log.Printf("reconcile: cancelled=%d reconciled=%d",
						report.CancelledOrders, report.ReconciledPayments)
				}
			}
		}
	}()

	log.Printf("Starting doorlist-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	jobCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = closeStore()
	log.Println("Stopped")
}
