package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/careport/chamber-booking/internal/config"
	"github.com/careport/chamber-booking/internal/db"
	"github.com/careport/chamber-booking/internal/membership"
	"github.com/careport/chamber-booking/internal/notify"
)

// The worker sweeps active premium memberships whose end date has passed
// and marks them expired. Pricing never trusts the stored status alone, so
// the sweep is bookkeeping, not a correctness requirement.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	repo := membership.NewPgRepository(pgPool)
	svc := membership.NewService(repo, membership.DefaultPlanTerms(), notify.LogDispatcher{})

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *membership.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpireDue(runCtx)
	if err != nil {
		log.Printf("expiry run error: %v", err)
		return
	}
	log.Printf("expiry run complete expired=%d in %s", n, time.Since(start))
}
