package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/careport/chamber-booking/internal/api"
	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/config"
	"github.com/careport/chamber-booking/internal/db"
	"github.com/careport/chamber-booking/internal/membership"
	"github.com/careport/chamber-booking/internal/notify"
	"github.com/careport/chamber-booking/internal/redlock"
	"github.com/careport/chamber-booking/internal/referral"
)

const version = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

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

	// Connect Redis
	rdb, err := redlock.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	dispatcher := notify.LogDispatcher{}

	membershipRepo := membership.NewPgRepository(pgPool)
	membershipSvc := membership.NewService(membershipRepo, membership.DefaultPlanTerms(), dispatcher)
	pricing := membership.NewPricing(membershipSvc, cfg.PremiumDiscountPercent)

	referralRepo := referral.NewPgRepository(pgPool)
	referralSvc := referral.NewService(referralRepo, referral.RewardTable{
		PatientToPatient: cfg.RewardPatientToPatient,
		DoctorToPatient:  cfg.RewardDoctorToPatient,
		PharmacyToDoctor: cfg.RewardPharmacyToDoctor,
		BonusMultiplier:  cfg.RewardBonusMultiplier,
		BonusBelow:       int(cfg.RewardBonusBelow),
	}, dispatcher)

	bookingRepo := booking.NewPgRepository(pgPool)
	locker := redlock.NewRedisBookingLocker(rdb, cfg.LockTTL)
	bookingSvc := booking.NewService(bookingRepo, locker, pricing, referralSvc, dispatcher)

	router := api.NewRouter(api.RouterConfig{
		Bookings:    bookingSvc,
		Memberships: membershipSvc,
		Referrals:   referralSvc,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
