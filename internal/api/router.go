package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/membership"
	"github.com/careport/chamber-booking/internal/referral"
)

type RouterConfig struct {
	Bookings    *booking.Service
	Memberships *membership.Service
	Referrals   *referral.Service
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints stay outside the identity requirement.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Post("/chambers", createChamberHandler(cfg.Bookings))
		r.Delete("/chambers/{id}", deactivateChamberHandler(cfg.Bookings))
		r.Get("/chambers/{id}/availability", availabilityHandler(cfg.Bookings))
		r.Get("/chambers/{id}/next-date", nextVisitDateHandler(cfg.Bookings))

		r.Post("/appointments", bookAppointmentHandler(cfg.Bookings))
		r.Get("/appointments", listAppointmentsHandler(cfg.Bookings))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Bookings))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Bookings))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Bookings))

		r.Post("/memberships", purchaseMembershipHandler(cfg.Memberships))
		r.Get("/memberships/me", getMembershipHandler(cfg.Memberships))
		r.Post("/memberships/renew", renewMembershipHandler(cfg.Memberships))
		r.Post("/memberships/cancel", cancelMembershipHandler(cfg.Memberships))

		r.Get("/referrals/my-code", myReferralCodeHandler(cfg.Referrals))
		r.Post("/referrals/apply", applyReferralHandler(cfg.Referrals))
		r.Get("/referrals/stats", referralStatsHandler(cfg.Referrals))
		r.Post("/referrals/settle/{appointmentID}", settleReferralHandler(cfg.Referrals))
	})

	return r
}
