package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/db"
	"github.com/careport/chamber-booking/internal/membership"
	"github.com/careport/chamber-booking/internal/notify"
	"github.com/careport/chamber-booking/internal/referral"
	"github.com/careport/chamber-booking/internal/schedule"
)

// Seeds a development database with verified chambers, referral codes and
// memberships. User identities are owned by the external session provider,
// so the ids here are free-standing UUIDs.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedChambers(context.Background(), pool, 50); err != nil {
		log.Fatalf("seed chambers: %v", err)
	}
	if err := seedReferralsAndMemberships(context.Background(), pool, 200); err != nil {
		log.Fatalf("seed referrals and memberships: %v", err)
	}

	log.Println("seed complete")
}

func seedChambers(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d chambers", count)

	repo := booking.NewPgRepository(pool)

	weeks := []schedule.WeekOfMonth{
		schedule.WeekFirst,
		schedule.WeekSecond,
		schedule.WeekThird,
		schedule.WeekFourth,
		schedule.WeekLast,
	}

	for i := 0; i < count; i++ {
		startHour := gofakeit.Number(8, 18)

		c := &booking.Chamber{
			ID:         uuid.New(),
			PharmacyID: uuid.New(),
			DoctorID:   uuid.New(),
			Rule: schedule.Rule{
				Week:    weeks[gofakeit.Number(0, len(weeks)-1)],
				Weekday: time.Weekday(gofakeit.Number(0, 6)),
			},
			StartClock:  schedule.ClockTime(startHour * 60),
			EndClock:    schedule.ClockTime((startHour + 3) * 60),
			Fee:         int64(gofakeit.Number(200, 1000)),
			SlotMinutes: 15,
			MaxSlots:    gofakeit.Number(5, 20),
			Active:      true,
			Verified:    true,
		}
		if err := repo.CreateChamber(ctx, c); err != nil {
			return err
		}
	}

	return nil
}

func seedReferralsAndMemberships(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d users with codes and memberships", count)

	dispatcher := notify.LogDispatcher{}
	refSvc := referral.NewService(referral.NewPgRepository(pool), referral.DefaultRewardTable(), dispatcher)
	memSvc := membership.NewService(membership.NewPgRepository(pool), membership.DefaultPlanTerms(), dispatcher)

	roles := []booking.Role{booking.RolePatient, booking.RoleDoctor, booking.RolePharmacy}
	plans := []membership.Plan{
		membership.PlanMonthly,
		membership.PlanQuarterly,
		membership.PlanYearly,
		membership.PlanLifetime,
	}

	for i := 0; i < count; i++ {
		userID := uuid.New()
		role := roles[gofakeit.Number(0, len(roles)-1)]

		if _, err := refSvc.MyCode(ctx, userID, role); err != nil {
			return err
		}

		// Roughly a third of seeded patients hold a membership.
		if role == booking.RolePatient && gofakeit.Number(0, 2) == 0 {
			plan := plans[gofakeit.Number(0, len(plans)-1)]
			if _, err := memSvc.Purchase(ctx, userID, plan, booking.PayCash); err != nil {
				return err
			}
		}
	}

	return nil
}
