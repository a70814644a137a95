package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servigo/booking-engine/internal/db"
	"github.com/servigo/booking-engine/internal/schedule"
)

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

	professionals, err := seedProfessionals(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	if err := seedClients(context.Background(), pool, 4000); err != nil {
		log.Fatalf("seed clients: %v", err)
	}
	if err := seedRulesAndSlots(context.Background(), pool, professionals); err != nil {
		log.Fatalf("seed rules and slots: %v", err)
	}

	log.Println("seed complete")
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	specialties := []string{
		"Hair & Styling",
		"Massage Therapy",
		"Personal Training",
		"Photography",
		"Tutoring",
		"Legal Consulting",
		"Tax Advisory",
		"Nutrition Coaching",
		"Language Lessons",
		"Home Repair",
	}
	timezones := []string{
		"America/New_York",
		"America/Chicago",
		"America/Los_Angeles",
		"Europe/London",
		"Europe/Berlin",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		tz := timezones[gofakeit.Number(0, len(timezones)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO professionals (id, name, specialty, timezone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, tz)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("professionals seeded")
	return ids, nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d clients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO clients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("clients seeded: %d/%d", end, count)
	}

	log.Println("clients seeded")
	return nil
}

// seedRulesAndSlots gives every professional one weekday rule and expands it
// over the next 30 days with the real expander, so seeded slots match what
// production generation would produce.
func seedRulesAndSlots(ctx context.Context, pool *pgxpool.Pool, professionals []uuid.UUID) error {
	log.Printf("seeding rules and slots for %d professionals", len(professionals))

	repo := schedule.NewPgRepository(pool)
	expander := schedule.NewExpander(90)

	now := time.Now()
	windowEnd := now.AddDate(0, 0, 30)

	for i, profID := range professionals {
		prof, err := repo.GetProfessionalByID(ctx, profID)
		if err != nil {
			return err
		}

		startHour := gofakeit.Number(8, 10)
		endHour := gofakeit.Number(16, 19)
		duration := []int{30, 45, 60}[gofakeit.Number(0, 2)]

		rule := &schedule.AvailabilityRule{
			ID:             uuid.New(),
			ProfessionalID: profID,
			Start:          schedule.TimeOfDay(startHour * 60),
			End:            schedule.TimeOfDay(endHour * 60),
			SlotDuration:   time.Duration(duration) * time.Minute,
			Buffer:         time.Duration(gofakeit.Number(0, 3)*5) * time.Minute,
			Recurrence:     schedule.RecurrenceWeekly,
			Weekdays: []time.Weekday{
				time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
			},
			ValidFrom: now,
			Timezone:  prof.Timezone,
			DSTPolicy: schedule.PreserveLocalTime,
			Active:    true,
		}

		if err := repo.CreateRule(ctx, rule); err != nil {
			return err
		}

		seq, err := expander.Expand(*rule, now, windowEnd)
		if err != nil {
			return err
		}

		var slots []schedule.Slot
		for cand := range seq {
			slots = append(slots, schedule.Slot{
				ID:             uuid.New(),
				ProfessionalID: cand.ProfessionalID,
				RuleID:         &cand.RuleID,
				StartTime:      cand.StartTime,
				EndTime:        cand.EndTime,
				LocalStart:     cand.LocalStart,
				LocalEnd:       cand.LocalEnd,
				Timezone:       cand.Timezone,
				Status:         schedule.SlotAvailable,
			})
		}

		if err := repo.InsertSlots(ctx, slots); err != nil {
			return err
		}

		log.Printf("professional %d/%d: %d slots", i+1, len(professionals), len(slots))
	}

	log.Println("rules and slots seeded")
	return nil
}
