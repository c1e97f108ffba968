package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	appconfig "github.com/zaidy-mughal/telehealth-backend/internal/config"
	"github.com/zaidy-mughal/telehealth-backend/internal/db"
	"github.com/zaidy-mughal/telehealth-backend/internal/payments"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
)

// Seeds refund policies (idempotent) and, with -demo, a set of fake doctors,
// patients, and generated slots for local development.
func main() {
	force := flag.Bool("force", false, "replace existing refund policies")
	demo := flag.Bool("demo", false, "seed demo doctors, patients, and slots")
	doctors := flag.Int("doctors", 3, "number of demo doctors")
	patients := flag.Int("patients", 10, "number of demo patients")
	flag.Parse()

	cfg := appconfig.Load()
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if err := seedPolicies(ctx, payments.NewRepository(pool), *force); err != nil {
		log.Fatalf("seed policies: %v", err)
	}

	if *demo {
		if err := seedDemoData(ctx, pool, *doctors, *patients); err != nil {
			log.Fatalf("seed demo data: %v", err)
		}
	}

	log.Println("seed complete")
}

type policyStore interface {
	ActivePolicies(ctx context.Context) ([]payments.RefundPolicy, error)
	DeletePolicies(ctx context.Context) error
	InsertPolicy(ctx context.Context, p payments.RefundPolicy) (bool, error)
}

var errPoliciesExist = errors.New("refund policies already exist, use -force to recreate them")

func seedPolicies(ctx context.Context, store policyStore, force bool) error {
	existing, err := store.ActivePolicies(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if !force {
			return errPoliciesExist
		}
		if err := store.DeletePolicies(ctx); err != nil {
			return err
		}
	}

	for _, p := range payments.DefaultPolicies() {
		created, err := store.InsertPolicy(ctx, p)
		if err != nil {
			return err
		}
		if created {
			log.Printf("policy: >=%dh lead time refunds %d%%", p.HoursBeforeMin, p.Percent)
		}
	}
	return nil
}

func seedDemoData(ctx context.Context, pool *pgxpool.Pool, doctorCount, patientCount int) error {
	faker := gofakeit.New(0)

	for i := 0; i < patientCount; i++ {
		_, err := pool.Exec(ctx,
			`INSERT INTO patients (id, full_name, email) VALUES ($1, $2, $3)
			 ON CONFLICT (email) DO NOTHING`,
			uuid.New(), faker.Name(), faker.Email())
		if err != nil {
			return err
		}
	}

	slotRepo := scheduling.NewRepository(pool)
	now := time.Now().UTC()
	firstMonth := now.AddDate(0, 1, 0)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < doctorCount; i++ {
		// The faker is not goroutine safe, so draw values up front.
		name := "Dr. " + faker.Name()
		email := faker.Email()
		g.Go(func() error {
			doctorID := uuid.New()
			_, err := pool.Exec(gctx,
				`INSERT INTO doctors (id, full_name, email) VALUES ($1, $2, $3)
				 ON CONFLICT (email) DO NOTHING`,
				doctorID, name, email)
			if err != nil {
				return err
			}

			lunch := scheduling.Window{
				Start: scheduling.TimeOfDay{Hour: 12},
				End:   scheduling.TimeOfDay{Hour: 13},
			}
			slots, err := scheduling.Generate(scheduling.GenerateParams{
				DoctorID:   doctorID,
				StartMonth: firstMonth,
				EndMonth:   firstMonth.AddDate(0, 1, 0),
				Weekdays:   []time.Weekday{time.Monday, time.Wednesday, time.Friday},
				Working: scheduling.Window{
					Start: scheduling.TimeOfDay{Hour: 9},
					End:   scheduling.TimeOfDay{Hour: 17},
				},
				Break: &lunch,
				Now:   now,
			})
			if err != nil {
				return err
			}

			created, err := slotRepo.BulkInsert(gctx, slots)
			if err != nil {
				return err
			}
			log.Printf("doctor %s: %d slots", doctorID, created)
			return nil
		})
	}
	return g.Wait()
}
