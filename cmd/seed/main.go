package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/auth"
	"github.com/hackgods/practicum-scheduling/internal/authz"
	"github.com/hackgods/practicum-scheduling/internal/config"
	"github.com/hackgods/practicum-scheduling/internal/db"
	"github.com/hackgods/practicum-scheduling/internal/directory"
	"github.com/hackgods/practicum-scheduling/internal/logging"
)

type staff struct {
	id   uuid.UUID
	role directory.Role
}

func main() {
	psychologists := flag.Int("psychologists", 10, "number of supervising psychologists")
	interns := flag.Int("interns", 40, "number of interns")
	patients := flag.Int("patients", 2000, "number of patients")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.Must(cfg.Log.Level, cfg.Log.Format).Named("seed")
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(*seed)

	// Coordinators only exist as token holders.
	coordinator := staff{id: uuid.New(), role: directory.RoleCoordinator}

	supervisors, err := seedClinicians(ctx, pool, faker, directory.RolePsychologist, *psychologists)
	if err != nil {
		log.Fatal("seed psychologists", zap.Error(err))
	}
	trainees, err := seedClinicians(ctx, pool, faker, directory.RoleIntern, *interns)
	if err != nil {
		log.Fatal("seed interns", zap.Error(err))
	}
	log.Info("clinicians seeded",
		zap.Int("psychologists", len(supervisors)),
		zap.Int("interns", len(trainees)),
	)

	if err := seedPatients(ctx, pool, faker, *patients, supervisors, trainees, log); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	holders := []staff{coordinator, supervisors[0]}
	if len(trainees) > 0 {
		holders = append(holders, trainees[0])
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	for _, who := range holders {
		token, err := tokens.Issue(authz.Actor{ID: who.id, Role: who.role}, 24*time.Hour)
		if err != nil {
			log.Fatal("issue token", zap.Error(err))
		}
		fmt.Printf("%-13s %s\n%s\n\n", who.role, who.id, token)
	}

	log.Info("seed complete")
}

func seedClinicians(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role directory.Role, count int) ([]staff, error) {
	out := make([]staff, 0, count)

	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			s := staff{id: uuid.New(), role: role}
			_, err := tx.Exec(ctx, `
				INSERT INTO clinicians (id, name, email, phone, role, active)
				VALUES ($1, $2, $3, $4, $5, TRUE)
			`, s.id, faker.Name(), faker.Email(), faker.Phone(), string(role))
			if err != nil {
				return fmt.Errorf("insert %s: %w", role, err)
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// seedPatients gives each patient one active assignment: mostly to an
// intern supervised by a psychologist, sometimes to a psychologist directly.
func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, supervisors, trainees []staff, log *zap.Logger) error {
	if len(supervisors) == 0 {
		return fmt.Errorf("at least one psychologist is required")
	}

	supervisorOf := make(map[uuid.UUID]uuid.UUID, len(trainees))
	for i, t := range trainees {
		supervisorOf[t.id] = supervisors[i%len(supervisors)].id
	}

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				patientID := uuid.New()
				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, name, email, phone, active)
					VALUES ($1, $2, $3, $4, $5)
				`, patientID, faker.Name(), faker.Email(), faker.Phone(), faker.Number(1, 20) > 1)
				if err != nil {
					return fmt.Errorf("insert patient: %w", err)
				}

				var clinicianID uuid.UUID
				var supervisorID *uuid.UUID
				if len(trainees) > 0 && faker.Number(1, 4) > 1 {
					t := trainees[faker.Number(0, len(trainees)-1)]
					sup := supervisorOf[t.id]
					clinicianID, supervisorID = t.id, &sup
				} else {
					clinicianID = supervisors[faker.Number(0, len(supervisors)-1)].id
				}

				_, err = tx.Exec(ctx, `
					INSERT INTO assignments (id, patient_id, clinician_id, supervisor_id, active)
					VALUES ($1, $2, $3, $4, TRUE)
				`, uuid.New(), patientID, clinicianID, supervisorID)
				if err != nil {
					return fmt.Errorf("insert assignment: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}
