package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
)

const visitColumns = `
	id, token_id, doctor_id, patient_id, symptoms, diagnosis, vitals,
	prescriptions, follow_up_date::text AS follow_up_date, created_at
`

func (r *visitRepository) Create(ctx context.Context, visit *model.Visit) error {
	return r.create(ctx, r.db, visit)
}

func (r *visitRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, visit *model.Visit) error {
	return r.create(ctx, tx, visit)
}

func (r *visitRepository) create(ctx context.Context, e sqlx.ExtContext, visit *model.Visit) error {
	query := `
		INSERT INTO visits (
			id, token_id, doctor_id, patient_id, symptoms, diagnosis,
			vitals, prescriptions, follow_up_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10)
	`
	visit.ID = uuid.New()
	visit.CreatedAt = time.Now()

	_, err := e.ExecContext(ctx, query,
		visit.ID,
		visit.TokenID,
		visit.DoctorID,
		visit.PatientID,
		visit.Symptoms,
		visit.Diagnosis,
		visit.Vitals,
		visit.Prescriptions,
		visit.FollowUpDate,
		visit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

func (r *visitRepository) Get(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	query := fmt.Sprintf(`SELECT %s FROM visits WHERE id = $1`, visitColumns)

	var visit model.Visit
	if err := r.db.GetContext(ctx, &visit, query, id); err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return &visit, nil
}

func (r *visitRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Visit, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM visits WHERE patient_id = $1 ORDER BY created_at DESC
	`, visitColumns)

	var visits []*model.Visit
	if err := r.db.SelectContext(ctx, &visits, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list patient visits: %w", err)
	}
	return visits, nil
}

func (r *visitRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Visit, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM visits WHERE doctor_id = $1 ORDER BY created_at DESC
	`, visitColumns)

	var visits []*model.Visit
	if err := r.db.SelectContext(ctx, &visits, query, doctorID); err != nil {
		return nil, fmt.Errorf("failed to list doctor visits: %w", err)
	}
	return visits, nil
}
