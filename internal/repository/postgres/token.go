package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
)

const tokenColumns = `
	t.id, t.token_number, t.patient_id, t.department_id,
	t.appointment_date::text AS appointment_date, t.priority, t.status,
	t.called_by, t.called_at, t.completed_at, t.created_at, t.updated_at
`

// priorityRank orders EMERGENCY ahead of SENIOR ahead of NORMAL in SQL.
const priorityRank = `
	CASE t.priority
		WHEN 'EMERGENCY' THEN 0
		WHEN 'SENIOR' THEN 1
		ELSE 2
	END
`

func (r *tokenRepository) Create(ctx context.Context, token *model.Token) error {
	token.ID = uuid.New()
	token.Status = model.TokenStatusWaiting
	token.CreatedAt = time.Now()
	token.UpdatedAt = time.Now()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Serialize allocation per (department, date). The advisory lock is
		// transaction-scoped; the UNIQUE constraint on (department_id,
		// appointment_date, token_number) is the structural backstop.
		lock := `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`
		if _, err := tx.ExecContext(ctx, lock, token.DepartmentID.String(), token.AppointmentDate); err != nil {
			return fmt.Errorf("failed to acquire sequence lock: %w", err)
		}

		query := `
			INSERT INTO tokens (
				id, token_number, patient_id, department_id, appointment_date,
				priority, status, created_at, updated_at
			)
			SELECT $1,
				   COALESCE(MAX(token_number), 0) + 1,
				   $2, $3, $4::date, $5, $6, $7, $8
			FROM tokens
			WHERE department_id = $3 AND appointment_date = $4::date
			RETURNING token_number
		`
		err := tx.GetContext(ctx, &token.TokenNumber, query,
			token.ID,
			token.PatientID,
			token.DepartmentID,
			token.AppointmentDate,
			token.Priority,
			token.Status,
			token.CreatedAt,
			token.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create token: %w", err)
		}
		return nil
	})
}

func (r *tokenRepository) NextTokenNumber(ctx context.Context, departmentID uuid.UUID, date string) (int, error) {
	query := `
		SELECT COALESCE(MAX(token_number), 0) + 1
		FROM tokens
		WHERE department_id = $1 AND appointment_date = $2::date
	`
	var next int
	if err := r.db.GetContext(ctx, &next, query, departmentID, date); err != nil {
		return 0, fmt.Errorf("failed to compute next token number: %w", err)
	}
	return next, nil
}

func (r *tokenRepository) Get(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s, a.name AS patient_name, d.name AS department_name
		FROM tokens t
		JOIN accounts a ON a.id = t.patient_id
		JOIN departments d ON d.id = t.department_id
		WHERE t.id = $1
	`, tokenColumns)

	var token model.Token
	if err := r.db.GetContext(ctx, &token, query, id); err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

func (r *tokenRepository) CallNext(ctx context.Context, departmentID uuid.UUID, date string, doctorID uuid.UUID) (*model.Token, error) {
	var called *model.Token

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Lock the front of the queue; SKIP LOCKED keeps two doctors calling
		// next concurrently from receiving the same token.
		selectQuery := fmt.Sprintf(`
			SELECT t.id
			FROM tokens t
			WHERE t.department_id = $1
			  AND t.appointment_date = $2::date
			  AND t.status = 'WAITING'
			ORDER BY %s, t.token_number
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, priorityRank)

		var id uuid.UUID
		err := tx.GetContext(ctx, &id, selectQuery, departmentID, date)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select next token: %w", err)
		}

		updateQuery := `
			UPDATE tokens
			SET status = 'CALLED', called_by = $1, called_at = $2, updated_at = $2
			WHERE id = $3
		`
		now := time.Now()
		if _, err := tx.ExecContext(ctx, updateQuery, doctorID, now, id); err != nil {
			return fmt.Errorf("failed to call token: %w", err)
		}

		fetchQuery := fmt.Sprintf(`
			SELECT %s, a.name AS patient_name, d.name AS department_name
			FROM tokens t
			JOIN accounts a ON a.id = t.patient_id
			JOIN departments d ON d.id = t.department_id
			WHERE t.id = $1
		`, tokenColumns)

		var token model.Token
		if err := tx.GetContext(ctx, &token, fetchQuery, id); err != nil {
			return fmt.Errorf("failed to fetch called token: %w", err)
		}
		called = &token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return called, nil
}

func (r *tokenRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.TokenStatus) (bool, error) {
	return r.transition(ctx, r.db, id, from, to)
}

func (r *tokenRepository) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to model.TokenStatus) (bool, error) {
	return r.transition(ctx, tx, id, from, to)
}

func (r *tokenRepository) transition(ctx context.Context, e sqlx.ExtContext, id uuid.UUID, from, to model.TokenStatus) (bool, error) {
	query := `
		UPDATE tokens
		SET status = $1,
			completed_at = CASE WHEN $1 = 'COMPLETED' THEN $2 ELSE completed_at END,
			updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := e.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *tokenRepository) WaitingAhead(ctx context.Context, token *model.Token) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM tokens t
		WHERE t.department_id = $1
		  AND t.appointment_date = $2::date
		  AND t.status = 'WAITING'
		  AND (%s, t.token_number) < ($3, $4)
	`, priorityRank)

	var count int
	err := r.db.GetContext(ctx, &count, query,
		token.DepartmentID,
		token.AppointmentDate,
		token.Priority.Rank(),
		token.TokenNumber,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting tokens: %w", err)
	}
	return count, nil
}

func (r *tokenRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, upcomingOnly bool) ([]*model.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s, a.name AS patient_name, d.name AS department_name
		FROM tokens t
		JOIN accounts a ON a.id = t.patient_id
		JOIN departments d ON d.id = t.department_id
		WHERE t.patient_id = $1
	`, tokenColumns)

	if upcomingOnly {
		query += ` AND t.appointment_date >= CURRENT_DATE AND t.status IN ('WAITING', 'CALLED')`
	}
	query += ` ORDER BY t.appointment_date DESC, t.token_number`

	var tokens []*model.Token
	if err := r.db.SelectContext(ctx, &tokens, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list patient tokens: %w", err)
	}
	return tokens, nil
}

func (r *tokenRepository) HistoryByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s, a.name AS patient_name, d.name AS department_name
		FROM tokens t
		JOIN accounts a ON a.id = t.patient_id
		JOIN departments d ON d.id = t.department_id
		WHERE t.patient_id = $1
		  AND t.status IN ('COMPLETED', 'SKIPPED', 'NO_SHOW', 'CANCELLED')
		ORDER BY t.appointment_date DESC, t.token_number DESC
	`, tokenColumns)

	var tokens []*model.Token
	if err := r.db.SelectContext(ctx, &tokens, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list token history: %w", err)
	}
	return tokens, nil
}

func (r *tokenRepository) ListWaiting(ctx context.Context, departmentID uuid.UUID, date string, limit int) ([]*model.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s, a.name AS patient_name, d.name AS department_name
		FROM tokens t
		JOIN accounts a ON a.id = t.patient_id
		JOIN departments d ON d.id = t.department_id
		WHERE t.department_id = $1
		  AND t.appointment_date = $2::date
		  AND t.status = 'WAITING'
		ORDER BY %s, t.token_number
		LIMIT $3
	`, tokenColumns, priorityRank)

	var tokens []*model.Token
	if err := r.db.SelectContext(ctx, &tokens, query, departmentID, date, limit); err != nil {
		return nil, fmt.Errorf("failed to list waiting tokens: %w", err)
	}
	return tokens, nil
}

func (r *tokenRepository) Summary(ctx context.Context, departmentID uuid.UUID, date string) (*model.QueueSummary, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
			COUNT(*) FILTER (WHERE status IN ('WAITING', 'CALLED')) AS remaining
		FROM tokens
		WHERE department_id = $1 AND appointment_date = $2::date
	`
	var row struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
		Remaining int `db:"remaining"`
	}
	if err := r.db.GetContext(ctx, &row, query, departmentID, date); err != nil {
		return nil, fmt.Errorf("failed to compute queue summary: %w", err)
	}

	next, err := r.ListWaiting(ctx, departmentID, date, 5)
	if err != nil {
		return nil, err
	}

	return &model.QueueSummary{
		DepartmentID: departmentID,
		Date:         date,
		TotalToday:   row.Total,
		Completed:    row.Completed,
		Remaining:    row.Remaining,
		NextWaiting:  next,
	}, nil
}

func (r *tokenRepository) ListStaleCalled(ctx context.Context, cutoff time.Time) ([]*model.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s, a.name AS patient_name, d.name AS department_name
		FROM tokens t
		JOIN accounts a ON a.id = t.patient_id
		JOIN departments d ON d.id = t.department_id
		WHERE t.status = 'CALLED' AND t.called_at < $1
	`, tokenColumns)

	var tokens []*model.Token
	if err := r.db.SelectContext(ctx, &tokens, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list stale called tokens: %w", err)
	}
	return tokens, nil
}
