package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
)

func (r *departmentRepository) Create(ctx context.Context, dept *model.Department) error {
	query := `
		INSERT INTO departments (
			id, name, is_open, max_counters, consultation_fee,
			slot_duration_minutes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	dept.ID = uuid.New()
	dept.CreatedAt = time.Now()
	dept.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		dept.ID,
		dept.Name,
		dept.IsOpen,
		dept.MaxCounters,
		dept.ConsultationFee,
		dept.SlotDurationMinutes,
		dept.CreatedAt,
		dept.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create department: %w", err)
	}
	return nil
}

func (r *departmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	query := `
		SELECT id, name, is_open, max_counters, consultation_fee,
			   slot_duration_minutes, created_at, updated_at
		FROM departments
		WHERE id = $1
	`
	var dept model.Department
	if err := r.db.GetContext(ctx, &dept, query, id); err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return &dept, nil
}

func (r *departmentRepository) List(ctx context.Context) ([]*model.Department, error) {
	query := `
		SELECT id, name, is_open, max_counters, consultation_fee,
			   slot_duration_minutes, created_at, updated_at
		FROM departments
		ORDER BY name
	`
	var depts []*model.Department
	if err := r.db.SelectContext(ctx, &depts, query); err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return depts, nil
}

func (r *departmentRepository) Update(ctx context.Context, dept *model.Department) error {
	query := `
		UPDATE departments
		SET name = $1, max_counters = $2, consultation_fee = $3,
			slot_duration_minutes = $4, updated_at = $5
		WHERE id = $6
	`
	dept.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		dept.Name,
		dept.MaxCounters,
		dept.ConsultationFee,
		dept.SlotDurationMinutes,
		dept.UpdatedAt,
		dept.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update department: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("department not found")
	}
	return nil
}

func (r *departmentRepository) SetOpen(ctx context.Context, id uuid.UUID, open bool) error {
	query := `UPDATE departments SET is_open = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, open, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle department: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("department not found")
	}
	return nil
}
