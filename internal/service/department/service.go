package department

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/pkg/logger"
)

type Service struct {
	repo   repository.DepartmentRepository
	logger *logger.Logger
}

func NewService(repo repository.DepartmentRepository, logger *logger.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) CreateDepartment(ctx context.Context, req *model.CreateDepartmentRequest) (*model.Department, error) {
	dept := &model.Department{
		Name:                req.Name,
		IsOpen:              true,
		MaxCounters:         req.MaxCounters,
		ConsultationFee:     req.ConsultationFee,
		SlotDurationMinutes: req.SlotDurationMinutes,
	}

	if err := s.repo.Create(ctx, dept); err != nil {
		return nil, fmt.Errorf("failed to create department: %w", err)
	}

	s.logger.Info("department created", "department_id", dept.ID.String(), "name", dept.Name)
	return dept, nil
}

func (s *Service) GetDepartment(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListDepartments(ctx context.Context) ([]*model.Department, error) {
	return s.repo.List(ctx)
}

func (s *Service) UpdateDepartment(ctx context.Context, id uuid.UUID, req *model.UpdateDepartmentRequest) (*model.Department, error) {
	dept, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}

	if req.Name != nil {
		dept.Name = *req.Name
	}
	if req.MaxCounters != nil {
		dept.MaxCounters = *req.MaxCounters
	}
	if req.ConsultationFee != nil {
		dept.ConsultationFee = *req.ConsultationFee
	}
	if req.SlotDurationMinutes != nil {
		dept.SlotDurationMinutes = *req.SlotDurationMinutes
	}

	if err := s.repo.Update(ctx, dept); err != nil {
		return nil, fmt.Errorf("failed to update department: %w", err)
	}
	return dept, nil
}

// ToggleDepartment flips booking availability. Closed departments reject new
// tokens; already-booked tokens are unaffected.
func (s *Service) ToggleDepartment(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	dept, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}

	dept.IsOpen = !dept.IsOpen
	if err := s.repo.SetOpen(ctx, id, dept.IsOpen); err != nil {
		return nil, err
	}

	s.logger.Info("department toggled", "department_id", id.String(), "is_open", dept.IsOpen)
	return dept, nil
}
