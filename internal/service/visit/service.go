package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

var ErrNotVisitParticipant = errors.New("visit belongs to another account")

// Service reads the append-only visit records. Creation happens inside the
// queue service's complete transaction; visits are never mutated here.
type Service struct {
	repo repository.VisitRepository
}

func NewService(repo repository.VisitRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetVisit(ctx context.Context, id, callerID uuid.UUID, role model.Role) (*model.Visit, error) {
	visit, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}

	if role != model.RoleAdmin && visit.PatientID != callerID && visit.DoctorID != callerID {
		return nil, ErrNotVisitParticipant
	}
	return visit, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Visit, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Visit, error) {
	return s.repo.ListByDoctor(ctx, doctorID)
}
