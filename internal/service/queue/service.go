package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/realtime"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

var (
	ErrNoPatientsWaiting       = errors.New("no patients waiting")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrCannotCancelCalledToken = errors.New("cannot cancel a called token")
	ErrNotCallingDoctor        = errors.New("token was called by another doctor")
	ErrDepartmentClosed        = errors.New("department is closed for booking")
	ErrNotTokenOwner           = errors.New("token belongs to another patient")
	ErrPastDate                = errors.New("appointment date is in the past")
)

const dateLayout = "2006-01-02"

type Config struct {
	PreviewTTL time.Duration
}

// Service implements the token sequencer and the queue state machine.
type Service struct {
	tokenRepo  repository.TokenRepository
	deptRepo   repository.DepartmentRepository
	visitRepo  repository.VisitRepository
	outboxRepo repository.OutboxRepository
	txRunner   repository.TxRunner
	dispatcher *realtime.Dispatcher
	preview    *gocache.Cache
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	tokenRepo repository.TokenRepository,
	deptRepo repository.DepartmentRepository,
	visitRepo repository.VisitRepository,
	outboxRepo repository.OutboxRepository,
	txRunner repository.TxRunner,
	dispatcher *realtime.Dispatcher,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	cfg Config,
) *Service {
	ttl := cfg.PreviewTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Service{
		tokenRepo:  tokenRepo,
		deptRepo:   deptRepo,
		visitRepo:  visitRepo,
		outboxRepo: outboxRepo,
		txRunner:   txRunner,
		dispatcher: dispatcher,
		preview:    gocache.New(ttl, 2*ttl),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// CreateToken books the next token number for (department, date). Allocation
// is serialized in the repository; concurrent bookings get distinct numbers.
func (s *Service) CreateToken(ctx context.Context, req *model.CreateTokenRequest, patientID uuid.UUID) (*model.Token, error) {
	dept, err := s.deptRepo.Get(ctx, req.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	if !dept.IsOpen {
		return nil, ErrDepartmentClosed
	}

	date, err := time.Parse(dateLayout, req.AppointmentDate)
	if err != nil {
		return nil, fmt.Errorf("invalid appointment date: %w", err)
	}
	if date.Before(s.today()) {
		return nil, ErrPastDate
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	token := &model.Token{
		PatientID:       patientID,
		DepartmentID:    req.DepartmentID,
		AppointmentDate: req.AppointmentDate,
		Priority:        priority,
	}

	if err := s.tokenRepo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	// Number moved on; drop the stale preview.
	s.preview.Delete(previewKey(req.DepartmentID, req.AppointmentDate))
	s.metrics.TokensIssued.WithLabelValues(dept.Name).Inc()

	created, err := s.tokenRepo.Get(ctx, token.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload token: %w", err)
	}

	if created.WaitingCount, err = s.tokenRepo.WaitingAhead(ctx, created); err != nil {
		return nil, err
	}

	s.notifyQueueChanged(ctx, created.DepartmentID, created.AppointmentDate)

	s.logger.Info("token created",
		"token_id", created.ID.String(),
		"department_id", created.DepartmentID.String(),
		"token_number", created.TokenNumber,
		"priority", string(created.Priority))
	return created, nil
}

// PreviewNext estimates the number the next booking would receive. Served
// from a short-TTL cache keyed by (department, date); never reserves anything
// and may be stale by design.
func (s *Service) PreviewNext(ctx context.Context, departmentID uuid.UUID, date string) (*model.TokenPreview, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid appointment date: %w", err)
	}

	key := previewKey(departmentID, date)
	if cached, ok := s.preview.Get(key); ok {
		return cached.(*model.TokenPreview), nil
	}

	next, err := s.tokenRepo.NextTokenNumber(ctx, departmentID, date)
	if err != nil {
		return nil, err
	}

	preview := &model.TokenPreview{
		DepartmentID:        departmentID,
		AppointmentDate:     date,
		ExpectedTokenNumber: next,
	}
	s.preview.SetDefault(key, preview)
	return preview, nil
}

// CallNext hands the doctor the front of today's queue for the department:
// highest priority first, lowest token number within a priority. Selection
// and transition are one atomic unit; two doctors never get the same token.
func (s *Service) CallNext(ctx context.Context, departmentID, doctorID uuid.UUID) (*model.Token, error) {
	date := s.today().Format(dateLayout)

	token, err := s.tokenRepo.CallNext(ctx, departmentID, date, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to call next token: %w", err)
	}
	if token == nil {
		return nil, ErrNoPatientsWaiting
	}

	s.metrics.TokenTransitions.WithLabelValues(string(model.TokenStatusCalled)).Inc()
	s.dispatcher.NotifyToken(ctx, token, realtime.EventCalled)
	s.notifyQueueChanged(ctx, departmentID, date)
	s.enqueueNotification(ctx, token, realtime.EventCalled)

	s.logger.Info("token called",
		"token_id", token.ID.String(),
		"token_number", token.TokenNumber,
		"doctor_id", doctorID.String())
	return token, nil
}

// Complete closes a CALLED token and writes the visit record in the same
// transaction. Only the doctor who called the token may complete it, and the
// COMPLETED transition is the only path that creates a visit.
func (s *Service) Complete(ctx context.Context, req *model.CompleteTokenRequest, doctorID uuid.UUID) (*model.Visit, error) {
	token, err := s.tokenRepo.Get(ctx, req.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if token.Status != model.TokenStatusCalled {
		return nil, ErrInvalidStateTransition
	}
	if token.CalledBy == nil || *token.CalledBy != doctorID {
		return nil, ErrNotCallingDoctor
	}

	vitals, err := marshalJSON(req.Vitals)
	if err != nil {
		return nil, err
	}
	prescriptions, err := marshalJSON(req.Prescriptions)
	if err != nil {
		return nil, err
	}

	visit := &model.Visit{
		TokenID:       token.ID,
		DoctorID:      doctorID,
		PatientID:     token.PatientID,
		Symptoms:      req.Symptoms,
		Diagnosis:     req.Diagnosis,
		Vitals:        vitals,
		Prescriptions: prescriptions,
		FollowUpDate:  req.FollowUpDate,
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := s.tokenRepo.TransitionTx(ctx, tx, token.ID, model.TokenStatusCalled, model.TokenStatusCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidStateTransition
		}
		if err := s.visitRepo.CreateTx(ctx, tx, visit); err != nil {
			return err
		}
		return s.enqueueNotificationTx(ctx, tx, token, realtime.EventCompleted)
	})
	if err != nil {
		return nil, err
	}

	token.Status = model.TokenStatusCompleted
	s.metrics.TokenTransitions.WithLabelValues(string(model.TokenStatusCompleted)).Inc()
	s.dispatcher.NotifyToken(ctx, token, realtime.EventCompleted)

	s.logger.Info("token completed",
		"token_id", token.ID.String(),
		"visit_id", visit.ID.String(),
		"doctor_id", doctorID.String())
	return visit, nil
}

// Skip marks a CALLED token skipped. Terminal: the patient is not requeued
// and must book again.
func (s *Service) Skip(ctx context.Context, tokenID, doctorID uuid.UUID) (*model.Token, error) {
	return s.closeCalled(ctx, tokenID, doctorID, model.TokenStatusSkipped, realtime.EventSkipped)
}

// NoShow marks a CALLED token as a no-show.
func (s *Service) NoShow(ctx context.Context, tokenID, doctorID uuid.UUID) (*model.Token, error) {
	return s.closeCalled(ctx, tokenID, doctorID, model.TokenStatusNoShow, realtime.EventNoShow)
}

func (s *Service) closeCalled(ctx context.Context, tokenID, doctorID uuid.UUID, to model.TokenStatus, event realtime.EventType) (*model.Token, error) {
	token, err := s.tokenRepo.Get(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if token.Status != model.TokenStatusCalled {
		return nil, ErrInvalidStateTransition
	}
	if token.CalledBy == nil || *token.CalledBy != doctorID {
		return nil, ErrNotCallingDoctor
	}

	ok, err := s.tokenRepo.Transition(ctx, tokenID, model.TokenStatusCalled, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidStateTransition
	}

	token.Status = to
	s.metrics.TokenTransitions.WithLabelValues(string(to)).Inc()
	s.dispatcher.NotifyToken(ctx, token, event)
	s.enqueueNotification(ctx, token, event)

	s.logger.Info("token closed",
		"token_id", token.ID.String(),
		"status", string(to),
		"doctor_id", doctorID.String())
	return token, nil
}

// Cancel withdraws a WAITING token. A token that has already been called
// cannot be cancelled; the status guard in the update is the serialization
// point for a cancel racing a call-next.
func (s *Service) Cancel(ctx context.Context, tokenID, callerID uuid.UUID, role model.Role) (*model.Token, error) {
	token, err := s.tokenRepo.Get(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if role != model.RoleAdmin && token.PatientID != callerID {
		return nil, ErrNotTokenOwner
	}

	switch token.Status {
	case model.TokenStatusWaiting:
	case model.TokenStatusCalled:
		return nil, ErrCannotCancelCalledToken
	default:
		return nil, ErrInvalidStateTransition
	}

	ok, err := s.tokenRepo.Transition(ctx, tokenID, model.TokenStatusWaiting, model.TokenStatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race: the token moved between read and update. Re-read so
		// the caller gets the precise refusal.
		current, err := s.tokenRepo.Get(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if current.Status == model.TokenStatusCalled {
			return nil, ErrCannotCancelCalledToken
		}
		return nil, ErrInvalidStateTransition
	}

	token.Status = model.TokenStatusCancelled
	s.metrics.TokenTransitions.WithLabelValues(string(model.TokenStatusCancelled)).Inc()
	s.notifyQueueChanged(ctx, token.DepartmentID, token.AppointmentDate)

	s.logger.Info("token cancelled", "token_id", token.ID.String())
	return token, nil
}

func (s *Service) GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	token, err := s.tokenRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	if token.Status == model.TokenStatusWaiting {
		if token.WaitingCount, err = s.tokenRepo.WaitingAhead(ctx, token); err != nil {
			return nil, err
		}
	}
	return token, nil
}

func (s *Service) MyTokens(ctx context.Context, patientID uuid.UUID, upcomingOnly bool) ([]*model.Token, error) {
	tokens, err := s.tokenRepo.ListByPatient(ctx, patientID, upcomingOnly)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.Status != model.TokenStatusWaiting {
			continue
		}
		if t.WaitingCount, err = s.tokenRepo.WaitingAhead(ctx, t); err != nil {
			return nil, err
		}
	}
	return tokens, nil
}

func (s *Service) History(ctx context.Context, patientID uuid.UUID) ([]*model.Token, error) {
	return s.tokenRepo.HistoryByPatient(ctx, patientID)
}

func (s *Service) QueueSummary(ctx context.Context, departmentID uuid.UUID, date string) (*model.QueueSummary, error) {
	if date == "" {
		date = s.today().Format(dateLayout)
	}
	return s.tokenRepo.Summary(ctx, departmentID, date)
}

// SweepNoShows transitions CALLED tokens older than grace to NO_SHOW.
// Returns the number of tokens swept.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	if grace <= 0 {
		return 0, nil
	}

	stale, err := s.tokenRepo.ListStaleCalled(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, token := range stale {
		ok, err := s.tokenRepo.Transition(ctx, token.ID, model.TokenStatusCalled, model.TokenStatusNoShow)
		if err != nil {
			s.logger.Error(err, "failed to sweep token", "token_id", token.ID.String())
			continue
		}
		if !ok {
			continue
		}
		token.Status = model.TokenStatusNoShow
		s.metrics.TokenTransitions.WithLabelValues(string(model.TokenStatusNoShow)).Inc()
		s.dispatcher.NotifyToken(ctx, token, realtime.EventNoShow)
		swept++
	}
	return swept, nil
}

// notifyQueueChanged pushes the new waiting count to department subscribers.
func (s *Service) notifyQueueChanged(ctx context.Context, departmentID uuid.UUID, date string) {
	summary, err := s.tokenRepo.Summary(ctx, departmentID, date)
	if err != nil {
		s.logger.Error(err, "failed to compute queue summary", "department_id", departmentID.String())
		return
	}
	s.dispatcher.NotifyQueueUpdate(ctx, departmentID, summary.Remaining)
	s.metrics.QueueWaiting.WithLabelValues(departmentID.String()).Set(float64(summary.Remaining))
}

// enqueueNotification writes a durable outbox row for downstream notification
// consumers (SMS, push). Separate from the realtime channels; those are
// fire-and-forget.
func (s *Service) enqueueNotification(ctx context.Context, token *model.Token, event realtime.EventType) {
	if err := s.enqueueNotificationTx(ctx, nil, token, event); err != nil {
		s.logger.Error(err, "failed to enqueue notification", "token_id", token.ID.String())
	}
}

func (s *Service) enqueueNotificationTx(ctx context.Context, tx *sqlx.Tx, token *model.Token, event realtime.EventType) error {
	payload, err := json.Marshal(map[string]interface{}{
		"token_id":     token.ID,
		"token_number": token.TokenNumber,
		"patient_id":   token.PatientID,
		"department":   token.Department,
		"event":        string(event),
	})
	if err != nil {
		return err
	}

	outboxEvent := &model.OutboxEvent{
		Channel:   "notifications",
		EventType: fmt.Sprintf("token.%s", event),
		Payload:   payload,
	}
	if tx != nil {
		return s.outboxRepo.CreateTx(ctx, tx, outboxEvent)
	}
	return s.outboxRepo.Create(ctx, outboxEvent)
}

func (s *Service) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func previewKey(departmentID uuid.UUID, date string) string {
	return departmentID.String() + "|" + date
}

func marshalJSON(v interface{}) (model.JSONText, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return model.JSONText(data), nil
}
