package queue

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/realtime"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

// One registry per test binary; promauto panics on duplicate registration.
var testMetrics = metrics.NewMetrics("queue_service_test")

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const (
	today    = "2026-03-10"
	tomorrow = "2026-03-11"
)

type fakeTokenRepo struct {
	tokens          map[uuid.UUID]*model.Token
	nextNumber      int
	nextNumberCalls int
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: map[uuid.UUID]*model.Token{}, nextNumber: 1}
}

func (f *fakeTokenRepo) Create(ctx context.Context, token *model.Token) error {
	token.ID = uuid.New()
	max := 0
	for _, t := range f.tokens {
		if t.DepartmentID == token.DepartmentID && t.AppointmentDate == token.AppointmentDate && t.TokenNumber > max {
			max = t.TokenNumber
		}
	}
	token.TokenNumber = max + 1
	token.Status = model.TokenStatusWaiting
	cp := *token
	f.tokens[token.ID] = &cp
	return nil
}

func (f *fakeTokenRepo) NextTokenNumber(ctx context.Context, departmentID uuid.UUID, date string) (int, error) {
	f.nextNumberCalls++
	return f.nextNumber, nil
}

func (f *fakeTokenRepo) Get(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	t, ok := f.tokens[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTokenRepo) waiting(departmentID uuid.UUID, date string) []*model.Token {
	var out []*model.Token
	for _, t := range f.tokens {
		if t.DepartmentID == departmentID && t.AppointmentDate == date && t.Status == model.TokenStatusWaiting {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].TokenNumber < out[j].TokenNumber
	})
	return out
}

func (f *fakeTokenRepo) CallNext(ctx context.Context, departmentID uuid.UUID, date string, doctorID uuid.UUID) (*model.Token, error) {
	waiting := f.waiting(departmentID, date)
	if len(waiting) == 0 {
		return nil, nil
	}
	front := waiting[0]
	now := testNow
	front.Status = model.TokenStatusCalled
	front.CalledBy = &doctorID
	front.CalledAt = &now
	cp := *front
	return &cp, nil
}

func (f *fakeTokenRepo) Transition(ctx context.Context, id uuid.UUID, from, to model.TokenStatus) (bool, error) {
	t, ok := f.tokens[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

func (f *fakeTokenRepo) TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to model.TokenStatus) (bool, error) {
	return f.Transition(ctx, id, from, to)
}

func (f *fakeTokenRepo) WaitingAhead(ctx context.Context, token *model.Token) (int, error) {
	count := 0
	for _, t := range f.waiting(token.DepartmentID, token.AppointmentDate) {
		if t.ID == token.ID {
			continue
		}
		if t.Priority.Rank() < token.Priority.Rank() ||
			(t.Priority.Rank() == token.Priority.Rank() && t.TokenNumber < token.TokenNumber) {
			count++
		}
	}
	return count, nil
}

func (f *fakeTokenRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, upcomingOnly bool) ([]*model.Token, error) {
	var out []*model.Token
	for _, t := range f.tokens {
		if t.PatientID != patientID {
			continue
		}
		if upcomingOnly && t.Status.Terminal() {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTokenRepo) HistoryByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Token, error) {
	return f.ListByPatient(ctx, patientID, false)
}

func (f *fakeTokenRepo) ListWaiting(ctx context.Context, departmentID uuid.UUID, date string, limit int) ([]*model.Token, error) {
	waiting := f.waiting(departmentID, date)
	if len(waiting) > limit {
		waiting = waiting[:limit]
	}
	return waiting, nil
}

func (f *fakeTokenRepo) Summary(ctx context.Context, departmentID uuid.UUID, date string) (*model.QueueSummary, error) {
	summary := &model.QueueSummary{DepartmentID: departmentID, Date: date}
	for _, t := range f.tokens {
		if t.DepartmentID != departmentID || t.AppointmentDate != date {
			continue
		}
		summary.TotalToday++
		switch t.Status {
		case model.TokenStatusCompleted:
			summary.Completed++
		case model.TokenStatusWaiting:
			summary.Remaining++
		}
	}
	summary.NextWaiting, _ = f.ListWaiting(ctx, departmentID, date, 5)
	return summary, nil
}

func (f *fakeTokenRepo) ListStaleCalled(ctx context.Context, cutoff time.Time) ([]*model.Token, error) {
	var out []*model.Token
	for _, t := range f.tokens {
		if t.Status == model.TokenStatusCalled && t.CalledAt != nil && t.CalledAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeDeptRepo struct {
	depts map[uuid.UUID]*model.Department
}

func (f *fakeDeptRepo) Create(ctx context.Context, dept *model.Department) error {
	dept.ID = uuid.New()
	f.depts[dept.ID] = dept
	return nil
}

func (f *fakeDeptRepo) Get(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	d, ok := f.depts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeDeptRepo) List(ctx context.Context) ([]*model.Department, error) { return nil, nil }
func (f *fakeDeptRepo) Update(ctx context.Context, dept *model.Department) error {
	return nil
}
func (f *fakeDeptRepo) SetOpen(ctx context.Context, id uuid.UUID, open bool) error {
	f.depts[id].IsOpen = open
	return nil
}

type fakeVisitRepo struct {
	visits []*model.Visit
}

func (f *fakeVisitRepo) Create(ctx context.Context, visit *model.Visit) error {
	visit.ID = uuid.New()
	f.visits = append(f.visits, visit)
	return nil
}

func (f *fakeVisitRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, visit *model.Visit) error {
	return f.Create(ctx, visit)
}

func (f *fakeVisitRepo) Get(ctx context.Context, id uuid.UUID) (*model.Visit, error) {
	return nil, sql.ErrNoRows
}
func (f *fakeVisitRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Visit, error) {
	return nil, nil
}
func (f *fakeVisitRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Visit, error) {
	return nil, nil
}

type fakeOutboxRepo struct {
	events []*model.OutboxEvent
}

func (f *fakeOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	event.ID = uuid.New()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutboxRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	return f.Create(ctx, event)
}

func (f *fakeOutboxRepo) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}
func (f *fakeOutboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error {
	return nil
}
func (f *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return fn(nil)
}

type fakeBroker struct {
	published map[string][][]byte
	failing   bool
}

func (f *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	if f.failing {
		return context.DeadlineExceeded
	}
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	payload, _ := message.([]byte)
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeBroker) Close() error { return nil }

type fixture struct {
	svc      *Service
	tokens   *fakeTokenRepo
	depts    *fakeDeptRepo
	visits   *fakeVisitRepo
	outbox   *fakeOutboxRepo
	broker   *fakeBroker
	deptID   uuid.UUID
	doctorID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens := newFakeTokenRepo()
	depts := &fakeDeptRepo{depts: map[uuid.UUID]*model.Department{}}
	visits := &fakeVisitRepo{}
	outbox := &fakeOutboxRepo{}
	broker := &fakeBroker{}

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel})
	dispatcher := realtime.NewDispatcher(broker, log, testMetrics)

	svc := NewService(tokens, depts, visits, outbox, fakeTxRunner{}, dispatcher, log, testMetrics, Config{
		PreviewTTL: time.Minute,
	})
	svc.now = func() time.Time { return testNow }

	dept := &model.Department{Name: "Cardiology", IsOpen: true, MaxCounters: 2, SlotDurationMinutes: 10}
	require.NoError(t, depts.Create(context.Background(), dept))

	return &fixture{
		svc:      svc,
		tokens:   tokens,
		depts:    depts,
		visits:   visits,
		outbox:   outbox,
		broker:   broker,
		deptID:   dept.ID,
		doctorID: uuid.New(),
	}
}

func (f *fixture) book(t *testing.T, patientID uuid.UUID, date string, priority model.TokenPriority) *model.Token {
	t.Helper()
	token, err := f.svc.CreateToken(context.Background(), &model.CreateTokenRequest{
		DepartmentID:    f.deptID,
		AppointmentDate: date,
		Priority:        priority,
	}, patientID)
	require.NoError(t, err)
	return token
}

func TestCreateToken(t *testing.T) {
	f := newFixture(t)
	patientID := uuid.New()

	token := f.book(t, patientID, tomorrow, "")

	assert.Equal(t, 1, token.TokenNumber)
	assert.Equal(t, model.TokenStatusWaiting, token.Status)
	assert.Equal(t, model.PriorityNormal, token.Priority, "empty priority defaults to NORMAL")
	assert.Equal(t, patientID, token.PatientID)
	assert.Zero(t, token.WaitingCount)

	second := f.book(t, uuid.New(), tomorrow, "")
	assert.Equal(t, 2, second.TokenNumber, "numbers increase per department and date")
	assert.Equal(t, 1, second.WaitingCount, "one token waits ahead")

	otherDay := f.book(t, uuid.New(), "2026-03-12", "")
	assert.Equal(t, 1, otherDay.TokenNumber, "numbering restarts per date")
}

func TestCreateTokenRejectsPastDate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateToken(context.Background(), &model.CreateTokenRequest{
		DepartmentID:    f.deptID,
		AppointmentDate: "2026-03-09",
	}, uuid.New())
	assert.ErrorIs(t, err, ErrPastDate)

	// Booking for today is allowed.
	_, err = f.svc.CreateToken(context.Background(), &model.CreateTokenRequest{
		DepartmentID:    f.deptID,
		AppointmentDate: today,
	}, uuid.New())
	assert.NoError(t, err)
}

func TestCreateTokenRejectsClosedDepartment(t *testing.T) {
	f := newFixture(t)
	f.depts.depts[f.deptID].IsOpen = false

	_, err := f.svc.CreateToken(context.Background(), &model.CreateTokenRequest{
		DepartmentID:    f.deptID,
		AppointmentDate: tomorrow,
	}, uuid.New())
	assert.ErrorIs(t, err, ErrDepartmentClosed)
}

func TestPreviewNextCaches(t *testing.T) {
	f := newFixture(t)
	f.tokens.nextNumber = 7

	first, err := f.svc.PreviewNext(context.Background(), f.deptID, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, 7, first.ExpectedTokenNumber)

	_, err = f.svc.PreviewNext(context.Background(), f.deptID, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, 1, f.tokens.nextNumberCalls, "second preview must come from cache")

	// A booking moves the number on, so the cache entry is dropped.
	f.book(t, uuid.New(), tomorrow, "")
	_, err = f.svc.PreviewNext(context.Background(), f.deptID, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, 2, f.tokens.nextNumberCalls)
}

func TestPreviewNextRejectsMalformedDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PreviewNext(context.Background(), f.deptID, "10-03-2026")
	assert.Error(t, err)
}

func TestCallNextOrdersByPriorityThenNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	normal := f.book(t, uuid.New(), today, model.PriorityNormal)
	senior := f.book(t, uuid.New(), today, model.PrioritySenior)
	emergency := f.book(t, uuid.New(), today, model.PriorityEmergency)

	first, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, emergency.ID, first.ID)
	assert.Equal(t, model.TokenStatusCalled, first.Status)
	require.NotNil(t, first.CalledBy)
	assert.Equal(t, f.doctorID, *first.CalledBy)

	second, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, senior.ID, second.ID)

	third, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, normal.ID, third.ID)

	_, err = f.svc.CallNext(ctx, f.deptID, f.doctorID)
	assert.ErrorIs(t, err, ErrNoPatientsWaiting)
}

func TestCallNextPublishesToPatientAndDepartmentChannels(t *testing.T) {
	f := newFixture(t)
	token := f.book(t, uuid.New(), today, "")

	_, err := f.svc.CallNext(context.Background(), f.deptID, f.doctorID)
	require.NoError(t, err)

	assert.NotEmpty(t, f.broker.published[realtime.PatientChannel(token.PatientID)])
	assert.NotEmpty(t, f.broker.published[realtime.DepartmentChannel(f.deptID)])
}

func TestCompleteCreatesVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, uuid.New(), today, "")
	called, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)

	visit, err := f.svc.Complete(ctx, &model.CompleteTokenRequest{
		TokenID:   called.ID,
		Symptoms:  "chest pain",
		Diagnosis: "angina",
		Vitals:    map[string]any{"bp": "140/90"},
	}, f.doctorID)
	require.NoError(t, err)

	assert.Equal(t, called.ID, visit.TokenID)
	assert.Equal(t, called.PatientID, visit.PatientID)
	assert.Equal(t, f.doctorID, visit.DoctorID)
	require.Len(t, f.visits.visits, 1)

	stored, err := f.tokens.Get(ctx, called.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusCompleted, stored.Status)

	// The completion notification rides the same transaction as the visit.
	require.NotEmpty(t, f.outbox.events)
	assert.Equal(t, "token.COMPLETED", f.outbox.events[len(f.outbox.events)-1].EventType)
}

func TestCompleteRequiresCallingDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, uuid.New(), today, "")
	called, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, &model.CompleteTokenRequest{TokenID: called.ID}, uuid.New())
	assert.ErrorIs(t, err, ErrNotCallingDoctor)
	assert.Empty(t, f.visits.visits)
}

func TestCompleteRequiresCalledStatus(t *testing.T) {
	f := newFixture(t)

	waiting := f.book(t, uuid.New(), today, "")
	_, err := f.svc.Complete(context.Background(), &model.CompleteTokenRequest{TokenID: waiting.ID}, f.doctorID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Empty(t, f.visits.visits, "a visit exists only for completed tokens")
}

func TestSkipIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, uuid.New(), today, "")
	called, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)

	skipped, err := f.svc.Skip(ctx, called.ID, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusSkipped, skipped.Status)

	// No requeue: nothing is waiting afterwards.
	_, err = f.svc.CallNext(ctx, f.deptID, f.doctorID)
	assert.ErrorIs(t, err, ErrNoPatientsWaiting)

	// And no further transitions from a terminal state.
	_, err = f.svc.NoShow(ctx, called.ID, f.doctorID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("owner cancels a waiting token", func(t *testing.T) {
		f := newFixture(t)
		patientID := uuid.New()
		token := f.book(t, patientID, tomorrow, "")

		cancelled, err := f.svc.Cancel(ctx, token.ID, patientID, model.RolePatient)
		require.NoError(t, err)
		assert.Equal(t, model.TokenStatusCancelled, cancelled.Status)
	})

	t.Run("called tokens cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		patientID := uuid.New()
		f.book(t, patientID, today, "")
		called, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, called.ID, patientID, model.RolePatient)
		assert.ErrorIs(t, err, ErrCannotCancelCalledToken)
	})

	t.Run("strangers cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		token := f.book(t, uuid.New(), tomorrow, "")

		_, err := f.svc.Cancel(ctx, token.ID, uuid.New(), model.RolePatient)
		assert.ErrorIs(t, err, ErrNotTokenOwner)
	})

	t.Run("admins may cancel on behalf of patients", func(t *testing.T) {
		f := newFixture(t)
		token := f.book(t, uuid.New(), tomorrow, "")

		cancelled, err := f.svc.Cancel(ctx, token.ID, uuid.New(), model.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, model.TokenStatusCancelled, cancelled.Status)
	})

	t.Run("terminal tokens stay terminal", func(t *testing.T) {
		f := newFixture(t)
		patientID := uuid.New()
		token := f.book(t, patientID, tomorrow, "")
		_, err := f.svc.Cancel(ctx, token.ID, patientID, model.RolePatient)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, token.ID, patientID, model.RolePatient)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	})
}

func TestGetTokenFillsWaitingCount(t *testing.T) {
	f := newFixture(t)

	f.book(t, uuid.New(), tomorrow, model.PriorityEmergency)
	f.book(t, uuid.New(), tomorrow, "")
	mine := f.book(t, uuid.New(), tomorrow, "")

	got, err := f.svc.GetToken(context.Background(), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.WaitingCount)
}

func TestQueueSummaryDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, uuid.New(), today, "")
	f.book(t, uuid.New(), today, "")
	called, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, &model.CompleteTokenRequest{TokenID: called.ID}, f.doctorID)
	require.NoError(t, err)

	summary, err := f.svc.QueueSummary(ctx, f.deptID, "")
	require.NoError(t, err)
	assert.Equal(t, today, summary.Date)
	assert.Equal(t, 2, summary.TotalToday)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Remaining)
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, uuid.New(), today, "")
	called, err := f.svc.CallNext(ctx, f.deptID, f.doctorID)
	require.NoError(t, err)

	// Backdate the call beyond the grace period.
	stale := testNow.Add(-20 * time.Minute)
	f.tokens.tokens[called.ID].CalledAt = &stale

	swept, err := f.svc.SweepNoShows(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := f.tokens.Get(ctx, called.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusNoShow, stored.Status)

	t.Run("zero grace disables the sweep", func(t *testing.T) {
		swept, err := f.svc.SweepNoShows(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, swept)
	})
}
