package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
)

// TxRunner runs a function inside a database transaction. Implemented by the
// postgres BaseRepository; services that need multi-repo atomicity take one.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	Get(ctx context.Context, id uuid.UUID) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	Update(ctx context.Context, account *model.Account) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type LoginSecurityRepository interface {
	Get(ctx context.Context, accountID uuid.UUID) (*model.LoginSecurity, error)
	// IncrementFailedAttempts bumps the counter by exactly one and persists it,
	// returning the new count. Creates the row on first failure.
	IncrementFailedAttempts(ctx context.Context, accountID uuid.UUID) (int, error)
	ResetFailedAttempts(ctx context.Context, accountID uuid.UUID) error
}

type RecoveryCodeRepository interface {
	// Replace removes any existing codes for the account and stores the new
	// hashes in a single transaction.
	Replace(ctx context.Context, accountID uuid.UUID, hashes []string) error
	ListActive(ctx context.Context, accountID uuid.UUID) ([]*model.RecoveryCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

type PasswordResetRepository interface {
	Store(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error
	Consume(ctx context.Context, token string) (uuid.UUID, error)
}

type DepartmentRepository interface {
	Create(ctx context.Context, dept *model.Department) error
	Get(ctx context.Context, id uuid.UUID) (*model.Department, error)
	List(ctx context.Context) ([]*model.Department, error)
	Update(ctx context.Context, dept *model.Department) error
	SetOpen(ctx context.Context, id uuid.UUID, open bool) error
}

type TokenRepository interface {
	// Create allocates the next token number for (department, date) and inserts
	// the token. Allocation is serialized per (department, date); two concurrent
	// creates never share a number.
	Create(ctx context.Context, token *model.Token) error
	// NextTokenNumber returns the number the next booking would get. Best-effort
	// estimate, nothing is reserved.
	NextTokenNumber(ctx context.Context, departmentID uuid.UUID, date string) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Token, error)
	// CallNext atomically selects the front WAITING token for the department and
	// date and transitions it to CALLED by doctorID. Returns nil when the
	// waiting set is empty.
	CallNext(ctx context.Context, departmentID uuid.UUID, date string, doctorID uuid.UUID) (*model.Token, error)
	// Transition performs a guarded status update: the row is only updated when
	// its current status equals from. Returns false when the guard failed.
	Transition(ctx context.Context, id uuid.UUID, from, to model.TokenStatus) (bool, error)
	TransitionTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to model.TokenStatus) (bool, error)
	// WaitingAhead counts WAITING tokens strictly ahead of the given token in
	// (priority rank, token number) order.
	WaitingAhead(ctx context.Context, token *model.Token) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, upcomingOnly bool) ([]*model.Token, error)
	HistoryByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Token, error)
	ListWaiting(ctx context.Context, departmentID uuid.UUID, date string, limit int) ([]*model.Token, error)
	Summary(ctx context.Context, departmentID uuid.UUID, date string) (*model.QueueSummary, error)
	// ListStaleCalled returns CALLED tokens whose called_at is older than cutoff.
	ListStaleCalled(ctx context.Context, cutoff time.Time) ([]*model.Token, error)
}

type VisitRepository interface {
	Create(ctx context.Context, visit *model.Visit) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, visit *model.Visit) error
	Get(ctx context.Context, id uuid.UUID) (*model.Visit, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.Visit, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.Visit, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error
	GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
