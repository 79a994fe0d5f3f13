package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/repository"
)

type accountRepository struct {
	BaseRepository
}

type loginSecurityRepository struct {
	BaseRepository
}

type recoveryCodeRepository struct {
	BaseRepository
}

type passwordResetRepository struct {
	BaseRepository
}

type departmentRepository struct {
	BaseRepository
}

type tokenRepository struct {
	BaseRepository
}

type visitRepository struct {
	BaseRepository
}

func NewAccountRepository(db *sqlx.DB) repository.AccountRepository {
	return &accountRepository{NewBaseRepository(db)}
}

func NewLoginSecurityRepository(db *sqlx.DB) repository.LoginSecurityRepository {
	return &loginSecurityRepository{NewBaseRepository(db)}
}

func NewRecoveryCodeRepository(db *sqlx.DB) repository.RecoveryCodeRepository {
	return &recoveryCodeRepository{NewBaseRepository(db)}
}

func NewPasswordResetRepository(db *sqlx.DB) repository.PasswordResetRepository {
	return &passwordResetRepository{NewBaseRepository(db)}
}

func NewDepartmentRepository(db *sqlx.DB) repository.DepartmentRepository {
	return &departmentRepository{NewBaseRepository(db)}
}

func NewTokenRepository(db *sqlx.DB) repository.TokenRepository {
	return &tokenRepository{NewBaseRepository(db)}
}

func NewVisitRepository(db *sqlx.DB) repository.VisitRepository {
	return &visitRepository{NewBaseRepository(db)}
}

// NewTxRunner exposes the base transaction helper for services that span
// multiple repositories in one commit.
func NewTxRunner(db *sqlx.DB) repository.TxRunner {
	base := NewBaseRepository(db)
	return &base
}
