package model

import (
	"time"

	"github.com/google/uuid"
)

// LoginSecurity tracks failed login attempts per account. One row per account,
// created lazily on the first failure.
type LoginSecurity struct {
	AccountID           uuid.UUID  `db:"account_id" json:"account_id"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"failed_login_attempts"`
	LastFailedAt        *time.Time `db:"last_failed_at" json:"last_failed_at,omitempty"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// RecoveryCode stores the bcrypt hash of a one-time account recovery code.
type RecoveryCode struct {
	Base
	AccountID uuid.UUID  `db:"account_id" json:"account_id"`
	CodeHash  string     `db:"code_hash" json:"-"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}
