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

func (r *loginSecurityRepository) Get(ctx context.Context, accountID uuid.UUID) (*model.LoginSecurity, error) {
	query := `
		SELECT account_id, failed_login_attempts, last_failed_at, updated_at
		FROM login_security
		WHERE account_id = $1
	`
	var sec model.LoginSecurity
	err := r.db.GetContext(ctx, &sec, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.LoginSecurity{AccountID: accountID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get login security: %w", err)
	}
	return &sec, nil
}

func (r *loginSecurityRepository) IncrementFailedAttempts(ctx context.Context, accountID uuid.UUID) (int, error) {
	query := `
		INSERT INTO login_security (account_id, failed_login_attempts, last_failed_at, updated_at)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (account_id) DO UPDATE
		SET failed_login_attempts = login_security.failed_login_attempts + 1,
			last_failed_at = $2,
			updated_at = $2
		RETURNING failed_login_attempts
	`
	var attempts int
	if err := r.db.GetContext(ctx, &attempts, query, accountID, time.Now()); err != nil {
		return 0, fmt.Errorf("failed to increment login attempts: %w", err)
	}
	return attempts, nil
}

func (r *loginSecurityRepository) ResetFailedAttempts(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE login_security
		SET failed_login_attempts = 0, updated_at = $1
		WHERE account_id = $2 AND failed_login_attempts <> 0
	`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), accountID); err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

func (r *recoveryCodeRepository) Replace(ctx context.Context, accountID uuid.UUID, hashes []string) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("failed to clear recovery codes: %w", err)
		}

		query := `
			INSERT INTO recovery_codes (id, account_id, code_hash, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
		`
		now := time.Now()
		for _, hash := range hashes {
			if _, err := tx.ExecContext(ctx, query, uuid.New(), accountID, hash, now); err != nil {
				return fmt.Errorf("failed to store recovery code: %w", err)
			}
		}
		return nil
	})
}

func (r *recoveryCodeRepository) ListActive(ctx context.Context, accountID uuid.UUID) ([]*model.RecoveryCode, error) {
	query := `
		SELECT id, account_id, code_hash, used_at, created_at, updated_at
		FROM recovery_codes
		WHERE account_id = $1 AND used_at IS NULL
	`
	var codes []*model.RecoveryCode
	if err := r.db.SelectContext(ctx, &codes, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list recovery codes: %w", err)
	}
	return codes, nil
}

func (r *recoveryCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE recovery_codes SET used_at = $1, updated_at = $1 WHERE id = $2 AND used_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark recovery code used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("recovery code already used")
	}
	return nil
}

func (r *passwordResetRepository) Store(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	query := `
		INSERT INTO password_resets (token, account_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, token, accountID, expiresAt, time.Now()); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

func (r *passwordResetRepository) Consume(ctx context.Context, token string) (uuid.UUID, error) {
	query := `
		DELETE FROM password_resets
		WHERE token = $1 AND expires_at > $2
		RETURNING account_id
	`
	var accountID uuid.UUID
	if err := r.db.GetContext(ctx, &accountID, query, token, time.Now()); err != nil {
		return uuid.Nil, fmt.Errorf("invalid or expired reset token")
	}
	return accountID, nil
}
