package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

// backoff is the delay curve for one role: delay = min(base * 2^(n-1), cap).
type backoff struct {
	base time.Duration
	cap  time.Duration
}

var backoffByRole = map[model.Role]backoff{
	model.RoleAdmin:  {base: 2000 * time.Millisecond, cap: 120 * time.Second},
	model.RoleDoctor: {base: 1500 * time.Millisecond, cap: 90 * time.Second},
}

var defaultBackoff = backoff{base: 1000 * time.Millisecond, cap: 60 * time.Second}

// DelayFor computes the throttle delay for the nth consecutive failure.
func DelayFor(role model.Role, attempts int) time.Duration {
	b, ok := backoffByRole[role]
	if !ok {
		b = defaultBackoff
	}
	if attempts <= 0 {
		return 0
	}

	// 2^(attempts-1) overflows quickly; anything past the cap clamps anyway.
	shift := attempts - 1
	if shift > 30 {
		return b.cap
	}
	delay := b.base << uint(shift)
	if delay > b.cap || delay <= 0 {
		return b.cap
	}
	return delay
}

// Throttle enforces the increasing artificial delay on failed logins. The
// attempt counter is persisted before the delay is applied so a crash during
// the delay window never loses an attempt.
type Throttle struct {
	secRepo repository.LoginSecurityRepository
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewThrottle(secRepo repository.LoginSecurityRepository) *Throttle {
	return &Throttle{
		secRepo: secRepo,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RecordFailure persists the incremented counter, suspends the caller for the
// role-dependent delay and then reports the generic credential failure. The
// ordering is fixed: persist happens-before delay happens-before the error.
func (t *Throttle) RecordFailure(ctx context.Context, account *model.Account) (time.Duration, error) {
	attempts, err := t.secRepo.IncrementFailedAttempts(ctx, account.ID)
	if err != nil {
		return 0, err
	}

	delay := DelayFor(account.Role, attempts)
	t.sleep(ctx, delay)
	return delay, ErrInvalidCredentials
}

// FailUnknown applies the first-attempt default delay for an email with no
// account, so a missing account is indistinguishable from a wrong password.
func (t *Throttle) FailUnknown(ctx context.Context) error {
	t.sleep(ctx, defaultBackoff.base)
	return ErrInvalidCredentials
}

// ResetFailedAttempts zeroes the counter after a successful authentication.
// Skips the write entirely when the counter is already zero.
func (t *Throttle) ResetFailedAttempts(ctx context.Context, accountID uuid.UUID) error {
	sec, err := t.secRepo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if sec.FailedLoginAttempts == 0 {
		return nil
	}
	return t.secRepo.ResetFailedAttempts(ctx, accountID)
}
