package auth

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/email"
	"github.com/jwalitptl/queue-api/internal/model"
	pkgauth "github.com/jwalitptl/queue-api/pkg/auth"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/metrics"
	"github.com/jwalitptl/queue-api/pkg/security"
)

var testMetrics = metrics.NewMetrics("auth_service_test")

type fakeAccountRepo struct {
	byEmail map[string]*model.Account
	byID    map[uuid.UUID]*model.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{byEmail: map[string]*model.Account{}, byID: map[uuid.UUID]*model.Account{}}
}

func (f *fakeAccountRepo) Create(ctx context.Context, account *model.Account) error {
	account.ID = uuid.New()
	f.byEmail[account.Email] = account
	f.byID[account.ID] = account
	return nil
}

func (f *fakeAccountRepo) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	if a, ok := f.byID[id]; ok {
		return a, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	if a, ok := f.byEmail[email]; ok {
		return a, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAccountRepo) Update(ctx context.Context, account *model.Account) error { return nil }

func (f *fakeAccountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	if a, ok := f.byID[id]; ok {
		a.PasswordHash = passwordHash
	}
	return nil
}

type fakeRecoveryRepo struct {
	hashes  map[uuid.UUID][]string
	records []*model.RecoveryCode
}

func (f *fakeRecoveryRepo) Replace(ctx context.Context, accountID uuid.UUID, hashes []string) error {
	if f.hashes == nil {
		f.hashes = map[uuid.UUID][]string{}
	}
	f.hashes[accountID] = hashes

	kept := f.records[:0]
	for _, rc := range f.records {
		if rc.AccountID != accountID {
			kept = append(kept, rc)
		}
	}
	f.records = kept
	for _, hash := range hashes {
		f.records = append(f.records, &model.RecoveryCode{
			Base:      model.Base{ID: uuid.New()},
			AccountID: accountID,
			CodeHash:  hash,
		})
	}
	return nil
}

func (f *fakeRecoveryRepo) ListActive(ctx context.Context, accountID uuid.UUID) ([]*model.RecoveryCode, error) {
	var active []*model.RecoveryCode
	for _, rc := range f.records {
		if rc.AccountID == accountID && rc.UsedAt == nil {
			active = append(active, rc)
		}
	}
	return active, nil
}

func (f *fakeRecoveryRepo) MarkUsed(ctx context.Context, id uuid.UUID) error {
	for _, rc := range f.records {
		if rc.ID == id {
			if rc.UsedAt != nil {
				return fmt.Errorf("recovery code already used")
			}
			now := time.Now()
			rc.UsedAt = &now
			return nil
		}
	}
	return sql.ErrNoRows
}

type fakeResetRepo struct {
	tokens map[string]uuid.UUID
}

func (f *fakeResetRepo) Store(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	if f.tokens == nil {
		f.tokens = map[string]uuid.UUID{}
	}
	f.tokens[token] = accountID
	return nil
}

func (f *fakeResetRepo) Consume(ctx context.Context, token string) (uuid.UUID, error) {
	id, ok := f.tokens[token]
	if !ok {
		return uuid.Nil, sql.ErrNoRows
	}
	delete(f.tokens, token)
	return id, nil
}

type authFixture struct {
	svc      *Service
	accounts *fakeAccountRepo
	recovery *fakeRecoveryRepo
	resets   *fakeResetRepo
	security *fakeSecurityRepo
	slept    []time.Duration
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	accounts := newFakeAccountRepo()
	recovery := &fakeRecoveryRepo{}
	resets := &fakeResetRepo{}
	secRepo := &fakeSecurityRepo{}

	f := &authFixture{accounts: accounts, recovery: recovery, resets: resets, security: secRepo}

	throttle := NewThrottle(secRepo)
	throttle.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}

	jwtSvc := pkgauth.NewJWTService(pkgauth.JWTConfig{
		Secret:             "test-secret",
		RefreshSecret:      "test-refresh-secret",
		ExpiryHours:        1,
		RefreshExpiryHours: 24,
	})

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel})
	f.svc = NewService(accounts, recovery, resets, throttle, jwtSvc, email.NoopService{},
		log, testMetrics, Config{BcryptCost: 4})
	return f
}

func (f *authFixture) register(t *testing.T, emailAddr, password string) *model.Account {
	t.Helper()
	account, err := f.svc.Register(context.Background(), &model.RegisterRequest{
		Name:     "Test Patient",
		Email:    emailAddr,
		Password: password,
	})
	require.NoError(t, err)
	return account
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	account := f.register(t, "p@example.com", "s3cretpass")
	assert.Equal(t, model.RolePatient, account.Role, "self-registration is always a patient")

	resp, err := f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "s3cretpass"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Tokens.RefreshToken)

	claims, err := f.svc.ValidateToken(ctx, resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
	assert.Equal(t, model.RolePatient, claims.Role)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t, "p@example.com", "s3cretpass")

	_, err := f.svc.Register(context.Background(), &model.RegisterRequest{
		Name:     "Other",
		Email:    "p@example.com",
		Password: "anotherpass",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginWrongPasswordThrottlesAndCounts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "p@example.com", "s3cretpass")

	for i := 1; i <= 3; i++ {
		_, err := f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, i, f.security.attempts)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.slept)

	// A successful login clears the counter.
	_, err := f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "s3cretpass"})
	require.NoError(t, err)
	assert.Zero(t, f.security.attempts)
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), &model.LoginRequest{Email: "ghost@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, []time.Duration{time.Second}, f.slept, "unknown accounts get the first-failure delay")
	assert.Zero(t, f.security.incCalls, "nothing to persist for unknown accounts")
}

func TestRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "p@example.com", "s3cretpass")

	resp, err := f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "s3cretpass"})
	require.NoError(t, err)

	tokens, err := f.svc.RefreshToken(ctx, resp.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)

	_, err = f.svc.RefreshToken(ctx, resp.Tokens.AccessToken)
	assert.Error(t, err, "an access token must not pass as a refresh token")
}

func TestGenerateRecoveryCodesStoresOnlyHashes(t *testing.T) {
	f := newAuthFixture(t)
	account := f.register(t, "p@example.com", "s3cretpass")

	plain, err := f.svc.GenerateRecoveryCodes(context.Background(), account.ID)
	require.NoError(t, err)
	require.Len(t, plain, security.DefaultCodeCount)

	stored := f.recovery.hashes[account.ID]
	require.Len(t, stored, security.DefaultCodeCount)
	for i, code := range plain {
		assert.NotEqual(t, code, stored[i])
		assert.True(t, security.VerifyRecoveryCode(stored[i], code))
	}
}

func TestRedeemRecoveryCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "p@example.com", "s3cretpass")

	plain, err := f.svc.GenerateRecoveryCodes(context.Background(),
		f.accounts.byEmail["p@example.com"].ID)
	require.NoError(t, err)

	resetToken, err := f.svc.RedeemRecoveryCode(ctx, "p@example.com", plain[0])
	require.NoError(t, err)
	require.NotEmpty(t, resetToken)

	// The reset token it hands out is a real one.
	require.NoError(t, f.svc.ResetPassword(ctx, resetToken, "newpassword"))
	_, err = f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "newpassword"})
	assert.NoError(t, err)
}

func TestRedeemRecoveryCodeIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "p@example.com", "s3cretpass")

	plain, err := f.svc.GenerateRecoveryCodes(ctx, f.accounts.byEmail["p@example.com"].ID)
	require.NoError(t, err)

	_, err = f.svc.RedeemRecoveryCode(ctx, "p@example.com", plain[0])
	require.NoError(t, err)

	_, err = f.svc.RedeemRecoveryCode(ctx, "p@example.com", plain[0])
	assert.ErrorIs(t, err, ErrInvalidCredentials, "a burned code must not redeem again")

	_, err = f.svc.RedeemRecoveryCode(ctx, "p@example.com", plain[1])
	assert.NoError(t, err, "the remaining codes stay valid")
}

func TestRedeemRecoveryCodeFailuresAreThrottled(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "p@example.com", "s3cretpass")

	_, err := f.svc.RedeemRecoveryCode(ctx, "p@example.com", "0000-0000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.RedeemRecoveryCode(ctx, "p@example.com", "0000-0000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.slept)

	// Unknown email gets the first-failure delay and no persisted counter,
	// same as login.
	f.slept = nil
	_, err = f.svc.RedeemRecoveryCode(ctx, "ghost@example.com", "0000-0000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, []time.Duration{time.Second}, f.slept)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.register(t, "p@example.com", "s3cretpass")

	require.NoError(t, f.svc.ForgotPassword(ctx, "p@example.com"))
	require.Len(t, f.resets.tokens, 1)

	var token string
	for tok := range f.resets.tokens {
		token = tok
	}

	require.NoError(t, f.svc.ResetPassword(ctx, token, "newpassword"))

	_, err := f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "s3cretpass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, &model.LoginRequest{Email: "p@example.com", Password: "newpassword"})
	assert.NoError(t, err)

	// Tokens are single-use.
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "again"), ErrInvalidCredentials)
}

func TestForgotPasswordHidesUnknownEmails(t *testing.T) {
	f := newAuthFixture(t)
	assert.NoError(t, f.svc.ForgotPassword(context.Background(), "ghost@example.com"))
	assert.Empty(t, f.resets.tokens)
}
