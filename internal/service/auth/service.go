package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/email"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/pkg/auth"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/metrics"
	"github.com/jwalitptl/queue-api/pkg/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

type Config struct {
	BcryptCost        int
	RecoveryCodeCount int
	ResetTokenExpiry  time.Duration
}

type Service struct {
	accountRepo  repository.AccountRepository
	recoveryRepo repository.RecoveryCodeRepository
	resetRepo    repository.PasswordResetRepository
	throttle     *Throttle
	jwtSvc       auth.JWTService
	hasher       security.PasswordHasher
	emailSvc     email.Service
	logger       *logger.Logger
	metrics      *metrics.Metrics
	cfg          Config
}

func NewService(
	accountRepo repository.AccountRepository,
	recoveryRepo repository.RecoveryCodeRepository,
	resetRepo repository.PasswordResetRepository,
	throttle *Throttle,
	jwtSvc auth.JWTService,
	emailSvc email.Service,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	cfg Config,
) *Service {
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = security.DefaultCodeCount
	}
	if cfg.ResetTokenExpiry <= 0 {
		cfg.ResetTokenExpiry = time.Hour
	}
	return &Service{
		accountRepo:  accountRepo,
		recoveryRepo: recoveryRepo,
		resetRepo:    resetRepo,
		throttle:     throttle,
		jwtSvc:       jwtSvc,
		hasher:       security.NewBcryptHasher(cfg.BcryptCost),
		emailSvc:     emailSvc,
		logger:       logger,
		metrics:      metrics,
		cfg:          cfg,
	}
}

func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*model.Account, error) {
	if existing, _ := s.accountRepo.GetByEmail(ctx, req.Email); existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &model.Account{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Role:         model.RolePatient,
		PasswordHash: hash,
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account registered", "account_id", account.ID.String(), "role", string(account.Role))
	return account, nil
}

// Login authenticates an account. Every failure path goes through the
// throttle, so wrong password and unknown email are indistinguishable to the
// caller in both response and timing shape.
func (s *Service) Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error) {
	account, err := s.accountRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		s.metrics.LoginFailures.Inc()
		return nil, s.throttle.FailUnknown(ctx)
	}

	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		s.metrics.LoginFailures.Inc()
		delay, ferr := s.throttle.RecordFailure(ctx, account)
		s.metrics.LoginDelay.Observe(delay.Seconds())
		if !errors.Is(ferr, ErrInvalidCredentials) {
			return nil, fmt.Errorf("failed to record login failure: %w", ferr)
		}
		return nil, ferr
	}

	if err := s.throttle.ResetFailedAttempts(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("failed to reset login attempts: %w", err)
	}

	now := time.Now()
	account.LastLoginAt = &now
	if err := s.accountRepo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update login timestamp: %w", err)
	}

	tokens, err := s.generateTokens(account)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return &model.LoginResponse{Account: account, Tokens: tokens}, nil
}

func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	claims, err := s.jwtSvc.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	account, err := s.accountRepo.Get(ctx, claims.AccountID)
	if err != nil {
		return nil, fmt.Errorf("account not found: %w", err)
	}

	return s.generateTokens(account)
}

func (s *Service) ValidateToken(ctx context.Context, token string) (*model.TokenClaims, error) {
	return s.jwtSvc.ValidateToken(token)
}

// GenerateRecoveryCodes replaces the account's recovery codes and returns the
// plain codes. This is the only moment the plain codes exist.
func (s *Service) GenerateRecoveryCodes(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	codes, err := security.GenerateRecoveryCodes(s.cfg.RecoveryCodeCount)
	if err != nil {
		return nil, err
	}

	if err := s.recoveryRepo.Replace(ctx, accountID, codes.Hashed); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}

	s.logger.Info("recovery codes regenerated", "account_id", accountID.String())
	return codes.Plain, nil
}

// RedeemRecoveryCode burns one recovery code in exchange for a password reset
// token. Failures are throttled like login failures, and unknown email and
// wrong code are indistinguishable to the caller.
func (s *Service) RedeemRecoveryCode(ctx context.Context, emailAddr, code string) (string, error) {
	account, err := s.accountRepo.GetByEmail(ctx, emailAddr)
	if err != nil {
		s.metrics.LoginFailures.Inc()
		return "", s.throttle.FailUnknown(ctx)
	}

	stored, err := s.recoveryRepo.ListActive(ctx, account.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list recovery codes: %w", err)
	}

	var matched *model.RecoveryCode
	for _, rc := range stored {
		if security.VerifyRecoveryCode(rc.CodeHash, code) {
			matched = rc
			break
		}
	}
	if matched == nil {
		s.metrics.LoginFailures.Inc()
		delay, ferr := s.throttle.RecordFailure(ctx, account)
		s.metrics.LoginDelay.Observe(delay.Seconds())
		if !errors.Is(ferr, ErrInvalidCredentials) {
			return "", fmt.Errorf("failed to record recovery failure: %w", ferr)
		}
		return "", ferr
	}

	if err := s.recoveryRepo.MarkUsed(ctx, matched.ID); err != nil {
		return "", fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if err := s.throttle.ResetFailedAttempts(ctx, account.ID); err != nil {
		return "", fmt.Errorf("failed to reset login attempts: %w", err)
	}

	token := uuid.New().String()
	expiry := time.Now().Add(s.cfg.ResetTokenExpiry)
	if err := s.resetRepo.Store(ctx, account.ID, token, expiry); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	s.logger.Info("recovery code redeemed", "account_id", account.ID.String())
	return token, nil
}

func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	account, err := s.accountRepo.GetByEmail(ctx, emailAddr)
	if err != nil {
		// Do not reveal whether the account exists.
		return nil
	}

	token := uuid.New().String()
	expiry := time.Now().Add(s.cfg.ResetTokenExpiry)
	if err := s.resetRepo.Store(ctx, account.ID, token, expiry); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if err := s.emailSvc.SendPasswordReset(ctx, account.Email, token); err != nil {
		s.logger.Error(err, "failed to send reset email", "account_id", account.ID.String())
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	accountID, err := s.resetRepo.Consume(ctx, token)
	if err != nil {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.accountRepo.UpdatePassword(ctx, accountID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password reset", "account_id", accountID.String())
	return nil
}

func (s *Service) generateTokens(account *model.Account) (*model.TokenResponse, error) {
	accessToken, err := s.jwtSvc.GenerateAccessToken(account)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.jwtSvc.GenerateRefreshToken(account)
	if err != nil {
		return nil, err
	}

	return &model.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
