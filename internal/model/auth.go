package model

import "github.com/google/uuid"

type TokenClaims struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LoginResponse struct {
	Account *Account       `json:"account"`
	Tokens  *TokenResponse `json:"tokens"`
}

type RecoveryCodesResponse struct {
	Codes []string `json:"codes"`
}

type RecoverRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

type RecoverResponse struct {
	ResetToken string `json:"reset_token"`
}
