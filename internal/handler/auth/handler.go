package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/service/auth"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/httputil"
)

type Handler struct {
	svc *auth.Service
}

func NewHandler(svc *auth.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	ar := r.Group("/auth")
	{
		ar.POST("/register", h.Register)
		ar.POST("/login", h.Login)
		ar.POST("/refresh", h.RefreshToken)
		ar.POST("/forgot-password", h.ForgotPassword)
		ar.POST("/reset-password", h.ResetPassword)
		ar.POST("/recover", h.Recover)
	}
}

// RegisterProtectedRoutes mounts the routes that need an authenticated account.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/recovery-codes", h.GenerateRecoveryCodes)
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	account, err := h.svc.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			c.Error(apperrors.Conflict("email already registered", err))
			return
		}
		c.Error(err)
		return
	}

	httputil.RespondWithCreated(c, account)
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), &req)
	if err != nil {
		// Unknown email and wrong password share one message on purpose.
		c.JSON(http.StatusUnauthorized, httputil.NewErrorResponse("invalid credentials"))
		return
	}

	httputil.RespondWithSuccess(c, resp)
}

func (h *Handler) RefreshToken(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	tokens, err := h.svc.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httputil.NewErrorResponse("invalid refresh token"))
		return
	}

	httputil.RespondWithSuccess(c, tokens)
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		c.Error(err)
		return
	}

	// Same body whether or not the email exists.
	httputil.RespondWithSuccess(c, gin.H{"message": "if the email exists, a reset link has been sent"})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req model.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, httputil.NewErrorResponse("invalid or expired reset token"))
			return
		}
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"message": "password updated"})
}

// Recover exchanges a one-time recovery code for a password reset token.
func (h *Handler) Recover(c *gin.Context) {
	var req model.RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.svc.RedeemRecoveryCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			// Unknown email and wrong code share one message on purpose.
			c.JSON(http.StatusUnauthorized, httputil.NewErrorResponse("invalid credentials"))
			return
		}
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, model.RecoverResponse{ResetToken: token})
}

func (h *Handler) GenerateRecoveryCodes(c *gin.Context) {
	codes, err := h.svc.GenerateRecoveryCodes(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, model.RecoveryCodesResponse{Codes: codes})
}
