package token

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/service/queue"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/httputil"
)

type Handler struct {
	svc *queue.Service
}

func NewHandler(svc *queue.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	tokens := r.Group("/tokens")
	{
		tokens.POST("", auth.RequireRole(model.RolePatient, model.RoleAdmin), h.CreateToken)
		tokens.GET("/preview", h.PreviewNext)
		tokens.GET("/my", h.MyTokens)
		tokens.GET("/my/upcoming", h.MyUpcomingTokens)
		tokens.GET("/history", h.History)
		tokens.GET("/:id", h.GetToken)
		tokens.PATCH("/:id/cancel", h.CancelToken)

		doctor := tokens.Group("/doctor", auth.RequireRole(model.RoleDoctor))
		{
			doctor.POST("/call-next", h.CallNext)
			doctor.POST("/complete", h.Complete)
			doctor.POST("/skip", h.Skip)
			doctor.POST("/no-show", h.NoShow)
		}

		dashboard := tokens.Group("/dashboard", auth.RequireRole(model.RoleDoctor, model.RoleAdmin))
		{
			dashboard.GET("/queue-summary", h.QueueSummary)
		}
	}
}

func (h *Handler) CreateToken(c *gin.Context) {
	var req model.CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	// Admins may book on behalf of a patient; patients always book for
	// themselves regardless of what the body says.
	patientID := middleware.AccountID(c)
	if middleware.Role(c) == model.RoleAdmin && req.PatientID != nil {
		patientID = *req.PatientID
	}

	token, err := h.svc.CreateToken(c.Request.Context(), &req, patientID)
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithCreated(c, token)
}

func (h *Handler) PreviewNext(c *gin.Context) {
	departmentID, err := uuid.Parse(c.Query("department_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid department ID"))
		return
	}
	date := c.Query("date")
	if date == "" {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("date is required"))
		return
	}

	preview, err := h.svc.PreviewNext(c.Request.Context(), departmentID, date)
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithSuccess(c, preview)
}

func (h *Handler) MyTokens(c *gin.Context) {
	h.listMine(c, false)
}

func (h *Handler) MyUpcomingTokens(c *gin.Context) {
	h.listMine(c, true)
}

func (h *Handler) listMine(c *gin.Context, upcomingOnly bool) {
	tokens, err := h.svc.MyTokens(c.Request.Context(), middleware.AccountID(c), upcomingOnly)
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}
	httputil.RespondWithSuccess(c, tokens)
}

func (h *Handler) History(c *gin.Context) {
	tokens, err := h.svc.History(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}
	httputil.RespondWithSuccess(c, tokens)
}

func (h *Handler) GetToken(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid token ID"))
		return
	}

	token, err := h.svc.GetToken(c.Request.Context(), id)
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	// Patients only see their own tokens.
	if middleware.Role(c) == model.RolePatient && token.PatientID != middleware.AccountID(c) {
		c.Error(apperrors.Forbidden("token belongs to another patient"))
		return
	}

	httputil.RespondWithSuccess(c, token)
}

func (h *Handler) CancelToken(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid token ID"))
		return
	}

	token, err := h.svc.Cancel(c.Request.Context(), id, middleware.AccountID(c), middleware.Role(c))
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithSuccess(c, token)
}

func (h *Handler) CallNext(c *gin.Context) {
	var req model.CallNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.svc.CallNext(c.Request.Context(), req.DepartmentID, middleware.AccountID(c))
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithSuccess(c, token)
}

func (h *Handler) Complete(c *gin.Context) {
	var req model.CompleteTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	visit, err := h.svc.Complete(c.Request.Context(), &req, middleware.AccountID(c))
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithCreated(c, visit)
}

func (h *Handler) Skip(c *gin.Context) {
	var req model.TokenActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.svc.Skip(c.Request.Context(), req.TokenID, middleware.AccountID(c))
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithSuccess(c, token)
}

func (h *Handler) NoShow(c *gin.Context) {
	var req model.TokenActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.svc.NoShow(c.Request.Context(), req.TokenID, middleware.AccountID(c))
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithSuccess(c, token)
}

func (h *Handler) QueueSummary(c *gin.Context) {
	departmentID, err := uuid.Parse(c.Query("department_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid department ID"))
		return
	}
	date := c.Query("date")

	summary, err := h.svc.QueueSummary(c.Request.Context(), departmentID, date)
	if err != nil {
		c.Error(mapQueueError(err))
		return
	}

	httputil.RespondWithSuccess(c, summary)
}

// mapQueueError translates service sentinels into API error codes.
func mapQueueError(err error) error {
	switch {
	case errors.Is(err, queue.ErrNoPatientsWaiting):
		return apperrors.NotFound("waiting patient", err)
	case errors.Is(err, queue.ErrInvalidStateTransition),
		errors.Is(err, queue.ErrCannotCancelCalledToken),
		errors.Is(err, queue.ErrDepartmentClosed):
		return apperrors.Conflict(err.Error(), err)
	case errors.Is(err, queue.ErrNotCallingDoctor),
		errors.Is(err, queue.ErrNotTokenOwner):
		return apperrors.Forbidden(err.Error())
	case errors.Is(err, queue.ErrPastDate):
		return apperrors.BadRequest(err.Error(), err)
	default:
		return err
	}
}
