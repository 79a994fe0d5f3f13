package visit

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/service/visit"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/httputil"
)

type Handler struct {
	svc *visit.Service
}

func NewHandler(svc *visit.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	visits := r.Group("/visits")
	{
		visits.GET("/my", auth.RequireRole(model.RolePatient), h.MyVisits)
		visits.GET("/doctor", auth.RequireRole(model.RoleDoctor), h.DoctorVisits)
		visits.GET("/:id", h.GetVisit)
	}
}

func (h *Handler) GetVisit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid visit ID"))
		return
	}

	v, err := h.svc.GetVisit(c.Request.Context(), id, middleware.AccountID(c), middleware.Role(c))
	if err != nil {
		if errors.Is(err, visit.ErrNotVisitParticipant) {
			c.Error(apperrors.Forbidden(err.Error()))
			return
		}
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, v)
}

func (h *Handler) MyVisits(c *gin.Context) {
	visits, err := h.svc.ListByPatient(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, visits)
}

func (h *Handler) DoctorVisits(c *gin.Context) {
	visits, err := h.svc.ListByDoctor(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, visits)
}
