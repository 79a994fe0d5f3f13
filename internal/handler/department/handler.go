package department

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/service/department"
	"github.com/jwalitptl/queue-api/pkg/httputil"
)

type Handler struct {
	svc *department.Service
}

func NewHandler(svc *department.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	depts := r.Group("/departments")
	{
		depts.GET("", h.ListDepartments)
		depts.GET("/:id", h.GetDepartment)

		admin := depts.Group("", auth.RequireRole(model.RoleAdmin))
		{
			admin.POST("", h.CreateDepartment)
			admin.PUT("/:id", h.UpdateDepartment)
			admin.PATCH("/:id/toggle", h.ToggleDepartment)
		}
	}
}

func (h *Handler) CreateDepartment(c *gin.Context) {
	var req model.CreateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	dept, err := h.svc.CreateDepartment(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithCreated(c, dept)
}

func (h *Handler) GetDepartment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid department ID"))
		return
	}

	dept, err := h.svc.GetDepartment(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, dept)
}

func (h *Handler) ListDepartments(c *gin.Context) {
	depts, err := h.svc.ListDepartments(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, depts)
}

func (h *Handler) UpdateDepartment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid department ID"))
		return
	}

	var req model.UpdateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse(err.Error()))
		return
	}

	dept, err := h.svc.UpdateDepartment(c.Request.Context(), id, &req)
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, dept)
}

func (h *Handler) ToggleDepartment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.NewErrorResponse("invalid department ID"))
		return
	}

	dept, err := h.svc.ToggleDepartment(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	httputil.RespondWithSuccess(c, dept)
}
