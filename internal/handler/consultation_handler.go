package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consultease/central/internal/middleware"
	"github.com/consultease/central/internal/models"
	"github.com/consultease/central/internal/service"
	appErrors "github.com/consultease/central/pkg/errors"
	"github.com/consultease/central/pkg/response"
)

// ConsultationHandler exposes the consultation lifecycle over HTTP. Student
// identity units submit requests and cancellations; desk units drive the
// faculty-side transitions; operators use the same transition endpoint with
// a JWT.
type ConsultationHandler struct {
	consultations *service.ConsultationService
}

// NewConsultationHandler constructs ConsultationHandler.
func NewConsultationHandler(consultations *service.ConsultationService) *ConsultationHandler {
	return &ConsultationHandler{consultations: consultations}
}

// List returns consultations filtered by student, faculty, and status.
func (h *ConsultationHandler) List(c *gin.Context) {
	var filter models.ConsultationFilter
	filter.StudentID = c.Query("student_id")
	filter.FacultyID = c.Query("faculty_id")
	filter.Status = models.ConsultationStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	consultations, pagination, err := h.consultations.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, consultations, pagination)
}

// Get returns one consultation with joined display data.
func (h *ConsultationHandler) Get(c *gin.Context) {
	detail, err := h.consultations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create submits a new consultation request.
func (h *ConsultationHandler) Create(c *gin.Context) {
	var req service.CreateConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.consultations.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

type transitionRequest struct {
	Status    models.ConsultationStatus `json:"status" binding:"required"`
	ActorRole service.ActorRole         `json:"actor_role"`
	ActorID   string                    `json:"actor_id"`
}

// UpdateStatus moves a consultation through its lifecycle. Devices identify
// the acting party in the payload; an operator session overrides both.
func (h *ConsultationHandler) UpdateStatus(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}

	actor := service.Actor{Role: req.ActorRole, ID: req.ActorID}
	if claims, ok := middleware.CurrentUser(c); ok {
		actor = service.Actor{Role: service.ActorOperator, ID: claims.UserID}
	}
	if actor.Role == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "actor_role is required"))
		return
	}

	detail, err := h.consultations.Transition(c.Request.Context(), c.Param("id"), req.Status, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
