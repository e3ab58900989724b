package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consultease/central/internal/service"
	appErrors "github.com/consultease/central/pkg/errors"
	"github.com/consultease/central/pkg/response"
)

// BadgeHandler resolves badge scans submitted by identity units.
type BadgeHandler struct {
	badges *service.BadgeService
}

// NewBadgeHandler constructs BadgeHandler.
func NewBadgeHandler(badges *service.BadgeService) *BadgeHandler {
	return &BadgeHandler{badges: badges}
}

// Lookup resolves a badge UID to a student.
func (h *BadgeHandler) Lookup(c *gin.Context) {
	student, err := h.badges.Lookup(c.Request.Context(), c.Param("uid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if student == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no student registered for badge"))
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

type badgeReadRequest struct {
	BadgeUID string `json:"badge_uid" binding:"required"`
}

// Read reports a physical badge scan: resolves the student and fires the
// registered read callbacks. An unregistered badge is a 200 with a null
// student so units can show "unknown badge" without special-casing errors.
func (h *BadgeHandler) Read(c *gin.Context) {
	var req badgeReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid badge payload"))
		return
	}
	student, err := h.badges.HandleBadgeRead(c.Request.Context(), req.BadgeUID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"badge_uid": req.BadgeUID, "student": student}, nil)
}

// RefreshCache forces a full reload of the badge cache.
func (h *BadgeHandler) RefreshCache(c *gin.Context) {
	if err := h.badges.Refresh(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"entries": h.badges.Size()}, nil)
}
