package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	bookingRepo "clinsched/database/repository/booking"
	"clinsched/middleware"
	"clinsched/models"
	"clinsched/services/booking"
	"clinsched/services/lease"
	"clinsched/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BookingHandler exposes the booking wizard. Every endpoint resolves the
// session from the X-Session-ID header and the optional verified identity
// from the bearer token; nothing is held in server-side request state.
type BookingHandler struct {
	Controller *booking.Controller
	Logger     *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(ctrl *booking.Controller, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{Controller: ctrl, Logger: logger}
}

// Start opens a new wizard for the session.
func (h *BookingHandler) Start(c *gin.Context) {
	clinicID := c.Param("clinicId")

	draft, err := h.Controller.Start(c.Request.Context(), clinicID, middleware.SessionID(c), middleware.UserID(c))
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to start booking session", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft})
}

type chooseServiceRequest struct {
	ServiceID string `json:"serviceId" binding:"required"`
}

// ChooseService records the service selection.
func (h *BookingHandler) ChooseService(c *gin.Context) {
	var req chooseServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	draft, err := h.Controller.ChooseService(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c), req.ServiceID)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft})
}

type chooseProviderRequest struct {
	ProviderID string    `json:"providerId" binding:"required"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// ChooseProvider records the provider selection and returns fresh slots.
func (h *BookingHandler) ChooseProvider(c *gin.Context) {
	var req chooseProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}
	if req.From.IsZero() {
		req.From = time.Now().UTC()
	}
	if req.To.IsZero() {
		req.To = req.From.AddDate(0, 0, 7)
	}

	page, err := h.Controller.ChooseProvider(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c), req.ProviderID, req.From, req.To)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type chooseSlotRequest struct {
	SlotStart time.Time `json:"slotStart" binding:"required"`
}

// ChooseSlot leases the selected slot. A 409 response includes refreshed
// availability so the client re-renders before prompting re-selection.
func (h *BookingHandler) ChooseSlot(c *gin.Context) {
	var req chooseSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	page, err := h.Controller.ChooseSlot(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c), req.SlotStart)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}
	if page.Conflict {
		c.JSON(http.StatusConflict, page)
		return
	}
	c.JSON(http.StatusOK, page)
}

// KeepAlive extends the held lease while the wizard stays open.
func (h *BookingHandler) KeepAlive(c *gin.Context) {
	grant, err := h.Controller.KeepAlive(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c))
	if err != nil {
		switch {
		case errors.Is(err, lease.ErrNotFound), errors.Is(err, lease.ErrExpired), errors.Is(err, lease.ErrNotOwner):
			// The wizard has already been pushed back to slot selection.
			c.JSON(http.StatusGone, gin.H{"ok": false, "reason": lease.Reason(err)})
		default:
			h.respondFlowError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "expiresAt": grant.ExpiresAt})
}

// RedirectBlob hands the client the opaque draft blob to append to the
// identity-verification return URL.
func (h *BookingHandler) RedirectBlob(c *gin.Context) {
	blob, err := h.Controller.RedirectBlob(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c))
	if err != nil {
		h.respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": blob})
}

// Resume restores the wizard after the redirect returns. The blob may be
// missing or mangled; the controller degrades instead of failing.
func (h *BookingHandler) Resume(c *gin.Context) {
	draft, err := h.Controller.Resume(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c), c.Query("state"), middleware.UserID(c))
	if err != nil {
		h.respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft})
}

type backRequest struct {
	Step models.BookingStep `json:"step" binding:"required"`
}

// Back rewinds the wizard to an earlier step.
func (h *BookingHandler) Back(c *gin.Context) {
	var req backRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	draft, err := h.Controller.Back(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c), req.Step)
	if err != nil {
		h.respondFlowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"draft": draft})
}

type confirmRequest struct {
	PatientID string `json:"patientId"`
	Notes     string `json:"notes"`
}

// Confirm finalizes the booking against the held lease.
func (h *BookingHandler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	appt, err := h.Controller.Confirm(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c), req.PatientID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, lease.ErrExpired), errors.Is(err, lease.ErrNotFound):
			// Recoverable: the held slot lapsed while the user was away.
			c.JSON(http.StatusGone, gin.H{"ok": false, "reason": lease.Reason(err), "step": models.StepSlot})
		case errors.Is(err, bookingRepo.ErrSlotTaken):
			c.JSON(http.StatusConflict, gin.H{"ok": false, "reason": "CONFLICT"})
		default:
			h.respondFlowError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "appointment": appt})
}

// Cancel abandons the wizard and bulk-releases the session's leases.
func (h *BookingHandler) Cancel(c *gin.Context) {
	released, err := h.Controller.Cancel(c.Request.Context(), c.Param("clinicId"), middleware.SessionID(c))
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to cancel booking session", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "released": released})
}

func (h *BookingHandler) respondFlowError(c *gin.Context, err error) {
	var flowErr *booking.FlowError
	switch {
	case errors.Is(err, booking.ErrDraftNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "booking session not found or expired"})
	case errors.As(err, &flowErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": flowErr.Message, "code": flowErr.Code})
	default:
		utils.JSONError(c, http.StatusInternalServerError, "booking operation failed", err.Error())
	}
}
