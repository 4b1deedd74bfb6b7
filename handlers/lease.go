package handlers

import (
	"errors"
	"net/http"
	"time"

	"clinsched/middleware"
	"clinsched/services/lease"
	"clinsched/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LeaseHandler exposes the slot lease lifecycle. Results mirror the manager's
// contract: conflicts and ownership problems come back as structured reasons,
// not generic failures, so clients can branch without parsing messages.
type LeaseHandler struct {
	Manager lease.Manager
	Logger  *zap.Logger
}

// NewLeaseHandler constructs a LeaseHandler.
func NewLeaseHandler(mgr lease.Manager, logger *zap.Logger) *LeaseHandler {
	return &LeaseHandler{Manager: mgr, Logger: logger}
}

type acquireRequest struct {
	ClinicID   string    `json:"clinicId" binding:"required"`
	ProviderID string    `json:"providerId" binding:"required"`
	SlotStart  time.Time `json:"slotStart" binding:"required"`
	SlotEnd    time.Time `json:"slotEnd" binding:"required"`
}

// Acquire claims a slot for the calling session.
func (h *LeaseHandler) Acquire(c *gin.Context) {
	var req acquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}
	if !req.SlotStart.Before(req.SlotEnd) {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", "slotStart must precede slotEnd")
		return
	}

	grant, err := h.Manager.Acquire(c.Request.Context(), lease.AcquireRequest{
		ClinicID:   req.ClinicID,
		ProviderID: req.ProviderID,
		SlotStart:  req.SlotStart,
		SlotEnd:    req.SlotEnd,
		SessionID:  middleware.SessionID(c),
		UserID:     middleware.UserID(c),
	})
	if errors.Is(err, lease.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "reason": lease.Reason(err)})
		return
	}
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to acquire lease", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "lockId": grant.LockID, "expiresAt": grant.ExpiresAt})
}

// Extend resets the lease TTL for the holding session.
func (h *LeaseHandler) Extend(c *gin.Context) {
	lockID := c.Param("lockId")

	grant, err := h.Manager.Extend(c.Request.Context(), lockID, middleware.SessionID(c))
	if err != nil {
		h.respondLeaseError(c, lockID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "expiresAt": grant.ExpiresAt})
}

// Release drops a single lease. Double release is a success by contract.
func (h *LeaseHandler) Release(c *gin.Context) {
	lockID := c.Param("lockId")

	if err := h.Manager.Release(c.Request.Context(), lockID, middleware.SessionID(c)); err != nil {
		h.respondLeaseError(c, lockID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ReleaseAll drops every lease the session holds in a clinic. Wired to the
// tab-close beacon and to explicit cancel, so it must succeed on zero leases.
func (h *LeaseHandler) ReleaseAll(c *gin.Context) {
	clinicID := c.Query("clinicId")
	if clinicID == "" {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", "clinicId query parameter is required")
		return
	}

	count, err := h.Manager.ReleaseAllForSession(c.Request.Context(), clinicID, middleware.SessionID(c))
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to release session leases", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "released": count})
}

func (h *LeaseHandler) respondLeaseError(c *gin.Context, lockID string, err error) {
	switch {
	case errors.Is(err, lease.ErrNotFound), errors.Is(err, lease.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"ok": false, "reason": lease.Reason(err)})
	case errors.Is(err, lease.ErrNotOwner):
		// Ownership violations point at a stale or buggy client; log them
		// distinctly from routine expiry.
		h.Logger.Warn("lease ownership violation",
			zap.String("lockId", lockID), zap.String("sessionId", middleware.SessionID(c)))
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "reason": lease.Reason(err)})
	default:
		utils.JSONError(c, http.StatusInternalServerError, "lease operation failed", err.Error())
	}
}
