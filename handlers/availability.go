package handlers

import (
	"net/http"
	"time"

	"clinsched/services/booking"
	"clinsched/utils"

	"github.com/gin-gonic/gin"
)

// AvailabilityHandler serves slot candidates and day-level summaries.
type AvailabilityHandler struct {
	Controller *booking.Controller
}

// NewAvailabilityHandler constructs an AvailabilityHandler.
func NewAvailabilityHandler(ctrl *booking.Controller) *AvailabilityHandler {
	return &AvailabilityHandler{Controller: ctrl}
}

// parseRange reads the from/to query params (RFC 3339). A missing range
// defaults to the next seven days.
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from, to := now, now.AddDate(0, 0, 7)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, "invalid 'from' timestamp", err.Error())
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, "invalid 'to' timestamp", err.Error())
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	return from, to, true
}

// GetAvailability returns the ordered slot list for a provider.
func (h *AvailabilityHandler) GetAvailability(c *gin.Context) {
	clinicID := c.Param("clinicId")
	providerID := c.Param("providerId")

	from, to, ok := parseRange(c)
	if !ok {
		return
	}

	slots, err := h.Controller.Availability(c.Request.Context(), clinicID, providerID, from, to)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to compute availability", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"providerId": providerID, "slots": slots})
}

// GetDayAvailability returns per-date open-slot buckets for calendar cells.
func (h *AvailabilityHandler) GetDayAvailability(c *gin.Context) {
	clinicID := c.Param("clinicId")
	providerID := c.Param("providerId")

	from, to, ok := parseRange(c)
	if !ok {
		return
	}

	days, err := h.Controller.DayAvailability(c.Request.Context(), clinicID, providerID, from, to)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to compute day availability", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"providerId": providerID, "days": days})
}
