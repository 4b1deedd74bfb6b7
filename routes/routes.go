package routes

import (
	"net/http"
	"time"

	"clinsched/handlers"
	"clinsched/middleware"
	"clinsched/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups the handlers the router wires up.
type HandlerBundle struct {
	Availability *handlers.AvailabilityHandler
	Lease        *handlers.LeaseHandler
	Booking      *handlers.BookingHandler
}

// RegisterRoutes attaches all API routes to the router.
func RegisterRoutes(r *gin.Engine, hb *HandlerBundle) {
	r.Use(utils.ErrorHandler())
	r.Use(middleware.RateLimitMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.SessionHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Availability queries are anonymous reads.
	avail := r.Group("/api/clinics/:clinicId/providers/:providerId/availability")
	{
		avail.GET("", hb.Availability.GetAvailability)
		avail.GET("/days", hb.Availability.GetDayAvailability)
	}

	// Lease operations require a session token; identity stays optional so
	// anonymous bookers can hold slots before verification.
	leases := r.Group("/api/leases")
	leases.Use(middleware.RequireSession(), middleware.OptionalIdentity())
	{
		leases.POST("", hb.Lease.Acquire)
		leases.POST("/:lockId/extend", hb.Lease.Extend)
		leases.DELETE("/:lockId", hb.Lease.Release)
		// Bulk release backs the tab-close beacon.
		leases.DELETE("", hb.Lease.ReleaseAll)
	}

	wizard := r.Group("/api/clinics/:clinicId/booking")
	wizard.Use(middleware.RequireSession(), middleware.OptionalIdentity())
	{
		wizard.POST("", hb.Booking.Start)
		wizard.PATCH("/service", hb.Booking.ChooseService)
		wizard.PATCH("/provider", hb.Booking.ChooseProvider)
		wizard.PATCH("/slot", hb.Booking.ChooseSlot)
		wizard.POST("/keepalive", hb.Booking.KeepAlive)
		wizard.POST("/redirect", hb.Booking.RedirectBlob)
		wizard.GET("/resume", hb.Booking.Resume)
		wizard.PATCH("/back", hb.Booking.Back)
		wizard.POST("/confirm", hb.Booking.Confirm)
		wizard.DELETE("", hb.Booking.Cancel)
	}
}
