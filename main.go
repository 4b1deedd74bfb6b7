// File: clinsched/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinsched/config"
	"clinsched/cron"
	"clinsched/database"
	bookingRepo "clinsched/database/repository/booking"
	scheduleRepo "clinsched/database/repository/schedule"
	"clinsched/handlers"
	"clinsched/routes"
	"clinsched/services/booking"
	"clinsched/services/lease"
	"clinsched/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()

	database.InitDB()
	utils.InitRedis()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// Repositories.
	schedules := scheduleRepo.NewMongoScheduleRepo()
	bookings := bookingRepo.NewMongoBookingRepo()

	// Reservation core.
	leaseTTL := time.Duration(config.AppConfig.LeaseTTLMinutes) * time.Minute
	draftTTL := time.Duration(config.AppConfig.DraftTTLMinutes) * time.Minute
	leaseManager := lease.NewRedisManager(utils.GetLeaseCacheClient(), leaseTTL)
	draftStore := booking.NewRedisDraftStore(utils.GetDraftCacheClient(), draftTTL)

	controller := &booking.Controller{
		Schedules:               schedules,
		Bookings:                bookings,
		Leases:                  leaseManager,
		Drafts:                  draftStore,
		Logger:                  logger,
		SlotDuration:            time.Duration(config.AppConfig.SlotDurationMinutes) * time.Minute,
		RequireVerifiedIdentity: true,
	}

	// Assemble the handler bundle.
	handlerBundle := &routes.HandlerBundle{
		Availability: handlers.NewAvailabilityHandler(controller),
		Lease:        handlers.NewLeaseHandler(leaseManager, logger),
		Booking:      handlers.NewBookingHandler(controller, logger),
	}

	routes.RegisterRoutes(router, handlerBundle)

	// Background reclamation of expired lease records.
	cron.InitLeaseSweeper(leaseManager)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Fatalf("main: server forced to shutdown: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
