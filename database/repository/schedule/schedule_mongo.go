package scheduleRepo

import (
	"context"
	"fmt"
	"time"

	"clinsched/config"
	"clinsched/database"
	"clinsched/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Repository supplies the read-only inputs to availability computation:
// provider working-hours records and already-booked appointments.
type Repository interface {
	GetProviderSchedule(ctx context.Context, clinicID, providerID string) (*models.ProviderSchedule, error)
	ListBookedIntervals(ctx context.Context, clinicID, providerID string, from, to time.Time) ([]models.BookedInterval, error)
}

// MongoScheduleRepo implements Repository using MongoDB.
type MongoScheduleRepo struct {
	scheduleColl    *mongo.Collection
	appointmentColl *mongo.Collection
}

// NewMongoScheduleRepo constructs a new instance of MongoScheduleRepo.
func NewMongoScheduleRepo() Repository {
	db := database.MongoClient.Database(config.AppConfig.DatabaseName)
	return &MongoScheduleRepo{
		scheduleColl:    db.Collection("schedules"),
		appointmentColl: db.Collection("appointments"),
	}
}

// GetProviderSchedule retrieves the working-hours record for a provider in a clinic.
func (repo *MongoScheduleRepo) GetProviderSchedule(ctx context.Context, clinicID, providerID string) (*models.ProviderSchedule, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var schedule models.ProviderSchedule
	filter := bson.M{"clinicId": clinicID, "providerId": providerID}
	if err := repo.scheduleColl.FindOne(ctx, filter).Decode(&schedule); err != nil {
		return nil, fmt.Errorf("error fetching schedule for provider %s: %w", providerID, err)
	}
	return &schedule, nil
}

// ListBookedIntervals returns the confirmed appointments overlapping [from, to)
// for the provider, projected down to the fields availability needs.
func (repo *MongoScheduleRepo) ListBookedIntervals(ctx context.Context, clinicID, providerID string, from, to time.Time) ([]models.BookedInterval, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"clinicId":   clinicID,
		"providerId": providerID,
		"status":     bson.M{"$ne": "cancelled"},
		"start":      bson.M{"$lt": to},
		"end":        bson.M{"$gt": from},
	}
	cursor, err := repo.appointmentColl.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error fetching booked intervals: %w", err)
	}
	defer cursor.Close(ctx)

	var intervals []models.BookedInterval
	for cursor.Next(ctx) {
		var appt models.Appointment
		if err := cursor.Decode(&appt); err != nil {
			return nil, fmt.Errorf("error decoding appointment: %w", err)
		}
		intervals = append(intervals, models.BookedInterval{
			ProviderID: appt.ProviderID,
			Start:      appt.Start,
			End:        appt.End,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return intervals, nil
}
