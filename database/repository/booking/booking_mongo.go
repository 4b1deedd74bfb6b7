package bookingRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinsched/config"
	"clinsched/database"
	"clinsched/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrSlotTaken is returned when the overlap re-check inside the booking
// transaction finds a competing appointment. Distinct from transport errors
// so callers can route the user back to slot selection.
var ErrSlotTaken = errors.New("slot already booked")

// Repository persists confirmed appointments.
type Repository interface {
	// CreateAppointment writes the appointment transactionally: the provider
	// range is re-checked for overlap inside the transaction, and the lease's
	// lock ID is recorded on the record as the fencing token.
	CreateAppointment(ctx context.Context, appt *models.Appointment) error
}

// MongoBookingRepo implements Repository using MongoDB.
type MongoBookingRepo struct {
	appointmentColl *mongo.Collection
}

// NewMongoBookingRepo constructs a new instance of MongoBookingRepo.
func NewMongoBookingRepo() Repository {
	db := database.MongoClient.Database(config.AppConfig.DatabaseName)
	return &MongoBookingRepo{
		appointmentColl: db.Collection("appointments"),
	}
}

// CreateAppointment implements Repository.
func (repo *MongoBookingRepo) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := repo.appointmentColl.Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnFn := func(sc mongo.SessionContext) error {
		filter := bson.M{
			"clinicId":   appt.ClinicID,
			"providerId": appt.ProviderID,
			"status":     bson.M{"$ne": "cancelled"},
			"start":      bson.M{"$lt": appt.End},
			"end":        bson.M{"$gt": appt.Start},
		}
		n, err := repo.appointmentColl.CountDocuments(sc, filter)
		if err != nil {
			return fmt.Errorf("overlap check failed: %w", err)
		}
		if n > 0 {
			return ErrSlotTaken
		}

		if _, err := repo.appointmentColl.InsertOne(sc, appt); err != nil {
			return fmt.Errorf("insert appointment failed: %w", err)
		}
		return nil
	}

	if err := mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := txnFn(sc); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	}); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return ErrSlotTaken
		}
		return fmt.Errorf("booking transaction failed: %w", err)
	}

	return nil
}
