package models

import "time"

// Appointment is a confirmed booking occupying provider time. Start and End
// are absolute instants (stored UTC); immutable once created except by
// cancellation, which is handled outside the reservation core.
type Appointment struct {
	ID         string    `bson:"id" json:"id"`
	ClinicID   string    `bson:"clinicId" json:"clinicId"`
	ProviderID string    `bson:"providerId" json:"providerId"`
	ServiceID  string    `bson:"serviceId" json:"serviceId"`
	PatientID  string    `bson:"patientId,omitempty" json:"patientId,omitempty"`
	SessionID  string    `bson:"sessionId" json:"sessionId"`
	Start      time.Time `bson:"start" json:"start"`
	End        time.Time `bson:"end" json:"end"`
	LockID     string    `bson:"lockId" json:"lockId"` // fencing token from the lease used at confirm time
	Notes      string    `bson:"notes,omitempty" json:"notes,omitempty"`
	Status     string    `bson:"status" json:"status"` // e.g. "confirmed", "cancelled"
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

// BookedInterval is the read-side projection of an appointment consumed by
// availability computation.
type BookedInterval struct {
	ProviderID string    `bson:"providerId" json:"providerId"`
	Start      time.Time `bson:"start" json:"start"`
	End        time.Time `bson:"end" json:"end"`
}

// Overlaps reports whether the interval intersects [start, end).
func (b BookedInterval) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && b.End.After(start)
}
