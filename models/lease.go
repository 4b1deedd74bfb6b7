package models

import "time"

// Lease is a time-bounded, session-owned exclusive claim on a provider/time
// range. At most one active lease may exist for a given provider and
// overlapping range at any instant; that is the property the reservation core
// exists to guarantee. Expiry is passive: a lease whose ExpiresAt has passed
// is treated as non-existent on every read path.
type Lease struct {
	LockID     string    `json:"lockId"`
	ClinicID   string    `json:"clinicId"`
	ProviderID string    `json:"providerId"`
	SlotStart  time.Time `json:"slotStart"`
	SlotEnd    time.Time `json:"slotEnd"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId,omitempty"` // empty for anonymous bookers
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Active reports whether the lease has not yet expired at the given instant.
func (l Lease) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Overlaps reports whether the lease's range intersects [start, end).
func (l Lease) Overlaps(start, end time.Time) bool {
	return l.SlotStart.Before(end) && l.SlotEnd.After(start)
}
