package lease

import (
	"context"
	"errors"
	"time"

	"clinsched/models"
)

// Lock contention and ownership problems are first-class, expected results,
// not exceptional conditions. Callers branch on these with errors.Is; the
// HTTP layer maps them to stable reason codes.
var (
	// ErrConflict means another active lease overlaps the requested range,
	// regardless of which session holds it. First acquirer wins; there is no
	// queueing and no retry inside the manager.
	ErrConflict = errors.New("slot already held")
	// ErrNotFound means no lease exists under the lock ID. Routine: the lock
	// most likely expired and was swept.
	ErrNotFound = errors.New("lease not found")
	// ErrNotOwner means the lease exists but belongs to a different session.
	// Unlike ErrNotFound this usually indicates a stale client worth logging.
	ErrNotOwner = errors.New("lease held by another session")
	// ErrExpired means the lease exists but its TTL has lapsed.
	ErrExpired = errors.New("lease expired")
)

// Reason maps a manager error to the stable code exposed on the wire.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, ErrExpired):
		return "EXPIRED"
	default:
		return "INTERNAL"
	}
}

// AcquireRequest identifies the slot being claimed and who is claiming it.
// UserID may be empty: public booking flows hold slots before the patient has
// verified their identity, and ownership is then checked purely by the
// client-generated session token.
type AcquireRequest struct {
	ClinicID   string
	ProviderID string
	SlotStart  time.Time
	SlotEnd    time.Time
	SessionID  string
	UserID     string
}

// Grant is the successful result of Acquire or Extend.
type Grant struct {
	LockID    string    `json:"lockId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Manager owns the lease lifecycle for slot reservations. All mutation is
// serialized per (clinic, provider) key so unrelated providers never contend;
// reads may run with arbitrary parallelism. Every operation completes in a
// single storage round trip and treats a lease past its expiry as
// non-existent.
type Manager interface {
	// Acquire claims [SlotStart, SlotEnd) for the session. Fails with
	// ErrConflict while any overlapping lease for the provider is active,
	// even one seconds from expiring.
	Acquire(ctx context.Context, req AcquireRequest) (*Grant, error)

	// Extend resets the TTL from now; it does not accumulate. Only the
	// holding session may extend.
	Extend(ctx context.Context, lockID, sessionID string) (*Grant, error)

	// Release removes the lease. Releasing an absent or already-expired lock
	// is a no-op success so that network retries stay harmless.
	Release(ctx context.Context, lockID, sessionID string) error

	// ReleaseAllForSession drops every lease the session holds in the clinic
	// and returns how many active ones were dropped. Zero leases is not an
	// error; this backs the tab-close beacon and explicit cancel.
	ReleaseAllForSession(ctx context.Context, clinicID, sessionID string) (int, error)

	// Validate returns the lease if it is active and owned by the session.
	// Used as the fencing check at confirm time.
	Validate(ctx context.Context, lockID, sessionID string) (*models.Lease, error)

	// ActiveForProvider snapshots the active leases feeding availability
	// computation.
	ActiveForProvider(ctx context.Context, clinicID, providerID string) ([]models.Lease, error)

	// Sweep prunes expired entries for storage hygiene. Correctness never
	// depends on it; expiry is enforced on every read path.
	Sweep(ctx context.Context) (int, error)
}
