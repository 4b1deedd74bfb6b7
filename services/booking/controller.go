package booking

import (
	"context"
	"errors"
	"time"

	bookingRepo "clinsched/database/repository/booking"
	scheduleRepo "clinsched/database/repository/schedule"
	"clinsched/models"
	"clinsched/services/availability"
	"clinsched/services/lease"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Controller drives the booking wizard: service, provider, slot, optional
// identity verification, confirm. Its entire state is the serializable
// BookingDraft, so the machine survives an identity-verification redirect and
// is independent of any rendering layer. Session and user identity are
// explicit parameters on every call; there is no implicit request context.
type Controller struct {
	Schedules scheduleRepo.Repository
	Bookings  bookingRepo.Repository
	Leases    lease.Manager
	Drafts    DraftStore
	Logger    *zap.Logger

	// SlotDuration is the clinic's slot granularity.
	SlotDuration time.Duration
	// RequireVerifiedIdentity gates the confirm step for anonymous sessions.
	RequireVerifiedIdentity bool
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// SlotPage is returned from every call that refreshes slot candidates.
type SlotPage struct {
	Draft    models.BookingDraft `json:"draft"`
	Slots    []models.Slot       `json:"slots,omitempty"`
	Conflict bool                `json:"conflict,omitempty"`
}

// Start opens a new wizard for the session, replacing any prior draft.
func (c *Controller) Start(ctx context.Context, clinicID, sessionID, userID string) (*models.BookingDraft, error) {
	draft := models.BookingDraft{
		ClinicID:  clinicID,
		SessionID: sessionID,
		UserID:    userID,
		Step:      models.StepService,
		UpdatedAt: c.now(),
	}
	if err := c.Drafts.Set(ctx, DraftKey(clinicID, sessionID), draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (c *Controller) load(ctx context.Context, clinicID, sessionID string) (*models.BookingDraft, error) {
	return c.Drafts.Get(ctx, DraftKey(clinicID, sessionID))
}

func (c *Controller) save(ctx context.Context, draft *models.BookingDraft) error {
	draft.UpdatedAt = c.now()
	return c.Drafts.Set(ctx, DraftKey(draft.ClinicID, draft.SessionID), *draft)
}

// ChooseService records the service and advances to provider selection.
func (c *Controller) ChooseService(ctx context.Context, clinicID, sessionID, serviceID string) (*models.BookingDraft, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return nil, err
	}
	if serviceID == "" {
		return nil, NewFlowError("missing_service", "a service must be selected")
	}
	draft.ServiceID = serviceID
	draft.Step = models.StepProvider
	if err := c.save(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// ChooseProvider records the provider, advances to slot selection, and
// returns the provider's current availability for the coming window.
func (c *Controller) ChooseProvider(ctx context.Context, clinicID, sessionID, providerID string, from, to time.Time) (*SlotPage, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return nil, err
	}
	if draft.ServiceID == "" {
		return nil, NewFlowError("missing_service", "select a service before a provider")
	}
	draft.ProviderID = providerID
	draft.Step = models.StepSlot

	slots, err := c.Availability(ctx, clinicID, providerID, from, to)
	if err != nil {
		return nil, err
	}
	if err := c.save(ctx, draft); err != nil {
		return nil, err
	}
	return &SlotPage{Draft: *draft, Slots: slots}, nil
}

// Availability recomputes the provider's slot candidates from the schedule,
// booked intervals, and active leases. Pull model: callers re-invoke this
// after any mutating event instead of subscribing to pushes.
func (c *Controller) Availability(ctx context.Context, clinicID, providerID string, from, to time.Time) ([]models.Slot, error) {
	calc, err := c.calculator(ctx, clinicID, providerID, from, to)
	if err != nil {
		return nil, err
	}
	return calc.Compute(), nil
}

// DayAvailability reduces the same slot sequence into per-date buckets for
// calendar-cell highlighting, so the two views can never diverge.
func (c *Controller) DayAvailability(ctx context.Context, clinicID, providerID string, from, to time.Time) ([]models.DaySummary, error) {
	calc, err := c.calculator(ctx, clinicID, providerID, from, to)
	if err != nil {
		return nil, err
	}
	return calc.DaySummaries(), nil
}

func (c *Controller) calculator(ctx context.Context, clinicID, providerID string, from, to time.Time) (availability.Calculator, error) {
	schedule, err := c.Schedules.GetProviderSchedule(ctx, clinicID, providerID)
	if err != nil {
		return availability.Calculator{}, err
	}
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		loc = time.UTC
	}
	booked, err := c.Schedules.ListBookedIntervals(ctx, clinicID, providerID, from, to)
	if err != nil {
		return availability.Calculator{}, err
	}
	leases, err := c.Leases.ActiveForProvider(ctx, clinicID, providerID)
	if err != nil {
		return availability.Calculator{}, err
	}

	return availability.Calculator{
		ProviderID:   providerID,
		Location:     loc,
		RangeStart:   from,
		RangeEnd:     to,
		SlotDuration: c.SlotDuration,
		Schedule:     *schedule,
		Booked:       booked,
		Leases:       leases,
		Now:          c.now(),
	}, nil
}

// ChooseSlot tries to lease the slot. On conflict the page comes back with
// Conflict set and availability for that day refreshed so the slot now shows
// unavailable; the wizard stays on slot selection and never silently retries.
func (c *Controller) ChooseSlot(ctx context.Context, clinicID, sessionID string, slotStart time.Time) (*SlotPage, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return nil, err
	}
	if draft.ProviderID == "" {
		return nil, NewFlowError("missing_provider", "select a provider before a slot")
	}

	slotEnd := slotStart.Add(c.SlotDuration)
	grant, err := c.Leases.Acquire(ctx, lease.AcquireRequest{
		ClinicID:   clinicID,
		ProviderID: draft.ProviderID,
		SlotStart:  slotStart,
		SlotEnd:    slotEnd,
		SessionID:  sessionID,
		UserID:     draft.UserID,
	})
	if errors.Is(err, lease.ErrConflict) {
		dayStart := slotStart.Truncate(24 * time.Hour)
		slots, availErr := c.Availability(ctx, clinicID, draft.ProviderID, dayStart, dayStart.AddDate(0, 0, 1))
		if availErr != nil {
			return nil, availErr
		}
		return &SlotPage{Draft: *draft, Slots: slots, Conflict: true}, nil
	}
	if err != nil {
		return nil, err
	}

	draft.SlotStart = slotStart
	draft.SlotEnd = slotEnd
	draft.LockID = grant.LockID
	if c.RequireVerifiedIdentity && draft.UserID == "" {
		draft.Step = models.StepIdentity
	} else {
		draft.Step = models.StepConfirm
	}
	if err := c.save(ctx, draft); err != nil {
		return nil, err
	}
	return &SlotPage{Draft: *draft}, nil
}

// KeepAlive extends the lease while the wizard stays open past the original
// TTL window. Any extend failure pushes the wizard back to slot selection;
// the caller sees the failure synchronously on its next action.
func (c *Controller) KeepAlive(ctx context.Context, clinicID, sessionID string) (*lease.Grant, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return nil, err
	}
	if draft.LockID == "" {
		return nil, lease.ErrNotFound
	}

	grant, err := c.Leases.Extend(ctx, draft.LockID, sessionID)
	if err != nil {
		if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrNotOwner) || errors.Is(err, lease.ErrExpired) {
			c.dropSlot(draft)
			if saveErr := c.save(ctx, draft); saveErr != nil {
				return nil, saveErr
			}
		}
		return nil, err
	}
	return grant, nil
}

// RedirectBlob serializes the draft for the identity-verification round trip
// and marks the wizard as pending identity.
func (c *Controller) RedirectBlob(ctx context.Context, clinicID, sessionID string) (string, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return "", err
	}
	draft.Step = models.StepIdentity
	if err := c.save(ctx, draft); err != nil {
		return "", err
	}
	return EncodeDraft(*draft)
}

// Resume restores the wizard after the redirect returns. The blob may be
// absent, malformed, or stale; every failure degrades to the earliest step
// with complete data instead of erroring. A draft with service, provider, and
// a non-zero slot start lands directly on confirmation; a zero slot start
// never advances past slot selection.
func (c *Controller) Resume(ctx context.Context, clinicID, sessionID, blob, userID string) (*models.BookingDraft, error) {
	draft, decodeErr := DecodeDraft(blob)
	if decodeErr != nil || draft.ClinicID != clinicID || draft.SessionID != sessionID {
		if decodeErr != nil {
			c.Logger.Debug("redirect blob unusable, falling back to stored draft", zap.Error(decodeErr))
		}
		stored, err := c.load(ctx, clinicID, sessionID)
		if err != nil {
			// Nothing to restore at all: restart the wizard.
			return c.Start(ctx, clinicID, sessionID, userID)
		}
		draft = stored
	}
	if userID != "" {
		draft.UserID = userID
	}

	// A held slot may have expired while the user was away. Stale locks are
	// cleared so the wizard re-enters slot selection instead of confirming
	// against a lease it no longer owns.
	if draft.LockID != "" {
		if _, err := c.Leases.Validate(ctx, draft.LockID, sessionID); err != nil {
			c.dropSlot(draft)
		}
	}

	if draft.Complete() && draft.LockID != "" {
		draft.Step = models.StepConfirm
	} else {
		draft.Step = draft.EarliestIncompleteStep()
	}
	if err := c.save(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Back moves to an earlier wizard step. Leaving slot selection releases the
// held lease so the slot opens up for other bookers immediately.
func (c *Controller) Back(ctx context.Context, clinicID, sessionID string, to models.BookingStep) (*models.BookingDraft, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return nil, err
	}
	if !to.Before(draft.Step) {
		return nil, NewFlowError("invalid_transition", "can only move back to an earlier step")
	}

	if to.Before(models.StepIdentity) && draft.LockID != "" {
		if err := c.Leases.Release(ctx, draft.LockID, sessionID); err != nil && !errors.Is(err, lease.ErrNotOwner) {
			return nil, err
		}
		c.dropSlot(draft)
	}
	if to.Before(models.StepSlot) {
		draft.ProviderID = ""
	}
	if to == models.StepService {
		draft.ServiceID = ""
	}
	draft.Step = to
	if err := c.save(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Confirm finalizes the booking: the still-held lease fences the appointment
// write, then the lease is released and the wizard completes. A write failure
// leaves the lease intact so the user can retry without re-competing for the
// slot, unless the lease itself expired, in which case the wizard returns to
// slot selection.
func (c *Controller) Confirm(ctx context.Context, clinicID, sessionID, patientID, notes string) (*models.Appointment, error) {
	draft, err := c.load(ctx, clinicID, sessionID)
	if err != nil {
		return nil, err
	}
	if draft.Step != models.StepConfirm && draft.Step != models.StepIdentity {
		return nil, NewFlowError("invalid_transition", "wizard is not ready to confirm")
	}
	if c.RequireVerifiedIdentity && draft.UserID == "" {
		return nil, NewFlowError("identity_required", "identity verification is required before confirming")
	}
	if !draft.Complete() || draft.LockID == "" {
		return nil, NewFlowError("incomplete_draft", "service, provider, and slot must all be selected")
	}

	held, err := c.Leases.Validate(ctx, draft.LockID, sessionID)
	if err != nil {
		if errors.Is(err, lease.ErrExpired) || errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrNotOwner) {
			c.dropSlot(draft)
			if saveErr := c.save(ctx, draft); saveErr != nil {
				return nil, saveErr
			}
		}
		return nil, err
	}

	appt := &models.Appointment{
		ID:         uuid.New().String(),
		ClinicID:   clinicID,
		ProviderID: draft.ProviderID,
		ServiceID:  draft.ServiceID,
		PatientID:  patientID,
		SessionID:  sessionID,
		Start:      held.SlotStart,
		End:        held.SlotEnd,
		LockID:     held.LockID,
		Notes:      notes,
		Status:     "confirmed",
		CreatedAt:  c.now(),
	}
	if err := c.Bookings.CreateAppointment(ctx, appt); err != nil {
		// Lease stays intact for a retry; only an expired lease forces the
		// user back to slot selection, and Validate above already covers it.
		return nil, err
	}

	if err := c.Leases.Release(ctx, draft.LockID, sessionID); err != nil {
		c.Logger.Warn("failed to release lease after booking write",
			zap.String("lockId", draft.LockID), zap.Error(err))
	}

	draft.Step = models.StepDone
	if err := c.Drafts.Remove(ctx, DraftKey(clinicID, sessionID)); err != nil {
		c.Logger.Warn("failed to remove completed draft", zap.Error(err))
	}
	return appt, nil
}

// Cancel abandons the wizard at any step: every lease the session holds in
// the clinic is dropped and the draft is destroyed. Best-effort: if the call
// is lost, TTL expiry still reclaims the leases.
func (c *Controller) Cancel(ctx context.Context, clinicID, sessionID string) (int, error) {
	released, err := c.Leases.ReleaseAllForSession(ctx, clinicID, sessionID)
	if err != nil {
		return 0, err
	}
	if err := c.Drafts.Remove(ctx, DraftKey(clinicID, sessionID)); err != nil && !errors.Is(err, ErrDraftNotFound) {
		return released, err
	}
	return released, nil
}

// dropSlot clears the slot selection from the draft and rewinds to slot
// selection. The lease itself is already gone or released by the caller.
func (c *Controller) dropSlot(draft *models.BookingDraft) {
	draft.SlotStart = time.Time{}
	draft.SlotEnd = time.Time{}
	draft.LockID = ""
	draft.Step = models.StepSlot
}
