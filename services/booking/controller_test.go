package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bookingRepo "clinsched/database/repository/booking"
	"clinsched/models"
	"clinsched/services/lease"

	"go.uber.org/zap"
)

type fakeScheduleRepo struct {
	schedule models.ProviderSchedule
	booked   []models.BookedInterval
}

func (r *fakeScheduleRepo) GetProviderSchedule(_ context.Context, _, providerID string) (*models.ProviderSchedule, error) {
	s := r.schedule
	s.ProviderID = providerID
	return &s, nil
}

func (r *fakeScheduleRepo) ListBookedIntervals(_ context.Context, _, _ string, _, _ time.Time) ([]models.BookedInterval, error) {
	return r.booked, nil
}

type fakeBookingRepo struct {
	mu       sync.Mutex
	created  []*models.Appointment
	failWith error
}

func (r *fakeBookingRepo) CreateAppointment(_ context.Context, appt *models.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.created = append(r.created, appt)
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const (
	testClinic  = "clinic-1"
	testSession = "sess-1"
	testTTL     = 7 * time.Minute
)

// Monday 2025-06-02, provider works 9:00-12:00 UTC.
func newTestController() (*Controller, *fakeClock, *fakeBookingRepo, lease.Manager) {
	clk := &fakeClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	schedules := &fakeScheduleRepo{
		schedule: models.ProviderSchedule{
			ClinicID: testClinic,
			Timezone: "UTC",
			Windows: []models.WorkingWindow{
				{Weekday: time.Monday, StartMinute: 540, EndMinute: 720},
			},
		},
	}
	bookings := &fakeBookingRepo{}
	leases := lease.NewMemoryManager(testTTL, clk.Now)

	ctrl := &Controller{
		Schedules:               schedules,
		Bookings:                bookings,
		Leases:                  leases,
		Drafts:                  NewMemoryDraftStore(),
		Logger:                  zap.NewNop(),
		SlotDuration:            30 * time.Minute,
		RequireVerifiedIdentity: true,
		Now:                     clk.Now,
	}
	return ctrl, clk, bookings, leases
}

// advanceToSlot walks a fresh wizard up to a held slot at 10:00.
func advanceToSlot(t *testing.T, ctrl *Controller) *models.BookingDraft {
	t.Helper()
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, testClinic, testSession, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctrl.ChooseService(ctx, testClinic, testSession, "svc-1"); err != nil {
		t.Fatalf("choose service: %v", err)
	}
	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if _, err := ctrl.ChooseProvider(ctx, testClinic, testSession, "prov-1", from, from.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("choose provider: %v", err)
	}
	page, err := ctrl.ChooseSlot(ctx, testClinic, testSession, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("choose slot: %v", err)
	}
	if page.Conflict {
		t.Fatal("unexpected conflict on a free slot")
	}
	return &page.Draft
}

func TestWizardHappyPath(t *testing.T) {
	ctrl, _, bookings, leases := newTestController()
	ctx := context.Background()

	draft := advanceToSlot(t, ctrl)
	if draft.Step != models.StepIdentity {
		t.Fatalf("anonymous session must be routed to identity, got %s", draft.Step)
	}
	if draft.LockID == "" {
		t.Fatal("expected a held lease on the draft")
	}

	blob, err := ctrl.RedirectBlob(ctx, testClinic, testSession)
	if err != nil {
		t.Fatalf("redirect blob: %v", err)
	}

	resumed, err := ctrl.Resume(ctx, testClinic, testSession, blob, "user-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Step != models.StepConfirm {
		t.Fatalf("complete draft with held lease must land on confirm, got %s", resumed.Step)
	}
	if resumed.UserID != "user-1" {
		t.Errorf("verified identity not applied: %q", resumed.UserID)
	}

	appt, err := ctrl.Confirm(ctx, testClinic, testSession, "patient-1", "first visit")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if appt.LockID != draft.LockID {
		t.Errorf("appointment must record the lease lock ID, got %q want %q", appt.LockID, draft.LockID)
	}
	if !appt.Start.Equal(draft.SlotStart) || !appt.End.Equal(draft.SlotEnd) {
		t.Errorf("appointment range %v-%v diverges from held slot %v-%v",
			appt.Start, appt.End, draft.SlotStart, draft.SlotEnd)
	}
	if len(bookings.created) != 1 {
		t.Fatalf("expected 1 written appointment, got %d", len(bookings.created))
	}

	// The lease is released and the draft destroyed.
	if _, err := leases.Validate(ctx, draft.LockID, testSession); !errors.Is(err, lease.ErrNotFound) {
		t.Errorf("lease should be gone after confirm, got %v", err)
	}
	if _, err := ctrl.Drafts.Get(ctx, DraftKey(testClinic, testSession)); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("draft should be gone after confirm, got %v", err)
	}
}

func TestChooseSlotConflictRefreshesAvailability(t *testing.T) {
	ctrl, _, _, leases := newTestController()
	ctx := context.Background()

	slotStart := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if _, err := leases.Acquire(ctx, lease.AcquireRequest{
		ClinicID:   testClinic,
		ProviderID: "prov-1",
		SlotStart:  slotStart,
		SlotEnd:    slotStart.Add(30 * time.Minute),
		SessionID:  "sess-other",
	}); err != nil {
		t.Fatalf("competitor acquire: %v", err)
	}

	if _, err := ctrl.Start(ctx, testClinic, testSession, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctrl.ChooseService(ctx, testClinic, testSession, "svc-1"); err != nil {
		t.Fatalf("choose service: %v", err)
	}
	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	if _, err := ctrl.ChooseProvider(ctx, testClinic, testSession, "prov-1", from, from.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("choose provider: %v", err)
	}

	page, err := ctrl.ChooseSlot(ctx, testClinic, testSession, slotStart)
	if err != nil {
		t.Fatalf("choose slot: %v", err)
	}
	if !page.Conflict {
		t.Fatal("expected a conflict page")
	}
	if page.Draft.Step != models.StepSlot || page.Draft.LockID != "" {
		t.Errorf("conflict must leave the wizard on slot selection without a lock, got step=%s lock=%q",
			page.Draft.Step, page.Draft.LockID)
	}

	// The refreshed slot list must already show the contested slot as taken.
	found := false
	for _, s := range page.Slots {
		if s.Start.Equal(slotStart) {
			found = true
			if s.Available {
				t.Error("contested slot still shows available in the refreshed page")
			}
		}
	}
	if !found {
		t.Error("refreshed page does not cover the contested slot")
	}
}

func TestResumeMalformedBlobFallsBack(t *testing.T) {
	ctrl, _, _, _ := newTestController()
	ctx := context.Background()

	draft := advanceToSlot(t, ctrl)

	resumed, err := ctrl.Resume(ctx, testClinic, testSession, "%%%not-base64%%%", "user-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Step != models.StepConfirm {
		t.Fatalf("stored draft should carry the wizard to confirm, got %s", resumed.Step)
	}
	if resumed.LockID != draft.LockID {
		t.Errorf("fallback lost the held lease: %q want %q", resumed.LockID, draft.LockID)
	}
}

func TestResumeWithNothingStoredStartsFresh(t *testing.T) {
	ctrl, _, _, _ := newTestController()

	resumed, err := ctrl.Resume(context.Background(), testClinic, testSession, "", "")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Step != models.StepService {
		t.Fatalf("no blob and no stored draft must restart the wizard, got %s", resumed.Step)
	}
}

func TestResumeZeroSlotStartNeverSkipsSlotStep(t *testing.T) {
	ctrl, _, _, _ := newTestController()
	ctx := context.Background()

	partial := models.BookingDraft{
		ClinicID:   testClinic,
		SessionID:  testSession,
		ServiceID:  "svc-1",
		ProviderID: "prov-1",
		Step:       models.StepIdentity,
	}
	blob, err := EncodeDraft(partial)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	resumed, err := ctrl.Resume(ctx, testClinic, testSession, blob, "user-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Step != models.StepSlot {
		t.Fatalf("zero slot start must degrade to slot selection, got %s", resumed.Step)
	}
}

func TestResumeClearsStaleLock(t *testing.T) {
	ctrl, clk, _, _ := newTestController()
	ctx := context.Background()

	advanceToSlot(t, ctrl)
	blob, err := ctrl.RedirectBlob(ctx, testClinic, testSession)
	if err != nil {
		t.Fatalf("redirect blob: %v", err)
	}

	// The user dawdles on the identity provider until the lease lapses.
	clk.Advance(testTTL + time.Second)

	resumed, err := ctrl.Resume(ctx, testClinic, testSession, blob, "user-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Step != models.StepSlot {
		t.Fatalf("stale lease must push the wizard back to slot selection, got %s", resumed.Step)
	}
	if resumed.LockID != "" || !resumed.SlotStart.IsZero() {
		t.Errorf("stale slot selection not cleared: lock=%q start=%v", resumed.LockID, resumed.SlotStart)
	}
}

func TestKeepAliveFailureRewindsToSlot(t *testing.T) {
	ctrl, clk, _, _ := newTestController()
	ctx := context.Background()

	advanceToSlot(t, ctrl)
	clk.Advance(testTTL + time.Second)

	if _, err := ctrl.KeepAlive(ctx, testClinic, testSession); !errors.Is(err, lease.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	draft, err := ctrl.Drafts.Get(ctx, DraftKey(testClinic, testSession))
	if err != nil {
		t.Fatalf("load draft: %v", err)
	}
	if draft.Step != models.StepSlot || draft.LockID != "" {
		t.Errorf("failed keepalive must rewind to slot selection, got step=%s lock=%q", draft.Step, draft.LockID)
	}
}

func TestKeepAliveExtends(t *testing.T) {
	ctrl, clk, _, _ := newTestController()
	ctx := context.Background()

	advanceToSlot(t, ctrl)
	clk.Advance(5 * time.Minute)

	grant, err := ctrl.KeepAlive(ctx, testClinic, testSession)
	if err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	if want := clk.Now().Add(testTTL); !grant.ExpiresAt.Equal(want) {
		t.Errorf("expiry = %v, want %v", grant.ExpiresAt, want)
	}
}

func TestConfirmRequiresVerifiedIdentity(t *testing.T) {
	ctrl, _, _, _ := newTestController()
	ctx := context.Background()

	advanceToSlot(t, ctrl)

	_, err := ctrl.Confirm(ctx, testClinic, testSession, "patient-1", "")
	var flowErr *FlowError
	if !errors.As(err, &flowErr) || flowErr.Code != "identity_required" {
		t.Fatalf("expected identity_required flow error, got %v", err)
	}
}

func TestConfirmWriteFailureKeepsLease(t *testing.T) {
	ctrl, _, bookings, leases := newTestController()
	ctx := context.Background()

	draft := advanceToSlot(t, ctrl)
	if _, err := ctrl.Resume(ctx, testClinic, testSession, "", "user-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	bookings.failWith = errors.New("write timeout")
	if _, err := ctrl.Confirm(ctx, testClinic, testSession, "patient-1", ""); err == nil {
		t.Fatal("expected write failure to surface")
	}

	// The lease survives so the retry does not re-compete for the slot.
	if _, err := leases.Validate(ctx, draft.LockID, testSession); err != nil {
		t.Fatalf("lease must stay intact after a write failure: %v", err)
	}

	bookings.failWith = nil
	if _, err := ctrl.Confirm(ctx, testClinic, testSession, "patient-1", ""); err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
}

func TestConfirmSlotTaken(t *testing.T) {
	ctrl, _, bookings, _ := newTestController()
	ctx := context.Background()

	advanceToSlot(t, ctrl)
	if _, err := ctrl.Resume(ctx, testClinic, testSession, "", "user-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	bookings.failWith = bookingRepo.ErrSlotTaken
	if _, err := ctrl.Confirm(ctx, testClinic, testSession, "patient-1", ""); !errors.Is(err, bookingRepo.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken to pass through, got %v", err)
	}
}

func TestBackReleasesLease(t *testing.T) {
	ctrl, _, _, leases := newTestController()
	ctx := context.Background()

	draft := advanceToSlot(t, ctrl)

	back, err := ctrl.Back(ctx, testClinic, testSession, models.StepProvider)
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if back.Step != models.StepProvider || back.LockID != "" {
		t.Errorf("back to provider must drop the slot, got step=%s lock=%q", back.Step, back.LockID)
	}
	if _, err := leases.Validate(ctx, draft.LockID, testSession); !errors.Is(err, lease.ErrNotFound) {
		t.Errorf("lease should be released when leaving slot selection, got %v", err)
	}

	if _, err := ctrl.Back(ctx, testClinic, testSession, models.StepConfirm); err == nil {
		t.Error("moving forward through Back must be rejected")
	}
}

func TestCancelReleasesEverything(t *testing.T) {
	ctrl, _, _, leases := newTestController()
	ctx := context.Background()

	draft := advanceToSlot(t, ctrl)

	released, err := ctrl.Cancel(ctx, testClinic, testSession)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	if _, err := leases.Validate(ctx, draft.LockID, testSession); !errors.Is(err, lease.ErrNotFound) {
		t.Errorf("lease should be gone after cancel, got %v", err)
	}
	if _, err := ctrl.Drafts.Get(ctx, DraftKey(testClinic, testSession)); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("draft should be gone after cancel, got %v", err)
	}
}
