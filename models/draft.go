package models

import "time"

// BookingStep identifies the wizard step a booking session is on.
type BookingStep string

const (
	StepService  BookingStep = "choosing_service"
	StepProvider BookingStep = "choosing_provider"
	StepSlot     BookingStep = "choosing_slot"
	StepIdentity BookingStep = "pending_identity"
	StepConfirm  BookingStep = "confirming"
	StepDone     BookingStep = "completed"
)

// stepOrder drives Back transitions and resume degradation.
var stepOrder = map[BookingStep]int{
	StepService:  0,
	StepProvider: 1,
	StepSlot:     2,
	StepIdentity: 3,
	StepConfirm:  4,
	StepDone:     5,
}

// Before reports whether s comes earlier in the wizard than other.
func (s BookingStep) Before(other BookingStep) bool {
	return stepOrder[s] < stepOrder[other]
}

// BookingDraft is the serializable in-progress state of a booking wizard. It
// is client-held, persisted only so an identity-verification redirect does not
// lose progress, and destroyed on confirm or cancel. A zero SlotStart means no
// slot has been chosen yet.
type BookingDraft struct {
	ClinicID   string      `json:"clinicId"`
	SessionID  string      `json:"sessionId"`
	UserID     string      `json:"userId,omitempty"`
	ServiceID  string      `json:"serviceId,omitempty"`
	ProviderID string      `json:"providerId,omitempty"`
	SlotStart  time.Time   `json:"slotStart,omitempty"`
	SlotEnd    time.Time   `json:"slotEnd,omitempty"`
	LockID     string      `json:"lockId,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	Step       BookingStep `json:"step"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Complete reports whether the draft carries everything needed to land
// directly on the confirmation step after a redirect round trip.
func (d BookingDraft) Complete() bool {
	return d.ServiceID != "" && d.ProviderID != "" && !d.SlotStart.IsZero()
}

// EarliestIncompleteStep returns the first wizard step for which the draft is
// missing data. Used to degrade gracefully when a restored draft is partial.
func (d BookingDraft) EarliestIncompleteStep() BookingStep {
	switch {
	case d.ServiceID == "":
		return StepService
	case d.ProviderID == "":
		return StepProvider
	case d.SlotStart.IsZero() || d.LockID == "":
		return StepSlot
	default:
		return StepConfirm
	}
}
