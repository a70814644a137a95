package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSlotStale is returned by CreateAppointmentForSlot when the slot's status
// changed between the caller's check and the booking write.
var ErrSlotStale = errors.New("slot status changed underneath booking")

// Repository contains all DB interactions needed by the service. It embeds
// the detector's read view; list methods return only non-cancelled records
// intersecting the range.
type Repository interface {
	ConflictReader

	GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error)
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error)

	CreateRule(ctx context.Context, rule *AvailabilityRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error)
	ListActiveRules(ctx context.Context) ([]AvailabilityRule, error)

	// Slot generation
	DeleteUnbookedGeneratedSlots(ctx context.Context, ruleID uuid.UUID, from, to time.Time) (int64, error)
	InsertSlots(ctx context.Context, slots []Slot) error
	DeleteSlots(ctx context.Context, ids []uuid.UUID) (int64, error)
	ListOpenSlots(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error)

	// Booking: flips the slot available→booked and inserts the appointment in
	// one transaction. Returns ErrSlotStale when the compare-and-swap on the
	// slot row affects no rows.
	CreateAppointmentForSlot(ctx context.Context, slot *Slot, clientID uuid.UUID, notes string) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// CancelAppointment cancels the appointment and reopens its slot when the
	// slot is still in the future.
	CancelAppointment(ctx context.Context, id uuid.UUID, now time.Time) (*Appointment, error)

	CreateBlock(ctx context.Context, block *BlockedPeriod) error
	DeleteBlock(ctx context.Context, id uuid.UUID) error

	// Audit trail
	InsertEvent(ctx context.Context, ev BookingEvent) error
}
