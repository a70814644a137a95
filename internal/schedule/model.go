package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RecurrenceKind string

const (
	RecurrenceNone    RecurrenceKind = "none"
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
	RecurrenceCustom  RecurrenceKind = "custom"
)

// DSTPolicy controls what happens to a rule's wall-clock times when the
// expansion window crosses a daylight-saving transition.
type DSTPolicy string

const (
	// PreserveLocalTime re-applies the rule's wall clock on every date: a
	// 09:00 slot stays 09:00 local on both sides of a transition.
	PreserveLocalTime DSTPolicy = "preserve_local_time"
	// PreserveInstant freezes the UTC offset of the rule's anchor date, so
	// the absolute instant keeps its cadence and local wall time shifts.
	PreserveInstant DSTPolicy = "preserve_instant"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

type AppointmentStatus string

const (
	ApptScheduled  AppointmentStatus = "scheduled"
	ApptConfirmed  AppointmentStatus = "confirmed"
	ApptInProgress AppointmentStatus = "in_progress"
	ApptCompleted  AppointmentStatus = "completed"
	ApptCancelled  AppointmentStatus = "cancelled"
)

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// DatePredicate decides per calendar date whether a custom rule applies. The
// date argument is midnight in the rule's timezone.
type DatePredicate func(date time.Time) bool

// AvailabilityRule is a professional's declarative availability pattern.
// Start/End are times of day in the rule's timezone; ExcludeDates removes
// matching pattern days and IncludeDates forces days in even when the pattern
// skips them (include wins over exclude).
type AvailabilityRule struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Start          TimeOfDay
	End            TimeOfDay
	SlotDuration   time.Duration
	Buffer         time.Duration
	Recurrence     RecurrenceKind
	Weekdays       []time.Weekday // weekly only
	IncludeDates   []time.Time    // date-only, rule timezone
	ExcludeDates   []time.Time    // date-only, rule timezone
	Custom         DatePredicate  // custom only, not persisted
	ValidFrom      time.Time      // date-only
	ValidUntil     *time.Time     // date-only, open-ended when nil
	Timezone       string         // IANA name
	DSTPolicy      DSTPolicy
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Slot is a concrete bookable interval. Instants are stored in UTC;
// LocalStart/LocalEnd are the denormalized display pair in the rule timezone.
type Slot struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	RuleID         *uuid.UUID
	StartTime      time.Time // UTC
	EndTime        time.Time // UTC
	LocalStart     string    // "2006-01-02 15:04"
	LocalEnd       string
	Timezone       string
	Status         SlotStatus
	BookedBy       *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CandidateSlot is an expansion result that has not been persisted yet.
type CandidateSlot struct {
	ProfessionalID uuid.UUID
	RuleID         uuid.UUID
	StartTime      time.Time // UTC
	EndTime        time.Time // UTC
	LocalStart     string
	LocalEnd       string
	Timezone       string
}

// BlockedPeriod is a hard exclusion interval; it never auto-expires.
type BlockedPeriod struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	StartTime      time.Time // UTC
	EndTime        time.Time // UTC
	Reason         string
	CreatedAt      time.Time
}

type Appointment struct {
	ID             uuid.UUID
	SlotID         uuid.UUID
	ClientID       uuid.UUID
	ProfessionalID uuid.UUID
	StartTime      time.Time // copied from the slot at booking time
	EndTime        time.Time
	Status         AppointmentStatus
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Client struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Professional struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookingEvent is one audit row written alongside booking state changes.
type BookingEvent struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Terminal reports whether no further status transitions are allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == ApptCompleted || s == ApptCancelled
}

// CanTransitionTo enforces the appointment lifecycle:
// scheduled→confirmed→in_progress→completed, with cancellation allowed from
// any non-terminal state.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == ApptCancelled {
		return true
	}
	switch s {
	case ApptScheduled:
		return next == ApptConfirmed
	case ApptConfirmed:
		return next == ApptInProgress
	case ApptInProgress:
		return next == ApptCompleted
	}
	return false
}

// Overlaps reports whether two half-open intervals [s1,e1) and [s2,e2)
// intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}
