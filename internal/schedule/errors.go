package schedule

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRuleNotFound         = errors.New("availability rule not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrClientNotFound       = errors.New("client not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrBlockNotFound        = errors.New("blocked period not found")

	// ErrBookingContended means lock acquisition exhausted its retries. The
	// whole booking should be re-attempted: the slot may have changed hands.
	ErrBookingContended = errors.New("slot is currently being booked, please retry")

	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// ConfigError marks an invalid rule or expansion request. Terminal, never
// retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError carries the structured conflict list so callers can render an
// actionable message or drive a resolution UI.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "scheduling conflict"
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.Summary)
	}
	return "scheduling conflict: " + strings.Join(parts, "; ")
}

// NewStaleStateError reports that a slot's status changed between the
// optimistic pre-check and the locked re-check. Expected under contention,
// surfaced as an ordinary conflict.
func NewStaleStateError(slot *Slot) *ConflictError {
	return &ConflictError{Conflicts: []Conflict{{
		Kind:     ConflictStaleState,
		Severity: SeverityCritical,
		Summary:  fmt.Sprintf("slot %s is no longer available (status %s)", slot.ID, slot.Status),
		Details: ConflictDetails{
			SlotID:   &slot.ID,
			Interval: &Interval{Start: slot.StartTime, End: slot.EndTime},
		},
	}}}
}
