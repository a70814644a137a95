package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/servigo/booking-engine/internal/schedule"
)

type CreateRuleRequest struct {
	ProfessionalID string   `json:"professional_id" validate:"required,uuid"`
	Start          string   `json:"start" validate:"required"` // HH:MM
	End            string   `json:"end" validate:"required"`   // HH:MM
	SlotMinutes    int      `json:"slot_minutes" validate:"required,min=1"`
	BufferMinutes  int      `json:"buffer_minutes" validate:"min=0"`
	Recurrence     string   `json:"recurrence" validate:"required,oneof=none daily weekly monthly"`
	Weekdays       []int    `json:"weekdays" validate:"omitempty,dive,min=0,max=6"`
	IncludeDates   []string `json:"include_dates" validate:"omitempty,dive,datetime=2006-01-02"`
	ExcludeDates   []string `json:"exclude_dates" validate:"omitempty,dive,datetime=2006-01-02"`
	ValidFrom      string   `json:"valid_from" validate:"required,datetime=2006-01-02"`
	ValidUntil     string   `json:"valid_until" validate:"omitempty,datetime=2006-01-02"`
	Timezone       string   `json:"timezone" validate:"required,timezone"`
	DSTPolicy      string   `json:"dst_policy" validate:"omitempty,oneof=preserve_local_time preserve_instant"`
}

type ExpandRuleRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type BookSlotRequest struct {
	ClientID             string `json:"client_id" validate:"required,uuid"`
	Notes                string `json:"notes" validate:"max=2000"`
	CheckClientConflicts bool   `json:"check_client_conflicts"`
}

type CreateBlockRequest struct {
	ProfessionalID  string    `json:"professional_id" validate:"required,uuid"`
	Start           time.Time `json:"start" validate:"required"`
	End             time.Time `json:"end" validate:"required,gtfield=Start"`
	Reason          string    `json:"reason" validate:"max=500"`
	AllowOverAppts  bool      `json:"allow_over_appointments"`
	Strategy        string    `json:"strategy" validate:"omitempty,oneof=strict warn auto_resolve"`
	AllowCritical   bool      `json:"allow_critical_conflicts"`
}

type ValidateRequest struct {
	Kind    string          `json:"kind" validate:"required,oneof=slot appointment block"`
	Slot    *SlotPayload    `json:"slot,omitempty"`
	Appt    *ApptPayload    `json:"appointment,omitempty"`
	Block   *BlockPayload   `json:"block,omitempty"`
	Options ValidateOptions `json:"options"`
}

type SlotPayload struct {
	ProfessionalID string    `json:"professional_id" validate:"required,uuid"`
	Start          time.Time `json:"start" validate:"required"`
	End            time.Time `json:"end" validate:"required,gtfield=Start"`
}

type ApptPayload struct {
	ProfessionalID string    `json:"professional_id" validate:"required,uuid"`
	ClientID       string    `json:"client_id" validate:"required,uuid"`
	SlotID         string    `json:"slot_id" validate:"omitempty,uuid"`
	Start          time.Time `json:"start" validate:"required"`
	End            time.Time `json:"end" validate:"required,gtfield=Start"`
}

type BlockPayload struct {
	ProfessionalID string    `json:"professional_id" validate:"required,uuid"`
	Start          time.Time `json:"start" validate:"required"`
	End            time.Time `json:"end" validate:"required,gtfield=Start"`
}

type ValidateOptions struct {
	Strategy             string `json:"strategy" validate:"omitempty,oneof=strict warn auto_resolve"`
	CheckClientConflicts bool   `json:"check_client_conflicts"`
	AllowOverAppts       bool   `json:"allow_over_appointments"`
	AllowCritical        bool   `json:"allow_critical_conflicts"`
}

type RuleResponse struct {
	ID             uuid.UUID `json:"id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Recurrence     string    `json:"recurrence"`
	Timezone       string    `json:"timezone"`
}

type SlotResponse struct {
	ID             uuid.UUID  `json:"id"`
	ProfessionalID uuid.UUID  `json:"professional_id"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	LocalStart     string     `json:"local_start"`
	LocalEnd       string     `json:"local_end"`
	Timezone       string     `json:"timezone"`
	Status         string     `json:"status"`
	BookedBy       *uuid.UUID `json:"booked_by,omitempty"`
}

type AppointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	SlotID         uuid.UUID `json:"slot_id"`
	ClientID       uuid.UUID `json:"client_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Status         string    `json:"status"`
}

type BlockResponse struct {
	ID             uuid.UUID           `json:"id"`
	ProfessionalID uuid.UUID           `json:"professional_id"`
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	Reason         string              `json:"reason,omitempty"`
	Warnings       []schedule.Conflict `json:"warnings,omitempty"`
}

type ValidationResponse struct {
	Valid             bool                `json:"valid"`
	CanProceed        bool                `json:"can_proceed"`
	Conflicts         []schedule.Conflict `json:"conflicts"`
	CriticalConflicts []schedule.Conflict `json:"critical_conflicts"`
	SlotsToRemove     []uuid.UUID         `json:"slots_to_remove,omitempty"`
}

type ErrorResponse struct {
	Error     string              `json:"error"`
	Details   string              `json:"details,omitempty"`
	Conflicts []schedule.Conflict `json:"conflicts,omitempty"`
}

func slotResponse(s schedule.Slot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		ProfessionalID: s.ProfessionalID,
		Start:          s.StartTime,
		End:            s.EndTime,
		LocalStart:     s.LocalStart,
		LocalEnd:       s.LocalEnd,
		Timezone:       s.Timezone,
		Status:         string(s.Status),
		BookedBy:       s.BookedBy,
	}
}

func appointmentResponse(a *schedule.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		SlotID:         a.SlotID,
		ClientID:       a.ClientID,
		ProfessionalID: a.ProfessionalID,
		Start:          a.StartTime,
		End:            a.EndTime,
		Status:         string(a.Status),
	}
}
