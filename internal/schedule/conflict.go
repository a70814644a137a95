package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ConflictKind string

const (
	ConflictSlotOverlap      ConflictKind = "slot_overlap"
	ConflictBlockOverlap     ConflictKind = "block_overlap"
	ConflictDoubleBooking    ConflictKind = "double_booking"
	ConflictClientBooking    ConflictKind = "client_double_booking"
	ConflictSlotUnavailable  ConflictKind = "slot_unavailable"
	ConflictBlockImpact      ConflictKind = "block_over_appointment"
	ConflictBlockShadowsSlot ConflictKind = "block_shadows_slot"
	ConflictBusinessRule     ConflictKind = "business_rule"
	ConflictStaleState       ConflictKind = "stale_state"
)

type EntityKind string

const (
	KindSlot        EntityKind = "slot"
	KindAppointment EntityKind = "appointment"
	KindBlock       EntityKind = "block"
)

// Strategy decides how detected conflicts affect validation.
type Strategy string

const (
	// StrategyStrict blocks on any conflict.
	StrategyStrict Strategy = "strict"
	// StrategyWarn blocks only on critical conflicts; the rest are advisory.
	StrategyWarn Strategy = "warn"
	// StrategyAutoResolve applies known-safe remediations (marking shadowed
	// available slots for removal); what remains blocks only when critical.
	StrategyAutoResolve Strategy = "auto_resolve"
)

type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ConflictDetails identifies the colliding entities, enough to drive a
// resolution UI.
type ConflictDetails struct {
	SlotID        *uuid.UUID `json:"slot_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	BlockID       *uuid.UUID `json:"block_id,omitempty"`
	Rule          string     `json:"rule,omitempty"`
	Interval      *Interval  `json:"interval,omitempty"`
	OtherInterval *Interval  `json:"other_interval,omitempty"`
}

type Conflict struct {
	Kind     ConflictKind    `json:"kind"`
	Severity Severity        `json:"severity"`
	Summary  string          `json:"summary"`
	Details  ConflictDetails `json:"details"`
}

type ValidateOptions struct {
	Strategy Strategy
	// CheckClientConflicts opts in to checking the client's own calendar for
	// overlapping appointments. Off by default.
	CheckClientConflicts bool
	// AllowBlockOverAppointments downgrades block-vs-appointment collisions
	// from a blocking error to a warning.
	AllowBlockOverAppointments bool
	// AllowCriticalConflicts lets CanProceed stay true despite critical
	// conflicts. For administrative overrides only.
	AllowCriticalConflicts bool
	// Now overrides the evaluation clock, for tests.
	Now time.Time
}

type ValidationResult struct {
	Valid             bool
	Conflicts         []Conflict
	CriticalConflicts []Conflict
	CanProceed        bool
	// SlotsToRemove is populated by auto_resolve: available slots shadowed by
	// a new blocked period, safe to delete.
	SlotsToRemove []uuid.UUID
}

// ConflictReader is the persistence view the detector needs: every method
// returns only non-cancelled records whose interval intersects [from, to).
type ConflictReader interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlotsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error)
	ListAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListClientAppointmentsInRange(ctx context.Context, clientID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]BlockedPeriod, error)
}

// Detector classifies overlaps and business-rule violations for candidate
// slots, appointments, and blocked periods.
type Detector struct {
	reader ConflictReader
	rules  RuleSet
}

func NewDetector(reader ConflictReader, rules RuleSet) *Detector {
	return &Detector{reader: reader, rules: rules}
}

// DetectConflicts runs every applicable check for the entity and returns the
// raw conflict list, unfiltered by strategy.
func (d *Detector) DetectConflicts(ctx context.Context, entity any, kind EntityKind, opts ValidateOptions) ([]Conflict, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	switch kind {
	case KindSlot:
		slot, ok := entity.(*Slot)
		if !ok {
			return nil, fmt.Errorf("entity kind %s requires *Slot, got %T", kind, entity)
		}
		return d.detectSlotConflicts(ctx, slot, now)
	case KindAppointment:
		appt, ok := entity.(*Appointment)
		if !ok {
			return nil, fmt.Errorf("entity kind %s requires *Appointment, got %T", kind, entity)
		}
		return d.detectAppointmentConflicts(ctx, appt, now, opts)
	case KindBlock:
		block, ok := entity.(*BlockedPeriod)
		if !ok {
			return nil, fmt.Errorf("entity kind %s requires *BlockedPeriod, got %T", kind, entity)
		}
		return d.detectBlockConflicts(ctx, block, now, opts)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// ValidateEntity aggregates conflicts and applies the resolution strategy.
func (d *Detector) ValidateEntity(ctx context.Context, entity any, kind EntityKind, opts ValidateOptions) (ValidationResult, error) {
	conflicts, err := d.DetectConflicts(ctx, entity, kind, opts)
	if err != nil {
		return ValidationResult{}, err
	}

	res := ValidationResult{Conflicts: conflicts}
	for _, c := range conflicts {
		if c.Severity == SeverityCritical {
			res.CriticalConflicts = append(res.CriticalConflicts, c)
		}
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyStrict
	}

	blocking := 0
	for _, c := range conflicts {
		switch strategy {
		case StrategyWarn:
			if c.Severity == SeverityCritical {
				blocking++
			}
		case StrategyAutoResolve:
			if c.Kind == ConflictBlockShadowsSlot && c.Details.SlotID != nil {
				res.SlotsToRemove = append(res.SlotsToRemove, *c.Details.SlotID)
				continue // remediated, not blocking
			}
			if c.Severity == SeverityCritical {
				blocking++
			}
		default: // strict
			blocking++
		}
	}

	res.Valid = blocking == 0
	res.CanProceed = res.Valid || opts.AllowCriticalConflicts
	return res, nil
}

func (d *Detector) detectSlotConflicts(ctx context.Context, slot *Slot, now time.Time) ([]Conflict, error) {
	var out []Conflict

	others, err := d.reader.ListSlotsInRange(ctx, slot.ProfessionalID, slot.StartTime, slot.EndTime)
	if err != nil {
		return nil, fmt.Errorf("list slots in range: %w", err)
	}
	for _, other := range others {
		if other.ID == slot.ID || other.Status == SlotCancelled {
			continue
		}
		if Overlaps(slot.StartTime, slot.EndTime, other.StartTime, other.EndTime) {
			otherID := other.ID
			out = append(out, Conflict{
				Kind:     ConflictSlotOverlap,
				Severity: SeverityHigh,
				Summary:  fmt.Sprintf("overlaps existing slot %s", other.ID),
				Details: ConflictDetails{
					SlotID:        &otherID,
					Interval:      &Interval{Start: slot.StartTime, End: slot.EndTime},
					OtherInterval: &Interval{Start: other.StartTime, End: other.EndTime},
				},
			})
		}
	}

	blockConflicts, err := d.blockOverlaps(ctx, slot.ProfessionalID, slot.StartTime, slot.EndTime)
	if err != nil {
		return nil, err
	}
	out = append(out, blockConflicts...)

	out = append(out, d.rules.Evaluate(now, slot.StartTime, slot.EndTime)...)
	return out, nil
}

func (d *Detector) detectAppointmentConflicts(ctx context.Context, appt *Appointment, now time.Time, opts ValidateOptions) ([]Conflict, error) {
	var out []Conflict

	others, err := d.reader.ListAppointmentsInRange(ctx, appt.ProfessionalID, appt.StartTime, appt.EndTime)
	if err != nil {
		return nil, fmt.Errorf("list appointments in range: %w", err)
	}
	for _, other := range others {
		if other.ID == appt.ID || other.Status == ApptCancelled {
			continue
		}
		if Overlaps(appt.StartTime, appt.EndTime, other.StartTime, other.EndTime) {
			otherID := other.ID
			out = append(out, Conflict{
				Kind:     ConflictDoubleBooking,
				Severity: SeverityCritical,
				Summary:  fmt.Sprintf("professional already has appointment %s in this interval", other.ID),
				Details: ConflictDetails{
					AppointmentID: &otherID,
					Interval:      &Interval{Start: appt.StartTime, End: appt.EndTime},
					OtherInterval: &Interval{Start: other.StartTime, End: other.EndTime},
				},
			})
		}
	}

	if opts.CheckClientConflicts {
		clientAppts, err := d.reader.ListClientAppointmentsInRange(ctx, appt.ClientID, appt.StartTime, appt.EndTime)
		if err != nil {
			return nil, fmt.Errorf("list client appointments in range: %w", err)
		}
		for _, other := range clientAppts {
			if other.ID == appt.ID || other.Status == ApptCancelled {
				continue
			}
			if Overlaps(appt.StartTime, appt.EndTime, other.StartTime, other.EndTime) {
				otherID := other.ID
				out = append(out, Conflict{
					Kind:     ConflictClientBooking,
					Severity: SeverityHigh,
					Summary:  fmt.Sprintf("client already has appointment %s in this interval", other.ID),
					Details: ConflictDetails{
						AppointmentID: &otherID,
						Interval:      &Interval{Start: appt.StartTime, End: appt.EndTime},
						OtherInterval: &Interval{Start: other.StartTime, End: other.EndTime},
					},
				})
			}
		}
	}

	if appt.SlotID != uuid.Nil {
		slot, err := d.reader.GetSlot(ctx, appt.SlotID)
		if err != nil {
			return nil, fmt.Errorf("load slot for appointment: %w", err)
		}
		if slot.Status != SlotAvailable {
			slotID := slot.ID
			out = append(out, Conflict{
				Kind:     ConflictSlotUnavailable,
				Severity: SeverityCritical,
				Summary:  fmt.Sprintf("slot %s is %s", slot.ID, slot.Status),
				Details: ConflictDetails{
					SlotID:   &slotID,
					Interval: &Interval{Start: slot.StartTime, End: slot.EndTime},
				},
			})
		}
	}

	out = append(out, d.rules.Evaluate(now, appt.StartTime, appt.EndTime)...)
	return out, nil
}

func (d *Detector) detectBlockConflicts(ctx context.Context, block *BlockedPeriod, now time.Time, opts ValidateOptions) ([]Conflict, error) {
	var out []Conflict

	appts, err := d.reader.ListAppointmentsInRange(ctx, block.ProfessionalID, block.StartTime, block.EndTime)
	if err != nil {
		return nil, fmt.Errorf("list appointments in range: %w", err)
	}
	for _, appt := range appts {
		if appt.Status == ApptCancelled {
			continue
		}
		if Overlaps(block.StartTime, block.EndTime, appt.StartTime, appt.EndTime) {
			severity := SeverityCritical
			if opts.AllowBlockOverAppointments {
				severity = SeverityHigh
			}
			apptID := appt.ID
			out = append(out, Conflict{
				Kind:     ConflictBlockImpact,
				Severity: severity,
				Summary:  fmt.Sprintf("blocked period covers appointment %s", appt.ID),
				Details: ConflictDetails{
					AppointmentID: &apptID,
					Interval:      &Interval{Start: block.StartTime, End: block.EndTime},
					OtherInterval: &Interval{Start: appt.StartTime, End: appt.EndTime},
				},
			})
		}
	}

	slots, err := d.reader.ListSlotsInRange(ctx, block.ProfessionalID, block.StartTime, block.EndTime)
	if err != nil {
		return nil, fmt.Errorf("list slots in range: %w", err)
	}
	for _, slot := range slots {
		if slot.Status != SlotAvailable {
			continue
		}
		if Overlaps(block.StartTime, block.EndTime, slot.StartTime, slot.EndTime) {
			slotID := slot.ID
			out = append(out, Conflict{
				Kind:     ConflictBlockShadowsSlot,
				Severity: SeverityLow,
				Summary:  fmt.Sprintf("blocked period shadows available slot %s", slot.ID),
				Details: ConflictDetails{
					SlotID:        &slotID,
					Interval:      &Interval{Start: block.StartTime, End: block.EndTime},
					OtherInterval: &Interval{Start: slot.StartTime, End: slot.EndTime},
				},
			})
		}
	}

	return out, nil
}

func (d *Detector) blockOverlaps(ctx context.Context, professionalID uuid.UUID, start, end time.Time) ([]Conflict, error) {
	blocks, err := d.reader.ListBlocksInRange(ctx, professionalID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list blocks in range: %w", err)
	}
	var out []Conflict
	for _, block := range blocks {
		if Overlaps(start, end, block.StartTime, block.EndTime) {
			blockID := block.ID
			out = append(out, Conflict{
				Kind:     ConflictBlockOverlap,
				Severity: SeverityHigh,
				Summary:  fmt.Sprintf("falls inside blocked period %s", block.ID),
				Details: ConflictDetails{
					BlockID:       &blockID,
					Interval:      &Interval{Start: start, End: end},
					OtherInterval: &Interval{Start: block.StartTime, End: block.EndTime},
				},
			})
		}
	}
	return out, nil
}
