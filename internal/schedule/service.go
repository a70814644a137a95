package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/servigo/booking-engine/internal/config"
	"github.com/servigo/booking-engine/internal/lock"
)

const (
	EventSlotBooked           = "SLOT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventSlotsGenerated       = "SLOTS_GENERATED"
	EventBlockCreated         = "BLOCK_CREATED"
)

// BookingRequest is the caller-supplied part of a booking.
type BookingRequest struct {
	Notes                string
	CheckClientConflicts bool
}

// Service orchestrates locking, conflict detection, and persistence. It is
// the only writer of booking state; every slot flip happens inside a held
// lock keyed by the slot ID.
type Service struct {
	repo     Repository
	detector *Detector
	expander *Expander
	locks    *lock.Manager
	cfg      config.Config
	logger   zerolog.Logger
}

func NewService(repo Repository, detector *Detector, expander *Expander, locks *lock.Manager, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		detector: detector,
		expander: expander,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
	}
}

func slotLockKey(slotID uuid.UUID) string {
	return "slot:" + slotID.String()
}

func blockLockKey(professionalID uuid.UUID) string {
	return "professional:" + professionalID.String() + ":blocks"
}

// BookSlot reserves an available slot for a client. The slot's status is
// re-read inside the critical section: two concurrent requests both pass the
// unguarded pre-check, but only the lock winner books; the loser observes the
// flipped status and fails with a conflict instead of double-booking.
func (s *Service) BookSlot(ctx context.Context, slotID, clientID uuid.UUID, req BookingRequest) (*Appointment, error) {
	if _, err := s.repo.GetClientByID(ctx, clientID); err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load client: %w", err)
	}

	// Optimistic pre-check, cheap rejection before taking the lock.
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotAvailable {
		return nil, NewStaleStateError(slot)
	}

	var booked *Appointment

	err = s.locks.WithLock(ctx, slotLockKey(slotID), s.cfg.BookingLockTTL, func(lockCtx context.Context) error {
		current, err := s.repo.GetSlot(lockCtx, slotID)
		if err != nil {
			return err
		}
		if current.Status != SlotAvailable {
			return NewStaleStateError(current)
		}

		candidate := &Appointment{
			SlotID:         current.ID,
			ClientID:       clientID,
			ProfessionalID: current.ProfessionalID,
			StartTime:      current.StartTime,
			EndTime:        current.EndTime,
			Status:         ApptScheduled,
		}
		res, err := s.detector.ValidateEntity(lockCtx, candidate, KindAppointment, ValidateOptions{
			Strategy:             StrategyWarn,
			CheckClientConflicts: req.CheckClientConflicts,
		})
		if err != nil {
			return fmt.Errorf("validate booking: %w", err)
		}
		if !res.CanProceed {
			return &ConflictError{Conflicts: res.CriticalConflicts}
		}

		appt, err := s.repo.CreateAppointmentForSlot(lockCtx, current, clientID, req.Notes)
		if err != nil {
			if errors.Is(err, ErrSlotStale) {
				return NewStaleStateError(current)
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		booked = appt

		s.logEvent(lockCtx, &appt.ID, EventSlotBooked, map[string]any{
			"slot_id":   slotID.String(),
			"client_id": clientID.String(),
			"start":     appt.StartTime,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	return booked, nil
}

// ExpandAndPersist expands a rule over [start, end), filters candidates
// through the conflict detector, and replaces the rule's previously generated
// unbooked slots in that range with the survivors.
func (s *Service) ExpandAndPersist(ctx context.Context, ruleID uuid.UUID, start, end time.Time) ([]Slot, error) {
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	seq, err := s.expander.Expand(*rule, start, end)
	if err != nil {
		return nil, err
	}

	removed, err := s.repo.DeleteUnbookedGeneratedSlots(ctx, ruleID, start, end)
	if err != nil {
		return nil, err
	}

	var survivors []Slot
	for cand := range seq {
		slot := Slot{
			ID:             uuid.New(),
			ProfessionalID: cand.ProfessionalID,
			RuleID:         &cand.RuleID,
			StartTime:      cand.StartTime,
			EndTime:        cand.EndTime,
			LocalStart:     cand.LocalStart,
			LocalEnd:       cand.LocalEnd,
			Timezone:       cand.Timezone,
			Status:         SlotAvailable,
		}

		conflicts, err := s.detector.DetectConflicts(ctx, &slot, KindSlot, ValidateOptions{})
		if err != nil {
			return nil, fmt.Errorf("filter candidate slot: %w", err)
		}
		if slotCandidateBlocked(conflicts) {
			continue
		}
		survivors = append(survivors, slot)
	}

	if err := s.repo.InsertSlots(ctx, survivors); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("rule_id", ruleID.String()).
		Int64("removed", removed).
		Int("generated", len(survivors)).
		Msg("expanded availability rule")

	s.logEvent(ctx, nil, EventSlotsGenerated, map[string]any{
		"rule_id":   ruleID.String(),
		"removed":   removed,
		"generated": len(survivors),
	})

	return survivors, nil
}

// slotCandidateBlocked drops a candidate when it collides with existing
// slots or blocked periods, or trips a critical business rule. Advisory
// business-rule warnings do not suppress generation.
func slotCandidateBlocked(conflicts []Conflict) bool {
	for _, c := range conflicts {
		switch c.Kind {
		case ConflictSlotOverlap, ConflictBlockOverlap:
			return true
		}
		if c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ValidateEntity exposes the detector to collaborators.
func (s *Service) ValidateEntity(ctx context.Context, entity any, kind EntityKind, opts ValidateOptions) (ValidationResult, error) {
	return s.detector.ValidateEntity(ctx, entity, kind, opts)
}

// CreateBlockedPeriod validates the block, then under a professional-scoped
// lock persists it and removes the available slots it shadows.
func (s *Service) CreateBlockedPeriod(ctx context.Context, block *BlockedPeriod, opts ValidateOptions) (*BlockedPeriod, []Conflict, error) {
	if _, err := s.repo.GetProfessionalByID(ctx, block.ProfessionalID); err != nil {
		return nil, nil, err
	}
	if !block.StartTime.Before(block.EndTime) {
		return nil, nil, configErrorf("blocked period start %s is not before end %s", block.StartTime, block.EndTime)
	}

	if opts.Strategy == "" {
		opts.Strategy = StrategyAutoResolve
	}
	res, err := s.detector.ValidateEntity(ctx, block, KindBlock, opts)
	if err != nil {
		return nil, nil, err
	}
	if !res.CanProceed {
		blockedBy := res.CriticalConflicts
		if len(blockedBy) == 0 {
			// Strict strategy blocks on non-critical conflicts too.
			blockedBy = res.Conflicts
		}
		return nil, res.Conflicts, &ConflictError{Conflicts: blockedBy}
	}

	err = s.locks.WithLock(ctx, blockLockKey(block.ProfessionalID), s.cfg.BookingLockTTL, func(lockCtx context.Context) error {
		if err := s.repo.CreateBlock(lockCtx, block); err != nil {
			return err
		}
		if len(res.SlotsToRemove) > 0 {
			removed, err := s.repo.DeleteSlots(lockCtx, res.SlotsToRemove)
			if err != nil {
				return err
			}
			s.logger.Info().
				Str("block_id", block.ID.String()).
				Int64("slots_removed", removed).
				Msg("removed slots shadowed by blocked period")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, res.Conflicts, ErrBookingContended
		}
		return nil, res.Conflicts, err
	}

	s.logEvent(ctx, nil, EventBlockCreated, map[string]any{
		"block_id":        block.ID.String(),
		"professional_id": block.ProfessionalID.String(),
	})

	return block, res.Conflicts, nil
}

// CancelAppointment cancels and reopens the slot when it is still upcoming.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.CancelAppointment(ctx, id, time.Now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Either missing or already terminal; disambiguate for the caller.
			existing, getErr := s.repo.GetAppointmentByID(ctx, id)
			if getErr == nil && existing.Status.Terminal() {
				return nil, ErrInvalidStatusTransition
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	s.logEvent(ctx, &appt.ID, EventAppointmentCancelled, map[string]any{
		"slot_id": appt.SlotID.String(),
	})
	return appt, nil
}

// TransitionAppointment advances the appointment lifecycle with a
// compare-and-swap on the current status.
func (s *Service) TransitionAppointment(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}
	return updated, nil
}

// ListOpenSlots returns a professional's bookable slots in the range.
func (s *Service) ListOpenSlots(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return s.repo.ListOpenSlots(ctx, professionalID, from, to)
}

// RefreshHorizon re-expands every active rule over the coming horizon. Run
// periodically by the sweep worker.
func (s *Service) RefreshHorizon(ctx context.Context, horizonDays int) error {
	rules, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("list active rules: %w", err)
	}

	start := time.Now()
	end := start.AddDate(0, 0, horizonDays)

	for _, rule := range rules {
		if _, err := s.ExpandAndPersist(ctx, rule.ID, start, end); err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				s.logger.Warn().Err(err).Str("rule_id", rule.ID.String()).Msg("skipping misconfigured rule")
				continue
			}
			return fmt.Errorf("refresh rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := BookingEvent{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("insert booking event")
	}
}
