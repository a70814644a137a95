package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var detectorNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

// at returns an instant a few days out, safely inside the booking rules used
// in these tests.
func at(hour, minute int) time.Time {
	return time.Date(2026, 9, 10, hour, minute, 0, 0, time.UTC)
}

func kinds(conflicts []Conflict) []ConflictKind {
	out := make([]ConflictKind, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Kind)
	}
	return out
}

func TestDetectSlotOverlap(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	existing := repo.addSlot(prof, at(9, 0), at(10, 0), SlotAvailable)

	d := NewDetector(repo, nil)

	candidate := &Slot{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(9, 30),
		EndTime:        at(10, 30),
		Status:         SlotAvailable,
	}
	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindSlot, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictSlotOverlap, conflicts[0].Kind)
	assert.Equal(t, SeverityHigh, conflicts[0].Severity)
	require.NotNil(t, conflicts[0].Details.SlotID)
	assert.Equal(t, existing, *conflicts[0].Details.SlotID)
}

func TestDetectSlotTouchingIntervalsDoNotOverlap(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	repo.addSlot(prof, at(9, 0), at(10, 0), SlotAvailable)

	d := NewDetector(repo, nil)

	// [10:00, 11:00) starts exactly where the existing slot ends.
	candidate := &Slot{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(10, 0),
		EndTime:        at(11, 0),
	}
	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindSlot, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectSlotIgnoresCancelledAndSelf(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	repo.addSlot(prof, at(9, 0), at(10, 0), SlotCancelled)

	d := NewDetector(repo, nil)

	self := &Slot{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
		Status:         SlotAvailable,
	}
	require.NoError(t, repo.InsertSlots(context.Background(), []Slot{*self}))

	conflicts, err := d.DetectConflicts(context.Background(), self, KindSlot, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectSlotInsideBlockedPeriod(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	repo.addBlock(prof, at(8, 0), at(12, 0))

	d := NewDetector(repo, nil)

	candidate := &Slot{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
	}
	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindSlot, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictBlockOverlap, conflicts[0].Kind)
}

func TestDetectAppointmentDoubleBooking(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	client := repo.addClient()
	repo.addAppointment(prof, client, at(9, 0), at(10, 0), ApptScheduled)

	d := NewDetector(repo, nil)

	candidate := &Appointment{
		ID:             uuid.New(),
		ClientID:       repo.addClient(),
		ProfessionalID: prof,
		StartTime:      at(9, 30),
		EndTime:        at(10, 30),
	}
	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindAppointment, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictDoubleBooking, conflicts[0].Kind)
	assert.Equal(t, SeverityCritical, conflicts[0].Severity)
}

func TestDetectAppointmentIgnoresCancelled(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	client := repo.addClient()
	repo.addAppointment(prof, client, at(9, 0), at(10, 0), ApptCancelled)

	d := NewDetector(repo, nil)

	candidate := &Appointment{
		ID:             uuid.New(),
		ClientID:       client,
		ProfessionalID: prof,
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
	}
	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindAppointment, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectClientDoubleBookingIsOptIn(t *testing.T) {
	repo := newFakeRepo()
	profA := repo.addProfessional("UTC")
	profB := repo.addProfessional("UTC")
	client := repo.addClient()
	// Same client, different professional, same hour.
	repo.addAppointment(profA, client, at(9, 0), at(10, 0), ApptScheduled)

	d := NewDetector(repo, nil)

	candidate := &Appointment{
		ID:             uuid.New(),
		ClientID:       client,
		ProfessionalID: profB,
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
	}

	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindAppointment, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	assert.Empty(t, conflicts, "client calendar not checked by default")

	conflicts, err = d.DetectConflicts(context.Background(), candidate, KindAppointment, ValidateOptions{
		Now:                  detectorNow,
		CheckClientConflicts: true,
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictClientBooking, conflicts[0].Kind)
	assert.Equal(t, SeverityHigh, conflicts[0].Severity)
}

func TestDetectAppointmentAgainstBookedSlot(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	slotID := repo.addSlot(prof, at(9, 0), at(10, 0), SlotBooked)

	d := NewDetector(repo, nil)

	candidate := &Appointment{
		ID:             uuid.New(),
		SlotID:         slotID,
		ClientID:       repo.addClient(),
		ProfessionalID: prof,
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
	}
	conflicts, err := d.DetectConflicts(context.Background(), candidate, KindAppointment, ValidateOptions{Now: detectorNow})
	require.NoError(t, err)
	assert.Contains(t, kinds(conflicts), ConflictSlotUnavailable)
}

func TestBusinessRuleSeverities(t *testing.T) {
	rules := RuleSet{
		AdvanceNoticeRule{MinNotice: 2 * time.Hour},
		MaxAdvanceRule{MaxAhead: 90 * 24 * time.Hour},
		BusinessHoursRule{DayStart: 7 * 60, DayEnd: 22 * 60},
		MaxDurationRule{Max: 8 * time.Hour},
	}

	cases := []struct {
		name     string
		start    time.Time
		end      time.Time
		rule     string
		severity Severity
	}{
		{
			name:     "too soon",
			start:    detectorNow.Add(30 * time.Minute),
			end:      detectorNow.Add(90 * time.Minute),
			rule:     "advance_notice",
			severity: SeverityHigh,
		},
		{
			name:     "too far ahead",
			start:    detectorNow.AddDate(0, 0, 120),
			end:      detectorNow.AddDate(0, 0, 120).Add(time.Hour),
			rule:     "max_advance",
			severity: SeverityMedium,
		},
		{
			name:     "outside business hours",
			start:    time.Date(2026, 9, 10, 23, 0, 0, 0, time.UTC),
			end:      time.Date(2026, 9, 10, 23, 30, 0, 0, time.UTC),
			rule:     "business_hours",
			severity: SeverityLow,
		},
		{
			name:     "too long",
			start:    at(8, 0),
			end:      at(17, 0),
			rule:     "max_duration",
			severity: SeverityCritical,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conflicts := rules.Evaluate(detectorNow, tc.start, tc.end)

			var found *Conflict
			for i := range conflicts {
				if conflicts[i].Details.Rule == tc.rule {
					found = &conflicts[i]
				}
			}
			require.NotNil(t, found, "expected %s conflict", tc.rule)
			assert.Equal(t, ConflictBusinessRule, found.Kind)
			assert.Equal(t, tc.severity, found.Severity)
		})
	}
}

func TestBusinessRulesPassInsideLimits(t *testing.T) {
	rules := RuleSet{
		AdvanceNoticeRule{MinNotice: 2 * time.Hour},
		MaxAdvanceRule{MaxAhead: 90 * 24 * time.Hour},
		BusinessHoursRule{DayStart: 7 * 60, DayEnd: 22 * 60},
		MaxDurationRule{Max: 8 * time.Hour},
	}
	assert.Empty(t, rules.Evaluate(detectorNow, at(9, 0), at(10, 0)))
}

func TestValidateStrategyWarnVersusStrict(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	rules := RuleSet{MaxAdvanceRule{MaxAhead: 24 * time.Hour}}
	d := NewDetector(repo, rules)

	// No overlaps, but trips the advisory max-advance rule.
	candidate := &Slot{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      detectorNow.AddDate(0, 0, 10),
		EndTime:        detectorNow.AddDate(0, 0, 10).Add(time.Hour),
	}

	strict, err := d.ValidateEntity(context.Background(), candidate, KindSlot, ValidateOptions{
		Strategy: StrategyStrict,
		Now:      detectorNow,
	})
	require.NoError(t, err)
	assert.False(t, strict.Valid, "strict blocks on any conflict")
	assert.False(t, strict.CanProceed, "strict blocking stops the operation")

	warn, err := d.ValidateEntity(context.Background(), candidate, KindSlot, ValidateOptions{
		Strategy: StrategyWarn,
		Now:      detectorNow,
	})
	require.NoError(t, err)
	assert.True(t, warn.Valid, "warn passes advisory conflicts through")
	assert.True(t, warn.CanProceed)
	assert.Len(t, warn.Conflicts, 1)
}

func TestValidateStrictBlocksLowSeverityConflict(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	rules := RuleSet{BusinessHoursRule{DayStart: 7 * 60, DayEnd: 22 * 60}}
	d := NewDetector(repo, rules)

	// A 05:00 start trips only the low-severity business-hours rule.
	candidate := &Slot{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(5, 0),
		EndTime:        at(6, 0),
	}
	res, err := d.ValidateEntity(context.Background(), candidate, KindSlot, ValidateOptions{
		Strategy: StrategyStrict,
		Now:      detectorNow,
	})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, SeverityLow, res.Conflicts[0].Severity)
	assert.Empty(t, res.CriticalConflicts)
	assert.False(t, res.Valid)
	assert.False(t, res.CanProceed, "severity does not soften strict blocking")
}

func TestValidateCriticalBlocksUnlessOverridden(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	client := repo.addClient()
	repo.addAppointment(prof, client, at(9, 0), at(10, 0), ApptScheduled)

	d := NewDetector(repo, nil)

	candidate := &Appointment{
		ID:             uuid.New(),
		ClientID:       repo.addClient(),
		ProfessionalID: prof,
		StartTime:      at(9, 0),
		EndTime:        at(10, 0),
	}

	res, err := d.ValidateEntity(context.Background(), candidate, KindAppointment, ValidateOptions{
		Strategy: StrategyWarn,
		Now:      detectorNow,
	})
	require.NoError(t, err)
	assert.False(t, res.CanProceed)
	require.Len(t, res.CriticalConflicts, 1)

	res, err = d.ValidateEntity(context.Background(), candidate, KindAppointment, ValidateOptions{
		Strategy:               StrategyWarn,
		Now:                    detectorNow,
		AllowCriticalConflicts: true,
	})
	require.NoError(t, err)
	assert.True(t, res.CanProceed, "administrative override")
}

func TestValidateBlockAutoResolveCollectsShadowedSlots(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	shadowed := repo.addSlot(prof, at(9, 0), at(10, 0), SlotAvailable)
	repo.addSlot(prof, at(14, 0), at(15, 0), SlotAvailable) // outside the block
	repo.addSlot(prof, at(10, 0), at(11, 0), SlotBooked)    // booked, never auto-removed

	d := NewDetector(repo, nil)

	block := &BlockedPeriod{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(8, 0),
		EndTime:        at(12, 0),
	}
	res, err := d.ValidateEntity(context.Background(), block, KindBlock, ValidateOptions{
		Strategy: StrategyAutoResolve,
		Now:      detectorNow,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid, "shadowed slots are remediated, not blocking")
	assert.Equal(t, []uuid.UUID{shadowed}, res.SlotsToRemove)
}

func TestValidateBlockOverAppointment(t *testing.T) {
	repo := newFakeRepo()
	prof := repo.addProfessional("UTC")
	client := repo.addClient()
	repo.addAppointment(prof, client, at(9, 0), at(10, 0), ApptConfirmed)

	d := NewDetector(repo, nil)

	block := &BlockedPeriod{
		ID:             uuid.New(),
		ProfessionalID: prof,
		StartTime:      at(8, 0),
		EndTime:        at(12, 0),
	}

	res, err := d.ValidateEntity(context.Background(), block, KindBlock, ValidateOptions{
		Strategy: StrategyAutoResolve,
		Now:      detectorNow,
	})
	require.NoError(t, err)
	assert.False(t, res.CanProceed, "covers a live appointment")

	res, err = d.ValidateEntity(context.Background(), block, KindBlock, ValidateOptions{
		Strategy:                   StrategyAutoResolve,
		Now:                        detectorNow,
		AllowBlockOverAppointments: true,
	})
	require.NoError(t, err)
	assert.True(t, res.CanProceed, "downgraded to a warning")
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, SeverityHigh, res.Conflicts[0].Severity)
}

func TestDetectRejectsMismatchedEntity(t *testing.T) {
	d := NewDetector(newFakeRepo(), nil)
	_, err := d.DetectConflicts(context.Background(), &Slot{}, KindAppointment, ValidateOptions{Now: detectorNow})
	require.Error(t, err)
}
