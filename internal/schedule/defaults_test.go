package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servigo/booking-engine/internal/config"
)

func TestDefaultRulesFromConfig(t *testing.T) {
	cfg := config.Config{
		MinAdvanceNoticeHours: 2,
		MaxAdvanceDays:        90,
		BusinessDayStart:      "07:00",
		BusinessDayEnd:        "22:00",
		MaxSlotDuration:       8 * time.Hour,
	}

	rules, err := DefaultRules(cfg, time.UTC)
	require.NoError(t, err)
	require.Len(t, rules, 4)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ok := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)
	assert.Empty(t, rules.Evaluate(now, ok, ok.Add(time.Hour)))

	// Last-minute booking trips the advance-notice rule built from config.
	conflicts := rules.Evaluate(now, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NotEmpty(t, conflicts)
	assert.Equal(t, "advance_notice", conflicts[0].Details.Rule)
}

func TestDefaultRulesRejectBadBusinessHours(t *testing.T) {
	cfg := config.Config{
		BusinessDayStart: "late-ish",
		BusinessDayEnd:   "22:00",
	}
	_, err := DefaultRules(cfg, nil)
	require.Error(t, err)
}
