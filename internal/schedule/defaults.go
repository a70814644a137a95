package schedule

import (
	"time"

	"github.com/servigo/booking-engine/internal/config"
)

// DefaultRules builds the business-rule set from configuration. Business
// hours are evaluated in loc; pass nil for UTC.
func DefaultRules(cfg config.Config, loc *time.Location) (RuleSet, error) {
	dayStart, err := ParseTimeOfDay(cfg.BusinessDayStart)
	if err != nil {
		return nil, err
	}
	dayEnd, err := ParseTimeOfDay(cfg.BusinessDayEnd)
	if err != nil {
		return nil, err
	}

	return RuleSet{
		AdvanceNoticeRule{MinNotice: time.Duration(cfg.MinAdvanceNoticeHours) * time.Hour},
		MaxAdvanceRule{MaxAhead: time.Duration(cfg.MaxAdvanceDays) * 24 * time.Hour},
		BusinessHoursRule{DayStart: dayStart, DayEnd: dayEnd, Location: loc},
		MaxDurationRule{Max: cfg.MaxSlotDuration},
	}, nil
}
