package scheduler

import (
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/hashicorp/cronexpr"

	"github.com/cuemby/magpie/pkg/types"
)

// Layouts for the wall-clock fields of a schedule config. Both are
// interpreted in the location of the reference time, never UTC.
const (
	dateTimeLayout = "2006-01-02 15:04:05"
	clockLayout    = "15:04:05"
)

// lastDayMarker in a monthly date list means "last day of the month"
const lastDayMarker = -1

// FirstFire computes a schedule's initial next-fire at creation time.
// immediate fires right away; a once-at whose target is already past
// returns nil and the schedule never activates. All other types behave
// exactly as they do after a firing.
func FirstFire(st types.ScheduleType, cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	switch st {
	case types.ScheduleImmediate:
		t := now
		return &t, nil
	case types.ScheduleOnceAt:
		t, err := time.ParseInLocation(dateTimeLayout, cfg.Datetime, now.Location())
		if err != nil {
			return nil, fmt.Errorf("invalid datetime %q: %w", cfg.Datetime, errdefs.ErrInvalidArgument)
		}
		if !t.After(now) {
			return nil, nil
		}
		return &t, nil
	default:
		return NextAfter(st, cfg, now)
	}
}

// NextAfter computes the fire following a firing at now. One-shot types
// (immediate, once-at) return nil: they never fire again and the caller
// deactivates the schedule.
func NextAfter(st types.ScheduleType, cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	switch st {
	case types.ScheduleImmediate, types.ScheduleOnceAt:
		return nil, nil
	case types.ScheduleInterval:
		return nextInterval(cfg, now)
	case types.ScheduleDaily:
		return nextDaily(cfg, now)
	case types.ScheduleWeekly:
		return nextWeekly(cfg, now)
	case types.ScheduleMonthly:
		return nextMonthly(cfg, now)
	case types.ScheduleCron:
		return nextCron(cfg, now)
	default:
		return nil, fmt.Errorf("unknown schedule type %q: %w", st, errdefs.ErrInvalidArgument)
	}
}

// ValidateScheduleConfig checks that a config carries the fields its type
// requires and that they parse. It is the single gate for schedule input:
// the manager calls it on create and update, so the recompute paths can
// assume well-formed configs.
func ValidateScheduleConfig(st types.ScheduleType, cfg types.ScheduleConfig) error {
	switch st {
	case types.ScheduleImmediate:
		return nil
	case types.ScheduleOnceAt:
		if _, err := time.Parse(dateTimeLayout, cfg.Datetime); err != nil {
			return fmt.Errorf("once-at datetime %q must look like %q: %w",
				cfg.Datetime, dateTimeLayout, errdefs.ErrInvalidArgument)
		}
		return nil
	case types.ScheduleInterval:
		if cfg.Interval < 1 {
			return fmt.Errorf("interval must be at least 1, got %d: %w",
				cfg.Interval, errdefs.ErrInvalidArgument)
		}
		switch cfg.Unit {
		case types.UnitSeconds, types.UnitMinutes, types.UnitHours:
			return nil
		default:
			return fmt.Errorf("unknown interval unit %q: %w", cfg.Unit, errdefs.ErrInvalidArgument)
		}
	case types.ScheduleDaily:
		_, _, _, err := parseClock(cfg.Time)
		return err
	case types.ScheduleWeekly:
		if len(cfg.Days) == 0 {
			return fmt.Errorf("weekly schedule needs at least one day: %w", errdefs.ErrInvalidArgument)
		}
		for _, d := range cfg.Days {
			if d < 1 || d > 7 {
				return fmt.Errorf("weekly day %d out of range 1..7 (1=Monday): %w",
					d, errdefs.ErrInvalidArgument)
			}
		}
		_, _, _, err := parseClock(cfg.Time)
		return err
	case types.ScheduleMonthly:
		if len(cfg.Dates) == 0 {
			return fmt.Errorf("monthly schedule needs at least one date: %w", errdefs.ErrInvalidArgument)
		}
		for _, d := range cfg.Dates {
			if d != lastDayMarker && (d < 1 || d > 31) {
				return fmt.Errorf("monthly date %d out of range 1..31 or -1: %w",
					d, errdefs.ErrInvalidArgument)
			}
		}
		_, _, _, err := parseClock(cfg.Time)
		return err
	case types.ScheduleCron:
		if _, err := cronexpr.Parse(cfg.CronExpression); err != nil {
			return fmt.Errorf("invalid cron expression %q: %v: %w",
				cfg.CronExpression, err, errdefs.ErrInvalidArgument)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q: %w", st, errdefs.ErrInvalidArgument)
	}
}

func nextInterval(cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	if cfg.Interval < 1 {
		return nil, fmt.Errorf("interval must be at least 1, got %d: %w",
			cfg.Interval, errdefs.ErrInvalidArgument)
	}
	var unit time.Duration
	switch cfg.Unit {
	case types.UnitSeconds:
		unit = time.Second
	case types.UnitMinutes:
		unit = time.Minute
	case types.UnitHours:
		unit = time.Hour
	default:
		return nil, fmt.Errorf("unknown interval unit %q: %w", cfg.Unit, errdefs.ErrInvalidArgument)
	}
	t := now.Add(time.Duration(cfg.Interval) * unit)
	return &t, nil
}

func nextDaily(cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	h, m, sec, err := parseClock(cfg.Time)
	if err != nil {
		return nil, err
	}
	cand := time.Date(now.Year(), now.Month(), now.Day(), h, m, sec, 0, now.Location())
	if !cand.After(now) {
		cand = cand.AddDate(0, 0, 1)
	}
	return &cand, nil
}

// nextWeekly walks at most eight days forward so that "today's weekday
// matches but the time already passed" wraps to the same day next week.
// Days are 1=Monday .. 7=Sunday; time.Weekday counts Sunday as 0, so the
// set is keyed by day mod 7.
func nextWeekly(cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	if len(cfg.Days) == 0 {
		return nil, fmt.Errorf("weekly schedule needs at least one day: %w", errdefs.ErrInvalidArgument)
	}
	h, m, sec, err := parseClock(cfg.Time)
	if err != nil {
		return nil, err
	}
	days := make(map[time.Weekday]bool, len(cfg.Days))
	for _, d := range cfg.Days {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("weekly day %d out of range 1..7: %w", d, errdefs.ErrInvalidArgument)
		}
		days[time.Weekday(d%7)] = true
	}
	for i := 0; i <= 7; i++ {
		cand := time.Date(now.Year(), now.Month(), now.Day()+i, h, m, sec, 0, now.Location())
		if cand.After(now) && days[cand.Weekday()] {
			return &cand, nil
		}
	}
	return nil, fmt.Errorf("no weekly fire within eight days for days %v: %w",
		cfg.Days, errdefs.ErrInvalidArgument)
}

// nextMonthly scans forward month by month. A date that a month does not
// have (the 31st in April, the 30th in February) is skipped for that
// month, not clamped. -1 resolves to the month's last day.
func nextMonthly(cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	if len(cfg.Dates) == 0 {
		return nil, fmt.Errorf("monthly schedule needs at least one date: %w", errdefs.ErrInvalidArgument)
	}
	h, m, sec, err := parseClock(cfg.Time)
	if err != nil {
		return nil, err
	}
	for off := 0; off < 24; off++ {
		first := time.Date(now.Year(), now.Month()+time.Month(off), 1, 0, 0, 0, 0, now.Location())
		last := daysIn(first.Year(), first.Month(), now.Location())
		var best *time.Time
		for _, d := range cfg.Dates {
			day := d
			if d == lastDayMarker {
				day = last
			} else if d < 1 || d > 31 {
				return nil, fmt.Errorf("monthly date %d out of range 1..31 or -1: %w",
					d, errdefs.ErrInvalidArgument)
			} else if d > last {
				continue
			}
			cand := time.Date(first.Year(), first.Month(), day, h, m, sec, 0, now.Location())
			if cand.After(now) && (best == nil || cand.Before(*best)) {
				best = &cand
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, fmt.Errorf("no monthly fire within two years for dates %v: %w",
		cfg.Dates, errdefs.ErrInvalidArgument)
}

func nextCron(cfg types.ScheduleConfig, now time.Time) (*time.Time, error) {
	expr, err := cronexpr.Parse(cfg.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %v: %w",
			cfg.CronExpression, err, errdefs.ErrInvalidArgument)
	}
	next := expr.Next(now)
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

func parseClock(s string) (hour, min, sec int, err error) {
	t, perr := time.Parse(clockLayout, s)
	if perr != nil {
		return 0, 0, 0, fmt.Errorf("time %q must look like %q: %w",
			s, clockLayout, errdefs.ErrInvalidArgument)
	}
	hour, min, sec = t.Clock()
	return hour, min, sec, nil
}

// daysIn returns the number of days in the given month. Day zero of the
// following month normalizes to the last day of this one.
func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
