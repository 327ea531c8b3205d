package recurring

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"missioncontrol/internal/domain"
)

// NextRun computes the first run of rt strictly after from. Daily, weekly
// and cron schedules are evaluated in loc. A schedule that cannot advance
// past from is reported as ErrValidation.
func NextRun(rt domain.RecurringTask, from time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	var (
		next time.Time
		err  error
	)
	switch rt.ScheduleType {
	case domain.ScheduleInterval:
		next, err = nextInterval(rt.ScheduleValue, from)
	case domain.ScheduleDaily:
		next, err = nextWeekly(allDays, rt.ScheduleTime, from.In(loc))
	case domain.ScheduleWeekly:
		var days [7]bool
		if days, err = parseWeekdays(rt.ScheduleValue); err == nil {
			next, err = nextWeekly(days, rt.ScheduleTime, from.In(loc))
		}
	case domain.ScheduleCron:
		next, err = nextCron(rt.ScheduleValue, from.In(loc))
	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule_type %q", ErrValidation, rt.ScheduleType)
	}
	if err != nil {
		return time.Time{}, err
	}
	if !next.After(from) {
		return time.Time{}, fmt.Errorf("%w: next_run %s does not advance past %s", ErrValidation,
			next.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return next, nil
}

func nextInterval(value string, from time.Time) (time.Time, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return time.Time{}, fmt.Errorf("%w: interval schedule_value must be a positive number of minutes, got %q", ErrValidation, value)
	}
	return from.Add(time.Duration(n) * time.Minute), nil
}

var allDays = [7]bool{true, true, true, true, true, true, true}

// nextWeekly returns the first HH:MM on an allowed weekday strictly after from.
func nextWeekly(days [7]bool, hhmm string, from time.Time) (time.Time, error) {
	hour, minute, err := parseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := from.Date()
	for i := 0; i <= 7; i++ {
		c := time.Date(y, m, d+i, hour, minute, 0, 0, from.Location())
		if days[c.Weekday()] && c.After(from) {
			return c, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no weekday selected", ErrValidation)
}

func parseClock(s string) (hour, minute int, err error) {
	t, perr := time.Parse("15:04", strings.TrimSpace(s))
	if perr != nil {
		return 0, 0, fmt.Errorf("%w: schedule_time must be HH:MM, got %q", ErrValidation, s)
	}
	return t.Hour(), t.Minute(), nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, false
		}
		return time.Weekday(n), true
	}
	if len(s) >= 3 {
		if d, ok := weekdayNames[s[:3]]; ok && strings.HasPrefix(strings.ToLower(d.String()), s) {
			return d, true
		}
	}
	return 0, false
}

// parseWeekdays accepts a comma list of weekday names or numbers (0 = Sunday)
// with optional ranges, e.g. "mon,wed,fri", "1-5", "sat,sun".
func parseWeekdays(value string) ([7]bool, error) {
	var days [7]bool
	if strings.TrimSpace(value) == "" {
		return days, fmt.Errorf("%w: weekly schedule_value must list weekdays", ErrValidation)
	}
	for _, part := range strings.Split(value, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		from, ok := parseWeekday(lo)
		if !ok {
			return days, fmt.Errorf("%w: unknown weekday %q", ErrValidation, strings.TrimSpace(lo))
		}
		to := from
		if isRange {
			if to, ok = parseWeekday(hi); !ok {
				return days, fmt.Errorf("%w: unknown weekday %q", ErrValidation, strings.TrimSpace(hi))
			}
		}
		for d := from; ; d = (d + 1) % 7 {
			days[d] = true
			if d == to {
				break
			}
		}
	}
	return days, nil
}

func nextCron(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid cron expression %q: %v", ErrValidation, expr, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: cron expression %q never fires", ErrValidation, expr)
	}
	return next, nil
}
