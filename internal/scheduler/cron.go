package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseCronExpression returns the next run time for a schedule expression.
// Supported forms are the @-shorthands (@hourly, @daily, @weekly, @monthly,
// @yearly) and "@every <duration>", where the duration takes the usual
// time.ParseDuration units plus a day suffix ("7d"). Five-field cron lines
// are not supported; the maintenance tasks have no need for them.
func ParseCronExpression(expr string, base time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "@yearly", "@annually":
		return time.Date(base.Year()+1, 1, 1, 0, 0, 0, 0, base.Location()), nil
	case "@monthly":
		return nextMonth(base), nil
	case "@weekly":
		return nextSunday(base), nil
	case "@daily", "@midnight":
		return time.Date(base.Year(), base.Month(), base.Day()+1, 0, 0, 0, 0, base.Location()), nil
	case "@hourly":
		return base.Add(time.Hour).Truncate(time.Hour), nil
	}
	if strings.HasPrefix(expr, "@every ") {
		d, err := parseEveryDuration(strings.TrimPrefix(expr, "@every "))
		if err != nil {
			return time.Time{}, err
		}
		return base.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("unsupported schedule %q: use @every or an @-shorthand", expr)
}

// ValidateCronExpression reports whether an expression would schedule.
func ValidateCronExpression(expr string) error {
	_, err := ParseCronExpression(expr, time.Now())
	return err
}

// parseEveryDuration reads a Go duration, with "Nd" accepted as N days
// since time.ParseDuration stops at hours.
func parseEveryDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			if n <= 0 {
				return 0, fmt.Errorf("interval must be positive, got %q", s)
			}
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %q", s)
	}
	return d, nil
}

func nextMonth(t time.Time) time.Time {
	year, month := t.Year(), t.Month()+1
	if month > 12 {
		month, year = 1, year+1
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
}

func nextSunday(t time.Time) time.Time {
	days := (7 - int(t.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	return time.Date(t.Year(), t.Month(), t.Day()+days, 0, 0, 0, 0, t.Location())
}
