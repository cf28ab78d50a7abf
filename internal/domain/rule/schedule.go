package rule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// minutesPerDay bounds a parsed time of day.
const minutesPerDay = 24 * 60

var (
	// ErrInvalidClock is returned for times of day not in H:MM or HH:MM form.
	ErrInvalidClock = errors.New("time of day must be H:MM or HH:MM")
	// ErrInvalidWeekday is returned for weekdays outside 0 (Sunday) to 6 (Saturday).
	ErrInvalidWeekday = errors.New("weekday must be between 0 and 6")
)

// Schedule restricts a rule to a set of weekdays and an inclusive time-of-day window.
type Schedule struct {
	// Days lists allowed weekdays, 0 = Sunday through 6 = Saturday.
	Days []int `json:"days" yaml:"days"`
	// StartTime opens the window, H:MM or HH:MM.
	StartTime string `json:"startTime" yaml:"startTime"`
	// EndTime closes the window, H:MM or HH:MM, inclusive.
	EndTime string `json:"endTime" yaml:"endTime"`
}

// Validate checks weekdays and both window bounds.
func (s *Schedule) Validate() error {
	for _, d := range s.Days {
		if d < int(time.Sunday) || d > int(time.Saturday) {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
	}

	if _, err := parseClock(s.StartTime); err != nil {
		return fmt.Errorf("startTime: %w", err)
	}

	if _, err := parseClock(s.EndTime); err != nil {
		return fmt.Errorf("endTime: %w", err)
	}

	return nil
}

// Allows reports whether t falls inside the schedule. The weekday and clock are
// read in t's location. A window whose start is after its end wraps midnight,
// and the weekday check applies to the day the window opened on.
func (s *Schedule) Allows(t time.Time) (bool, error) {
	start, err := parseClock(s.StartTime)
	if err != nil {
		return false, fmt.Errorf("startTime: %w", err)
	}

	end, err := parseClock(s.EndTime)
	if err != nil {
		return false, fmt.Errorf("endTime: %w", err)
	}

	now := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	switch {
	case start <= end:
		if now < start || now > end {
			return false, nil
		}
	case now >= start:
		// Evening part of an overnight window.
	case now <= end:
		// Early-morning part: the window opened the previous day.
		day = (day + 6) % 7
	default:
		return false, nil
	}

	for _, d := range s.Days {
		if time.Weekday(d) == day {
			return true, nil
		}
	}

	return false, nil
}

// parseClock converts H:MM or HH:MM into minutes since midnight.
func parseClock(value string) (int, error) {
	h, m, ok := strings.Cut(value, ":")
	if !ok || len(h) < 1 || len(h) > 2 || len(m) != 2 || !digits(h) || !digits(m) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}

	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)

	clock := hours*60 + minutes
	if minutes > 59 || clock >= minutesPerDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}

	return clock, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
