package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var reClock = regexp.MustCompile(`^([0-9]{1,2}):([0-9]{2})$`)

// QuietHours is a local time-of-day window [Start, End). Start > End wraps
// past midnight. Start == End disables the window.
type QuietHours struct {
	Start time.Duration // offset from local midnight
	End   time.Duration
}

// Enabled reports whether the window covers any time at all.
func (q QuietHours) Enabled() bool { return q.Start != q.End }

func (q QuietHours) String() string {
	if !q.Enabled() {
		return "off"
	}
	return formatClock(q.Start) + "-" + formatClock(q.End)
}

// ParseQuietHours parses "HH:MM" bounds. Two empty strings yield a disabled window.
func ParseQuietHours(start, end string) (QuietHours, error) {
	if start == "" && end == "" {
		return QuietHours{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours start: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours end: %w", err)
	}
	return QuietHours{Start: s, End: e}, nil
}

// ParseClock parses a 24h "HH:MM" time of day.
func ParseClock(v string) (time.Duration, error) {
	m := reClock.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// timeOfDay is the offset of now from its local midnight.
func timeOfDay(now time.Time) time.Duration {
	h, m, s := now.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(now.Nanosecond())
}

// IsQuiet reports whether now (in its own location) falls inside q.
func IsQuiet(now time.Time, q QuietHours) bool {
	if !q.Enabled() {
		return false
	}
	t := timeOfDay(now)
	if q.Start < q.End {
		return t >= q.Start && t < q.End
	}
	return t >= q.Start || t < q.End
}

// NextEnd returns the first instant after now at which q ends.
func NextEnd(now time.Time, q QuietHours) time.Time {
	y, mo, d := now.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
	end := midnight.Add(q.End)
	if !end.After(now) {
		end = time.Date(y, mo, d+1, 0, 0, 0, 0, now.Location()).Add(q.End)
	}
	return end
}
