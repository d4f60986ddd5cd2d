package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidTime = errors.New("invalid timestamp")

var wallClockLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Zone returns the fixed zone used for a user's offset. Daylight saving
// changes are not tracked.
func Zone(offsetSeconds int) *time.Location {
	if offsetSeconds == 0 {
		return time.UTC
	}
	return time.FixedZone(formatOffset(offsetSeconds), offsetSeconds)
}

func formatOffset(offsetSeconds int) string {
	sign := '+'
	if offsetSeconds < 0 {
		sign = '-'
		offsetSeconds = -offsetSeconds
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetSeconds/3600, (offsetSeconds%3600)/60)
}

// ToAbsolute reads the wall clock of local, ignoring its location, as a time
// offsetSeconds east of UTC and returns the matching instant in UTC.
func ToAbsolute(local time.Time, offsetSeconds int) time.Time {
	y, mo, d := local.Date()
	h, mi, s := local.Clock()
	return time.Date(y, mo, d, h, mi, s, local.Nanosecond(), Zone(offsetSeconds)).UTC()
}

// ToLocal expresses an instant on the user's wall clock.
func ToLocal(abs time.Time, offsetSeconds int) time.Time {
	return abs.In(Zone(offsetSeconds))
}

// ParseLocal parses a timestamp supplied on the user's behalf. Values with an
// explicit zone (RFC 3339) are absolute already; bare wall-clock values are
// converted with offsetSeconds.
func ParseLocal(value string, offsetSeconds int) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTime)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range wallClockLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return ToAbsolute(t, offsetSeconds), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, value)
}

// dayKey identifies the user's calendar day containing abs.
func dayKey(abs time.Time, offsetSeconds int) string {
	return ToLocal(abs, offsetSeconds).Format(time.DateOnly)
}

func startOfDay(abs time.Time, offsetSeconds int) time.Time {
	y, m, d := ToLocal(abs, offsetSeconds).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, Zone(offsetSeconds)).UTC()
}
