package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

// Parse accepts a 5-field cron expression (minute hour day-of-month month
// day-of-week) or one of the @daily style descriptors. Expressions carrying
// their own TZ= prefix are rejected: the owner's offset decides the zone.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: %q must not set a timezone", ErrInvalidSchedule, expr)
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return s, nil
}

// NextOccurrences lists every instant in [from, to) matched by expr when the
// expression is read in a fixed zone offsetSeconds east of UTC. Results are
// in UTC and ascending.
func NextOccurrences(expr string, from, to time.Time, offsetSeconds int) ([]time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, nil
	}

	zone := Zone(offsetSeconds)
	var out []time.Time
	// Next is strictly-after; stepping back 1ns makes from inclusive.
	for t := s.Next(from.In(zone).Add(-time.Nanosecond)); !t.IsZero() && t.Before(to); t = s.Next(t) {
		out = append(out, t.UTC())
	}
	return out, nil
}
