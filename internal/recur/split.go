// Package recur implements the recurrence-rule arithmetic the outbox depends
// on for "edit this and future occurrences" semantics.
package recur

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// SplitForFuture truncates an RRULE so the series ends just before boundary:
// UNTIL is set to one second before the boundary and any COUNT limit is
// dropped (UNTIL and COUNT are mutually exclusive end conditions, and after a
// split the count no longer describes the shortened past portion).
//
// The caller splits a series "this and all future" by keeping the truncated
// rule on the existing master and creating a new master at the boundary with
// the continuing rule.
func SplitForFuture(rule string, boundary time.Time) (string, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return "", fmt.Errorf("parse recurrence rule %q: %w", rule, err)
	}

	opt.Until = boundary.Add(-time.Second).UTC()
	opt.Count = 0

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return "", fmt.Errorf("truncate recurrence rule %q: %w", rule, err)
	}
	return r.String(), nil
}

// OccursOnOrAfter reports whether a series with the given rule and start has
// at least one occurrence at or after the boundary. A split at a boundary the
// series never reaches would truncate nothing and create an empty
// continuation, so callers reject it.
func OccursOnOrAfter(rule string, dtstart, boundary time.Time) (bool, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return false, fmt.Errorf("parse recurrence rule %q: %w", rule, err)
	}
	opt.Dtstart = dtstart.UTC()

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return false, fmt.Errorf("evaluate recurrence rule %q: %w", rule, err)
	}

	next := r.After(boundary.UTC(), true)
	return !next.IsZero(), nil
}
