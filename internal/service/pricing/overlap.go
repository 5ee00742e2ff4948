package pricing

import (
	"time"

	"github.com/sudspoint/washcore/internal/entity"
)

// overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. A nil end is unbounded.
func overlaps(s1 time.Time, e1 *time.Time, s2 time.Time, e2 *time.Time) bool {
	if e2 != nil && !s1.Before(*e2) {
		return false
	}
	if e1 != nil && !s2.Before(*e1) {
		return false
	}
	return true
}

// findConflict returns the first active rule whose interval intersects
// [start, end), or nil.
func findConflict(rules []*entity.PriceRule, start time.Time, end *time.Time) *entity.PriceRule {
	for _, rule := range rules {
		if overlaps(rule.StartsOn, rule.EndsOn, start, end) {
			return rule
		}
	}
	return nil
}

// pick selects the effective rule for asOf. When more than one matches
// (which the overlap invariant should prevent) the latest start wins.
func pick(rules []*entity.PriceRule, asOf time.Time) *entity.PriceRule {
	var best *entity.PriceRule
	for _, rule := range rules {
		if !rule.Contains(asOf) {
			continue
		}
		if best == nil || rule.StartsOn.After(best.StartsOn) {
			best = rule
		}
	}
	return best
}

// dateOf truncates an instant to its UTC calendar date. Price validity is
// day-granular.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
