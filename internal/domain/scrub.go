package domain

import "math"

// Limits bounds a variable. A nil side means unbounded.
type Limits struct {
	Min *float64 `json:"min,omitempty" yaml:"min"`
	Max *float64 `json:"max,omitempty" yaml:"max"`
}

// Contains reports whether v is within the limits. NaN is never out of range.
func (l Limits) Contains(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if l.Min != nil && v < *l.Min {
		return false
	}
	if l.Max != nil && v > *l.Max {
		return false
	}
	return true
}

// VariableLimits maps canonical variable names to their bounds.
type VariableLimits map[string]Limits

// ScrubLimits returns a copy of s in which every configured variable's
// out-of-range values are missing, plus the number nulled per variable.
// Variables with nothing nulled are omitted from the counts.
func ScrubLimits(s Series, limits VariableLimits) (Series, map[string]int) {
	out := s.Clone()
	counts := make(map[string]int)
	for name, lim := range limits {
		vals, ok := out.Values[name]
		if !ok {
			continue
		}
		for i, v := range vals {
			if !lim.Contains(v) {
				vals[i] = math.NaN()
				counts[name]++
			}
		}
	}
	return out, counts
}
