package domain

import "time"

type readingKey struct {
	station string
	unix    int64
}

func keyOf(station string, t time.Time) readingKey {
	return readingKey{station: station, unix: t.UnixNano()}
}

// Deduplicate keeps the first reading of each (Station, Time) pair in input
// order and returns how many were removed. The input slice is not modified.
func Deduplicate(readings []Reading) ([]Reading, int) {
	seen := make(map[readingKey]struct{}, len(readings))
	out := make([]Reading, 0, len(readings))
	for _, r := range readings {
		k := keyOf(r.Station, r.Time)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(readings) - len(out)
}
