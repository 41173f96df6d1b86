package domain

import (
	"fmt"
	"math"
	"time"
)

// TimestampSource records which columns produced the Datetime key.
type TimestampSource string

const (
	TimestampCombined TimestampSource = "combined"
	TimestampSplit    TimestampSource = "split"
)

// BuildResult is the outcome of BuildReadings.
type BuildResult struct {
	Readings []Reading
	Source   TimestampSource
	// DroppedRows counts rows whose timestamp could not be built.
	DroppedRows int
}

// BuildReadings derives one timestamp per row and parses every remaining
// column as a numeric variable. The combined Datetime/Date column is used
// when it exists and either the layout prefers it or no split component
// exists; otherwise the split components are used, with absent components
// defaulting to 2000-01-01 00:00.
//
// Rows whose Station cell is non-empty keep that station; all other rows
// take the given station identity.
func BuildReadings(t RawTable, station string, layout StationLayout) (BuildResult, error) {
	combined := -1
	for _, c := range []string{ColDatetime, ColDate} {
		if idx := t.Index(c); idx >= 0 {
			combined = idx
			break
		}
	}
	split := splitIndexes(t)
	hasSplit := false
	for _, idx := range split {
		if idx >= 0 {
			hasSplit = true
		}
	}

	var res BuildResult
	switch {
	case combined >= 0 && (layout.PreferCombinedDate || !hasSplit):
		res.Source = TimestampCombined
	case hasSplit:
		res.Source = TimestampSplit
	default:
		return BuildResult{}, ErrNoTimestampSource
	}

	stationIdx := t.Index(ColStation)
	valueCols := valueColumns(t)

	res.Readings = make([]Reading, 0, len(t.Rows))
	for i := range t.Rows {
		var ts time.Time
		var ok bool
		if res.Source == TimestampCombined {
			ts, ok = parseTimestamp(t.Cell(i, combined), layout.DateFormats)
		} else {
			ts, ok = splitTimestamp(t, i, split)
		}
		if !ok {
			res.DroppedRows++
			continue
		}

		r := Reading{Station: station, Time: ts, Values: make(map[string]float64, len(valueCols))}
		if s := t.Cell(i, stationIdx); stationIdx >= 0 && s != "" {
			r.Station = s
		}
		for name, idx := range valueCols {
			r.Values[name] = ParseNumeric(t.Cell(i, idx))
		}
		res.Readings = append(res.Readings, r)
	}

	if len(t.Rows) > 0 && len(res.Readings) == 0 {
		return res, fmt.Errorf("%w: all %d rows have unparseable %s timestamps", ErrNoTimestampSource, len(t.Rows), res.Source)
	}
	return res, nil
}

// splitIndexes returns the column index of Year, Month, Day, Hour, Minute
// (-1 when absent).
func splitIndexes(t RawTable) [5]int {
	return [5]int{t.Index(ColYear), t.Index(ColMonth), t.Index(ColDay), t.Index(ColHour), t.Index(ColMinute)}
}

func splitTimestamp(t RawTable, row int, idx [5]int) (time.Time, bool) {
	parts := [5]int{2000, 1, 1, 0, 0}
	for k, col := range idx {
		if col < 0 {
			continue
		}
		v := ParseNumeric(t.Cell(row, col))
		if math.IsNaN(v) || v != math.Trunc(v) {
			return time.Time{}, false
		}
		parts[k] = int(v)
	}
	year, month, day, hour, minute := parts[0], parts[1], parts[2], parts[3], parts[4]
	if month < 1 || month > 12 || day < 1 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, false
	}
	ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if ts.Day() != day {
		return time.Time{}, false
	}
	return ts, true
}

// valueColumns maps every non-key column to its index. Later duplicates of a
// column name are ignored.
func valueColumns(t RawTable) map[string]int {
	out := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if c == "" || timeColumns[c] {
			continue
		}
		if _, dup := out[c]; dup {
			continue
		}
		out[c] = i
	}
	return out
}
