package domain

import (
	"context"
	"math"
	"time"
)

// RainSource records where the unified Rain_mm column came from.
type RainSource string

const (
	RainDirect    RainSource = "direct"
	RainCoalesced RainSource = "coalesced"
	RainMissing   RainSource = "missing"
)

// InterpolationResult is the outcome of Interpolate for one station.
type InterpolationResult struct {
	Series Series
	// TimeWeighted is false when the index was not strictly chronological
	// and row-order interpolation was used instead.
	TimeWeighted    bool
	RainSource      RainSource
	SuppressedZeros int
	// Residual lists standard variables still missing values, which only
	// happens when the variable had no values at all.
	Residual []string
}

// Interpolate gap-fills every standard variable of an annotated, scrubbed
// station series. Rain_mm is coalesced from Rain_01_mm then Rain_02_mm when
// absent or empty. Solar radiation is only filled across daylight rows: a
// daylight zero with zero or missing rain is treated as a dropout, and
// night rows are forced to zero.
func Interpolate(s Series) InterpolationResult {
	out := s.Clone()
	res := InterpolationResult{
		TimeWeighted: isChronological(out.Times),
		RainSource:   coalesceRain(&out),
	}

	annotated := len(out.Daylight) == out.Len()
	if solar, ok := out.Values[VarSolar]; ok && annotated {
		res.SuppressedZeros = suppressSolarZeros(solar, out.Values[VarRain], out.Daylight)
	}

	for _, name := range StandardVariables {
		vals, ok := out.Values[name]
		if !ok {
			continue
		}
		if name == VarSolar && annotated {
			fillDaylight(out.Times, vals, out.Daylight, res.TimeWeighted)
		} else {
			fillGaps(out.Times, vals, res.TimeWeighted)
		}
		// A station without any rain channel is reported once, as RainMissing.
		if name == VarRain && res.RainSource == RainMissing {
			continue
		}
		if hasMissing(vals) {
			res.Residual = append(res.Residual, name)
		}
	}

	res.Series = out
	return res
}

// coalesceRain synthesizes Rain_mm when it is absent or entirely missing.
func coalesceRain(s *Series) RainSource {
	rain, ok := s.Values[VarRain]
	if ok && !allMissing(rain) {
		return RainDirect
	}
	r1, has1 := s.Values[VarRain01]
	r2, has2 := s.Values[VarRain02]
	if !has1 && !has2 {
		if !ok {
			s.Values[VarRain] = nanSlice(s.Len())
		}
		return RainMissing
	}

	merged := nanSlice(s.Len())
	for i := range merged {
		switch {
		case has1 && !math.IsNaN(r1[i]):
			merged[i] = r1[i]
		case has2 && !math.IsNaN(r2[i]):
			merged[i] = r2[i]
		}
	}
	s.Values[VarRain] = merged
	return RainCoalesced
}

func suppressSolarZeros(solar, rain []float64, daylight []bool) int {
	n := 0
	for i, v := range solar {
		if !daylight[i] || v != 0 {
			continue
		}
		if rain == nil || math.IsNaN(rain[i]) || rain[i] == 0 {
			solar[i] = math.NaN()
			n++
		}
	}
	return n
}

// fillDaylight interpolates solar values over daylight rows only, then sets
// every night row to zero.
func fillDaylight(times []time.Time, vals []float64, daylight []bool, timeWeighted bool) {
	var idx []int
	for i, day := range daylight {
		if day {
			idx = append(idx, i)
		} else {
			vals[i] = 0
		}
	}
	if len(idx) == 0 {
		return
	}

	subTimes := make([]time.Time, len(idx))
	subVals := make([]float64, len(idx))
	for j, i := range idx {
		subTimes[j], subVals[j] = times[i], vals[i]
	}
	fillGaps(subTimes, subVals, timeWeighted)
	for j, i := range idx {
		vals[i] = subVals[j]
	}
}

// fillGaps interpolates interior gaps in place and extends the first and
// last known values over leading and trailing gaps. With timeWeighted the
// fill is proportional to elapsed time, otherwise to row position.
func fillGaps(times []time.Time, vals []float64, timeWeighted bool) {
	first, prev := -1, -1
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if first < 0 {
			first = i
		}
		if prev >= 0 && i-prev > 1 {
			span := float64(i - prev)
			if timeWeighted {
				span = float64(times[i].Sub(times[prev]))
			}
			for k := prev + 1; k < i; k++ {
				offset := float64(k - prev)
				if timeWeighted {
					offset = float64(times[k].Sub(times[prev]))
				}
				vals[k] = vals[prev] + (v-vals[prev])*offset/span
			}
		}
		prev = i
	}
	if first < 0 {
		return
	}
	for k := 0; k < first; k++ {
		vals[k] = vals[first]
	}
	for k := prev + 1; k < len(vals); k++ {
		vals[k] = vals[prev]
	}
}

func isChronological(times []time.Time) bool {
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return false
		}
	}
	return true
}

func allMissing(vals []float64) bool {
	for _, v := range vals {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

func hasMissing(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// GeoLookup resolves a station's geo reference.
type GeoLookup interface {
	Lookup(station string) (StationGeoInfo, bool)
}

// InterpolationEnv carries the reference data of the interpolation pass.
type InterpolationEnv struct {
	Geo    GeoLookup
	Sun    SunCalculator
	Limits VariableLimits
}

// StationOutcome reports the data-quality conditions met while
// interpolating one station.
type StationOutcome struct {
	Station         string         `json:"station"`
	Rows            int            `json:"rows"`
	Daylight        DaylightMethod `json:"daylight"`
	FallbackReason  string         `json:"fallback_reason,omitempty"`
	Scrubbed        map[string]int `json:"scrubbed,omitempty"`
	TimeWeighted    bool           `json:"time_weighted"`
	RainSource      RainSource     `json:"rain_source"`
	SuppressedZeros int            `json:"suppressed_solar_zeros,omitempty"`
	Residual        []string       `json:"residual_missing,omitempty"`
}

// RunInterpolation annotates, scrubs and gap-fills every station. A
// station's geometry failure only degrades that station to the fixed
// daylight window. An input with no rows is ErrEmptyDataset. A cancelled
// context aborts the run with its error.
func RunInterpolation(ctx context.Context, series []Series, env InterpolationEnv) ([]Series, []StationOutcome, error) {
	out := make([]Series, 0, len(series))
	outcomes := make([]StationOutcome, 0, len(series))
	for _, s := range series {
		if s.Len() == 0 {
			continue
		}
		var geo *StationGeoInfo
		if env.Geo != nil {
			if info, ok := env.Geo.Lookup(s.Station); ok {
				geo = &info
			}
		}

		annotated, comp := AnnotateDaylight(ctx, s, geo, env.Sun)
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		scrubbed, counts := ScrubLimits(annotated, env.Limits)
		res := Interpolate(scrubbed)

		out = append(out, res.Series)
		outcomes = append(outcomes, StationOutcome{
			Station:         s.Station,
			Rows:            s.Len(),
			Daylight:        comp.Method,
			FallbackReason:  comp.Reason,
			Scrubbed:        counts,
			TimeWeighted:    res.TimeWeighted,
			RainSource:      res.RainSource,
			SuppressedZeros: res.SuppressedZeros,
			Residual:        res.Residual,
		})
	}
	if len(out) == 0 {
		return nil, nil, ErrEmptyDataset
	}
	return out, outcomes, nil
}
