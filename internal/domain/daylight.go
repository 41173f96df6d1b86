package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fixed diurnal window used when sunrise/sunset cannot be computed.
const (
	fixedDaylightStartHour = 7
	fixedDaylightEndHour   = 18
	FixedDaylightDuration  = "11:00:00"
)

// SunTimes holds the sunrise and sunset instants of one local date.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
}

// SunCalculator computes sunrise and sunset (UTC) for an observer on a local
// calendar date.
type SunCalculator interface {
	SunriseSunset(ctx context.Context, lat, lon float64, date Date) (SunTimes, error)
}

// DaylightMethod identifies which variant produced a daylight annotation.
type DaylightMethod string

const (
	DaylightAstronomical DaylightMethod = "astronomical"
	DaylightFixed        DaylightMethod = "fixed"
)

// DaylightComputation is either astronomical (one sunrise/sunset pair per
// local date) or the fixed 07:00-18:00 fallback.
type DaylightComputation struct {
	Method   DaylightMethod
	Location *time.Location
	Days     map[Date]SunTimes
	// Reason explains a fallback.
	Reason string
}

// FixedDaylight returns the fallback variant.
func FixedDaylight(reason string) DaylightComputation {
	return DaylightComputation{Method: DaylightFixed, Reason: reason}
}

// ComputeDaylight selects the daylight variant for one station. Missing or
// invalid geo info, or any calculator failure, yields the fixed fallback.
// The calculator is called once per distinct local date.
func ComputeDaylight(ctx context.Context, calc SunCalculator, geo *StationGeoInfo, times []time.Time) DaylightComputation {
	if geo == nil {
		return FixedDaylight("no geo reference for station")
	}
	if calc == nil {
		return FixedDaylight("no sun calculator configured")
	}
	loc, err := geo.Location()
	if err != nil {
		return FixedDaylight(err.Error())
	}

	days := make(map[Date]SunTimes)
	for _, t := range times {
		d := DateOf(t.UTC().In(loc))
		if _, ok := days[d]; ok {
			continue
		}
		st, err := calc.SunriseSunset(ctx, geo.Latitude, geo.Longitude, d)
		if err != nil {
			return FixedDaylight(fmt.Sprintf("sunrise/sunset for %s: %v", d, err))
		}
		if !st.Sunset.After(st.Sunrise) {
			return FixedDaylight(fmt.Sprintf("sunrise/sunset for %s: %v", d, errNoDaylightInterval))
		}
		days[d] = st
	}
	return DaylightComputation{Method: DaylightAstronomical, Location: loc, Days: days}
}

var errNoDaylightInterval = errors.New("sunset does not follow sunrise")

// Classify returns the daylight flag and HH:MM:SS day length for t.
func (d DaylightComputation) Classify(t time.Time) (bool, string) {
	t = t.UTC()
	if d.Method == DaylightAstronomical {
		if st, ok := d.Days[DateOf(t.In(d.Location))]; ok {
			daylight := !t.Before(st.Sunrise) && t.Before(st.Sunset)
			return daylight, FormatClock(st.Sunset.Sub(st.Sunrise))
		}
	}
	h := t.Hour()
	return h >= fixedDaylightStartHour && h <= fixedDaylightEndHour, FixedDaylightDuration
}

// AnnotateDaylight returns a copy of s with Daylight and DaylightDuration
// filled, along with the variant that produced them.
func AnnotateDaylight(ctx context.Context, s Series, geo *StationGeoInfo, calc SunCalculator) (Series, DaylightComputation) {
	comp := ComputeDaylight(ctx, calc, geo, s.Times)
	out := s.Clone()
	out.Daylight = make([]bool, s.Len())
	out.DaylightDuration = make([]string, s.Len())
	for i, t := range s.Times {
		out.Daylight[i], out.DaylightDuration[i] = comp.Classify(t)
	}
	return out, comp
}

// FormatClock formats a duration as HH:MM:SS, rounded to the second.
func FormatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
