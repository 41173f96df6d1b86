package domain

import (
	"context"
	"errors"
	"math"
	"time"
)

var nan = math.NaN()

func ptr(v float64) *float64 { return &v }

// everyStep returns n times starting at start, step apart.
func everyStep(start time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

func seriesOf(station string, times []time.Time, values map[string][]float64) Series {
	return Series{Station: station, Times: times, Values: values}
}

// fakeSun returns sunrise at 06:00 UTC plus one minute per day of month and
// sunset at 18:00 UTC, and counts calls per date.
type fakeSun struct {
	calls map[Date]int
	err   error
}

func newFakeSun() *fakeSun { return &fakeSun{calls: make(map[Date]int)} }

func (f *fakeSun) SunriseSunset(_ context.Context, _, _ float64, d Date) (SunTimes, error) {
	f.calls[d]++
	if f.err != nil {
		return SunTimes{}, f.err
	}
	mid := d.Midnight()
	return SunTimes{
		Sunrise: mid.Add(6*time.Hour + time.Duration(d.Day)*time.Minute),
		Sunset:  mid.Add(18 * time.Hour),
	}, nil
}

var errPolar = errors.New("sun never rises")
