package domain

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var june1 = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

func TestInterpolate_EvenlySpaced(t *testing.T) {
	s := seriesOf("Dano", everyStep(june1, 15*time.Minute, 4), map[string][]float64{
		VarAirTemp: {5, nan, nan, 8},
	})

	res := Interpolate(s)

	assert.True(t, res.TimeWeighted)
	assert.InDeltaSlice(t, []float64{5, 6, 7, 8}, res.Series.Values[VarAirTemp], 1e-9)
	assert.Empty(t, res.Residual)
	assert.True(t, math.IsNaN(s.Values[VarAirTemp][1]), "input must not be modified")
}

func TestInterpolate_TimeWeighted(t *testing.T) {
	times := []time.Time{june1, june1.Add(time.Hour), june1.Add(3 * time.Hour)}
	s := seriesOf("Dano", times, map[string][]float64{VarAirTemp: {0, nan, 30}})

	res := Interpolate(s)

	assert.InDeltaSlice(t, []float64{0, 10, 30}, res.Series.Values[VarAirTemp], 1e-9)
}

func TestInterpolate_EdgesFilled(t *testing.T) {
	s := seriesOf("Dano", everyStep(june1, time.Hour, 5), map[string][]float64{
		VarPressure: {nan, nan, 980, 990, nan},
	})

	res := Interpolate(s)

	assert.Equal(t, []float64{980, 980, 980, 990, 990}, res.Series.Values[VarPressure])
}

func TestInterpolate_NonChronologicalDegradesToRowOrder(t *testing.T) {
	times := []time.Time{june1, june1.Add(3 * time.Hour), june1.Add(time.Hour), june1.Add(4 * time.Hour)}
	s := seriesOf("Dano", times, map[string][]float64{VarAirTemp: {0, nan, nan, 30}})

	res := Interpolate(s)

	assert.False(t, res.TimeWeighted)
	assert.InDeltaSlice(t, []float64{0, 10, 20, 30}, res.Series.Values[VarAirTemp], 1e-9)
}

func TestInterpolate_EmptyVariableIsResidual(t *testing.T) {
	s := seriesOf("Dano", everyStep(june1, time.Hour, 3), map[string][]float64{
		VarAirTemp:  {1, 2, 3},
		VarWindDir:  {nan, nan, nan},
		"Battery_V": {nan, nan, nan},
	})

	res := Interpolate(s)

	assert.Contains(t, res.Residual, VarWindDir)
	assert.NotContains(t, res.Residual, VarAirTemp)
	assert.NotContains(t, res.Residual, "Battery_V", "only standard variables are filled")
}

func TestInterpolate_RainCoalescing(t *testing.T) {
	times := everyStep(june1, time.Hour, 4)

	tests := []struct {
		name   string
		values map[string][]float64
		source RainSource
		want   []float64
	}{
		{
			name:   "direct column kept",
			values: map[string][]float64{VarRain: {0, 1, nan, 3}, VarRain01: {9, 9, 9, 9}},
			source: RainDirect,
			want:   []float64{0, 1, 2, 3},
		},
		{
			name:   "channel 01 preferred then 02",
			values: map[string][]float64{VarRain01: {1, nan, nan, 4}, VarRain02: {7, 2, nan, 8}},
			source: RainCoalesced,
			want:   []float64{1, 2, 3, 4},
		},
		{
			name:   "empty direct column replaced",
			values: map[string][]float64{VarRain: {nan, nan, nan, nan}, VarRain02: {0, 0, 1, 0}},
			source: RainCoalesced,
			want:   []float64{0, 0, 1, 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Interpolate(seriesOf("Dano", times, tc.values))
			assert.Equal(t, tc.source, res.RainSource)
			assert.InDeltaSlice(t, tc.want, res.Series.Values[VarRain], 1e-9)
		})
	}

	t.Run("no channel at all", func(t *testing.T) {
		res := Interpolate(seriesOf("Dano", times, map[string][]float64{VarAirTemp: {1, 1, 1, 1}}))
		assert.Equal(t, RainMissing, res.RainSource)
		require.Contains(t, res.Series.Values, VarRain)
		assert.NotContains(t, res.Residual, VarRain, "missing rain is reported once")
	})
}

func TestInterpolate_SolarPolicy(t *testing.T) {
	times := everyStep(june1.Add(5*time.Hour), time.Hour, 8) // 05:00 .. 12:00
	s := seriesOf("Dano", times, map[string][]float64{
		//            05   06   07   08   09   10   11   12
		VarSolar: {40, 0, 100, 0, 300, 0, nan, 600},
		VarRain:  {0, 0, 0, 0, 0, 2, 0, 0},
	})
	s.Daylight = []bool{false, false, true, true, true, true, true, true}

	res := Interpolate(s)

	assert.Equal(t, 1, res.SuppressedZeros, "zero at 08:00 with no rain is a dropout; 10:00 had rain")
	assert.InDeltaSlice(t,
		[]float64{0, 0, 100, 200, 300, 0, 300, 600},
		res.Series.Values[VarSolar], 1e-9)
}

func TestInterpolate_SolarNightAlwaysZero(t *testing.T) {
	times := everyStep(june1, time.Hour, 24)
	solar := make([]float64, 24)
	daylight := make([]bool, 24)
	for h := range solar {
		daylight[h] = h >= 7 && h <= 18
		switch {
		case h%5 == 0:
			solar[h] = nan
		case daylight[h]:
			solar[h] = float64(100 * h)
		default:
			solar[h] = 12 // sensor noise at night
		}
	}
	s := seriesOf("Dano", times, map[string][]float64{VarSolar: solar})
	s.Daylight = daylight

	res := Interpolate(s)

	for i, v := range res.Series.Values[VarSolar] {
		require.False(t, math.IsNaN(v), "row %d still missing", i)
		if !daylight[i] {
			assert.Zero(t, v, "row %d is night", i)
		}
	}
}

func TestInterpolate_ScrubBeforeFill(t *testing.T) {
	s := seriesOf("Dano", everyStep(june1, time.Hour, 5), map[string][]float64{
		VarRelHumidity: {60, 250, nan, 70, -5},
	})
	limits := VariableLimits{VarRelHumidity: {Min: ptr(0), Max: ptr(100)}}

	scrubbed, counts := ScrubLimits(s, limits)
	res := Interpolate(scrubbed)

	assert.Equal(t, 2, counts[VarRelHumidity])
	got := res.Series.Values[VarRelHumidity]
	assert.InDeltaSlice(t, []float64{60, 63.3333333, 66.6666667, 70, 70}, got, 1e-6)
	for _, v := range got {
		assert.True(t, limits[VarRelHumidity].Contains(v))
	}
}

func TestRunInterpolation_TwoStationsGeoAndFallback(t *testing.T) {
	sun := newFakeSun()
	geo, err := NewGeoTable([]StationGeoInfo{
		{Station: "Dano", Latitude: 11.15, Longitude: -3.06, Timezone: "UTC"},
	})
	require.NoError(t, err)

	times := everyStep(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), 2*time.Hour, 24)
	mk := func(station string) Series {
		solar := make([]float64, len(times))
		temp := make([]float64, len(times))
		for i := range times {
			solar[i] = 500
			temp[i] = 25
		}
		temp[3] = nan
		return seriesOf(station, times, map[string][]float64{VarSolar: solar, VarAirTemp: temp, VarRain: make([]float64, len(times))})
	}

	out, outcomes, err := RunInterpolation(context.Background(),
		[]Series{mk("Dano"), mk("Unknown")},
		InterpolationEnv{Geo: geo, Sun: sun, Limits: VariableLimits{VarAirTemp: {Max: ptr(60)}}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, DaylightAstronomical, outcomes[0].Daylight)
	assert.Equal(t, DaylightFixed, outcomes[1].Daylight)
	assert.Contains(t, outcomes[1].FallbackReason, "no geo reference")
	assert.Len(t, sun.calls, 2, "two local dates for the geo station only")

	// 06:00 on the 1st is before the fake 06:01 sunrise, but inside the fixed window
	assert.False(t, out[0].Daylight[3])
	assert.True(t, out[1].Daylight[4])
	assert.Equal(t, "11:59:00", out[0].DaylightDuration[0])
	assert.Equal(t, "11:58:00", out[0].DaylightDuration[12])
	assert.Equal(t, FixedDaylightDuration, out[1].DaylightDuration[0])

	for _, s := range out {
		for i, day := range s.Daylight {
			if !day {
				assert.Zero(t, s.Values[VarSolar][i])
			}
		}
		assert.Equal(t, 25.0, s.Values[VarAirTemp][3])
	}
}

func TestRunInterpolation_Empty(t *testing.T) {
	_, _, err := RunInterpolation(context.Background(), nil, InterpolationEnv{})
	require.ErrorIs(t, err, ErrEmptyDataset)

	_, _, err = RunInterpolation(context.Background(), []Series{{Station: "Dano"}}, InterpolationEnv{})
	require.ErrorIs(t, err, ErrEmptyDataset)
}

func TestRunInterpolation_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sun := newFakeSun()
	sun.err = context.Canceled
	geo := GeoTable{"Dano": {Station: "Dano", Latitude: 11, Longitude: -3, Timezone: "UTC"}}
	in := []Series{seriesOf("Dano", everyStep(june1, time.Hour, 3), map[string][]float64{VarAirTemp: {1, nan, 3}})}

	out, outcomes, err := RunInterpolation(ctx, in, InterpolationEnv{Geo: geo, Sun: sun})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
	assert.Nil(t, outcomes)
}

func TestRunInterpolation_Deterministic(t *testing.T) {
	times := everyStep(june1, 30*time.Minute, 96)
	temp := make([]float64, len(times))
	for i := range temp {
		temp[i] = 20 + float64(i%7)
		if i%5 == 0 {
			temp[i] = nan
		}
	}
	in := []Series{seriesOf("Dano", times, map[string][]float64{VarAirTemp: temp})}
	geo := GeoTable{"Dano": {Station: "Dano", Latitude: 11, Longitude: -3, Timezone: "Africa/Ouagadougou"}}
	env := InterpolationEnv{Geo: geo, Sun: newFakeSun(), Limits: VariableLimits{VarAirTemp: {Max: ptr(25)}}}

	a, _, err := RunInterpolation(context.Background(), in, env)
	require.NoError(t, err)
	env.Sun = newFakeSun()
	b, _, err := RunInterpolation(context.Background(), in, env)
	require.NoError(t, err)

	assert.Equal(t, Flatten(a), Flatten(b))
}
