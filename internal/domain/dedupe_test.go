package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicate_FirstOccurrenceWins(t *testing.T) {
	ts := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	readings := []Reading{
		{Station: "Dano", Time: ts, Values: map[string]float64{VarAirTemp: 20}},
		{Station: "Dano", Time: ts.Add(15 * time.Minute), Values: map[string]float64{VarAirTemp: 21}},
		{Station: "Dano", Time: ts, Values: map[string]float64{VarAirTemp: 99}},
		{Station: "Fafo", Time: ts, Values: map[string]float64{VarAirTemp: 30}},
	}

	out, removed := Deduplicate(readings)

	assert.Equal(t, 1, removed)
	assert.Len(t, out, 3)
	assert.Equal(t, 20.0, out[0].Values[VarAirTemp])
	assert.Equal(t, 21.0, out[1].Values[VarAirTemp])
	assert.Equal(t, "Fafo", out[2].Station)
	assert.Len(t, readings, 4, "input must not be modified")
}

func TestDeduplicate_Idempotent(t *testing.T) {
	ts := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	readings := []Reading{
		{Station: "Dano", Time: ts},
		{Station: "Dano", Time: ts},
		{Station: "Dano", Time: ts.Add(time.Minute)},
		{Station: "Dano", Time: ts.Add(time.Minute)},
	}

	once, removedOnce := Deduplicate(readings)
	twice, removedTwice := Deduplicate(once)

	assert.Equal(t, 2, removedOnce)
	assert.Equal(t, 0, removedTwice)
	assert.Equal(t, once, twice)
}

func TestDeduplicate_SameInstantDifferentZones(t *testing.T) {
	utc := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	other := utc.In(time.FixedZone("WAT", 3600))

	out, removed := Deduplicate([]Reading{{Station: "Dano", Time: utc}, {Station: "Dano", Time: other}})

	assert.Equal(t, 1, removed)
	assert.Len(t, out, 1)
}

func TestMergeSeries(t *testing.T) {
	y2021 := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	y2022 := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

	base := seriesOf("Dano", everyStep(y2021, time.Hour, 2), map[string][]float64{VarAirTemp: {20, 21}})
	base.Daylight = []bool{false, false}
	base.DaylightDuration = []string{FixedDaylightDuration, FixedDaylightDuration}

	incoming := seriesOf("Dano",
		[]time.Time{y2022, y2021.Add(time.Hour)},
		map[string][]float64{VarAirTemp: {30, 99}, VarRain: {1, 0}})
	incoming.Daylight = []bool{true, true}
	incoming.DaylightDuration = []string{"12:00:00", "12:00:00"}

	got := MergeSeries(base, incoming)

	require.Equal(t, []time.Time{y2021, y2021.Add(time.Hour), y2022}, got.Times)
	assert.Equal(t, []float64{20, 99, 30}, got.Values[VarAirTemp], "incoming wins on the same timestamp")
	assert.True(t, math.IsNaN(got.Values[VarRain][0]), "column absent from the older row")
	assert.Equal(t, []float64{0, 1}, got.Values[VarRain][1:])
	assert.Equal(t, []bool{false, true, true}, got.Daylight)
	assert.Equal(t, FixedDaylightDuration, got.DaylightDuration[0])

	assert.Equal(t, []float64{20, 21}, base.Values[VarAirTemp], "inputs are not modified")
	assert.Equal(t, incoming.Times, MergeSeries(Series{}, incoming).Times)
}
