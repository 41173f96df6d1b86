package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/config"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSun rises at 05:30 and sets at 18:00 UTC every day.
type fixedSun struct{}

func (fixedSun) SunriseSunset(_ context.Context, _, _ float64, d domain.Date) (domain.SunTimes, error) {
	mid := d.Midnight()
	return domain.SunTimes{Sunrise: mid.Add(5*time.Hour + 30*time.Minute), Sunset: mid.Add(18 * time.Hour)}, nil
}

var danoGeo = domain.GeoTable{
	"Dano": {Station: "Dano", Latitude: 11.15, Longitude: -3.06, Timezone: "Africa/Ouagadougou"},
}

func newProcessor(t *testing.T) *pipeline.Processor {
	t.Helper()
	layouts, err := config.LoadLayouts("")
	require.NoError(t, err)
	vars, err := config.LoadVariables("")
	require.NoError(t, err)
	return pipeline.NewProcessor(layouts, vars, danoGeo, fixedSun{}, discardLogger(), newTestMetrics())
}

func loadUpload(t *testing.T, name string) domain.RawUpload {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer f.Close()

	table, err := domain.ReadCSVTable(f)
	require.NoError(t, err)
	return domain.RawUpload{
		ID:       "upload-" + name,
		Station:  pipeline.StationFromFileName(name),
		FileName: name,
		Columns:  table.Columns,
		Rows:     table.Rows,
	}
}

func seriesOf(t *testing.T, b domain.ProcessedBatch, station string) domain.Series {
	t.Helper()
	for _, s := range b.Series {
		if s.Station == station {
			return s
		}
	}
	t.Fatalf("station %s not in batch", station)
	return domain.Series{}
}

func TestProcessor_DanoExport(t *testing.T) {
	batch, err := newProcessor(t).Process(context.Background(), loadUpload(t, "Dano_2021.csv"))
	require.NoError(t, err)

	r := batch.Report
	assert.True(t, r.KnownStation)
	assert.Equal(t, "DANO", r.Basin)
	assert.Equal(t, domain.TimestampSplit, r.TimestampSource)
	assert.Equal(t, 8, r.RowsIn)
	assert.Equal(t, 6, r.RowsOut)
	assert.Equal(t, 1, r.DroppedTimestamps)
	assert.Equal(t, 1, r.DuplicatesRemoved)
	assert.Equal(t, map[string]int{domain.VarRelHumidity: 1}, r.Scrubbed())
	assert.Empty(t, r.Fallbacks())

	s := seriesOf(t, batch, "Dano")
	assert.NotContains(t, s.Values, "RECORD")
	assert.NotContains(t, s.Values, "BattV_Min")
	assert.InDeltaSlice(t, []float64{24.1, 23.8, 24.4, 25.0, 26.2, 27.5}, s.Values[domain.VarAirTemp], 1e-9,
		"first duplicate wins and its gap is filled")
	assert.InDelta(t, 81.5, s.Values[domain.VarRelHumidity][3], 1e-9)
	assert.InDelta(t, 1.8, s.Values[domain.VarWindSpeed][4], 1e-9)
	assert.InDelta(t, 980.9, s.Values[domain.VarPressure][5], 1e-9)
	assert.Equal(t, []bool{false, false, true, true, true, true}, s.Daylight)
	assert.Equal(t, []float64{0, 0, 15, 120, 310, 480}, s.Values[domain.VarSolar])
	assert.Equal(t, "12:30:00", s.DaylightDuration[0])
}

func TestProcessor_DassariSplitColumnsAndRainChannels(t *testing.T) {
	batch, err := newProcessor(t).Process(context.Background(), loadUpload(t, "Dassari_2021.csv"))
	require.NoError(t, err)

	assert.Equal(t, "DASSARI", batch.Report.Basin)
	assert.Equal(t, []string{"Dassari"}, batch.Report.Fallbacks(), "no geo reference for Dassari")
	require.Len(t, batch.Report.Stations, 1)
	assert.Equal(t, domain.RainCoalesced, batch.Report.Stations[0].RainSource)

	s := seriesOf(t, batch, "Dassari")
	assert.Equal(t, time.Date(2021, 7, 15, 6, 0, 0, 0, time.UTC), s.Times[0])
	assert.Equal(t, []float64{22.5, 23.0, 24.1, 25.3}, s.Values[domain.VarAirTemp], "decimal commas")
	assert.InDeltaSlice(t, []float64{0, 1.2, 0.4, 0}, s.Values[domain.VarRain], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 5, 102.5, 200}, s.Values[domain.VarSolar], 1e-9)
	assert.Equal(t, []string{
		domain.FixedDaylightDuration, domain.FixedDaylightDuration,
		domain.FixedDaylightDuration, domain.FixedDaylightDuration,
	}, s.DaylightDuration)
}

func TestProcessor_UnknownStationPassesThrough(t *testing.T) {
	up := domain.RawUpload{
		ID:      "u-1",
		Station: "Mystery",
		Columns: []string{"Datetime", "Rel_H_Pct", "Custom"},
		Rows: [][]string{
			{"2021-06-01 10:00", "50", "1"},
			{"2021-06-01 11:00", "", "2"},
			{"2021-06-01 12:00", "70", "3"},
		},
	}

	batch, err := newProcessor(t).Process(context.Background(), up)
	require.NoError(t, err)

	assert.False(t, batch.Report.KnownStation)
	assert.Equal(t, domain.TimestampCombined, batch.Report.TimestampSource)
	s := seriesOf(t, batch, "Mystery")
	assert.Equal(t, []float64{50, 60, 70}, s.Values[domain.VarRelHumidity], "alias folded into canonical name")
	assert.Equal(t, []float64{1, 2, 3}, s.Values["Custom"])
}

func TestProcessor_StationColumnSplitsSeries(t *testing.T) {
	up := domain.RawUpload{
		Station: "Dano",
		Columns: []string{"Station", "Datetime", "Air_Temp_Deg_C"},
		Rows: [][]string{
			{"Fafo", "2021-06-01 10:00", "30"},
			{"", "2021-06-01 10:00", "31"},
			{"Fafo", "2021-06-01 09:00", "29"},
		},
	}

	batch, err := newProcessor(t).Process(context.Background(), up)
	require.NoError(t, err)

	assert.Equal(t, []string{"Dano", "Fafo"}, batch.Stations())
	assert.NotEmpty(t, batch.UploadID, "upload id is generated when absent")

	rows := batch.Readings()
	require.Len(t, rows, 3)
	assert.Equal(t, "Fafo", rows[0].Station)
	assert.Equal(t, 9, rows[0].Hour)
	assert.Equal(t, "Dano", rows[1].Station, "same instant sorts by station")
}

func TestProcessor_StructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		up    domain.RawUpload
		stage domain.Stage
		err   error
	}{
		{
			name:  "no timestamp columns",
			up:    domain.RawUpload{Station: "Dano", Columns: []string{"AirTC_Avg"}, Rows: [][]string{{"20"}}},
			stage: domain.StageTimestamp,
			err:   domain.ErrNoTimestampSource,
		},
		{
			name:  "every timestamp unparseable",
			up:    domain.RawUpload{Station: "Mystery", Columns: []string{"Datetime", "X"}, Rows: [][]string{{"soon", "1"}}},
			stage: domain.StageTimestamp,
			err:   domain.ErrNoTimestampSource,
		},
		{
			name:  "no rows",
			up:    domain.RawUpload{Station: "Mystery", Columns: []string{"Datetime", "X"}},
			stage: domain.StageInterpolate,
			err:   domain.ErrEmptyDataset,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newProcessor(t).Process(context.Background(), tc.up)
			require.ErrorIs(t, err, tc.err)

			var se *domain.StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.stage, se.Stage)
		})
	}
}

func TestProcessor_TransformPayloads(t *testing.T) {
	p := newProcessor(t)
	ctx := context.Background()

	t.Run("json upload", func(t *testing.T) {
		payload, err := json.Marshal(loadUpload(t, "Dano_2021.csv"))
		require.NoError(t, err)

		batch, err := p.Transform(ctx, domain.RawEvent{Key: []byte("k"), Value: payload})
		require.NoError(t, err)
		assert.Equal(t, "upload-Dano_2021.csv", batch.UploadID)
		assert.Equal(t, []string{"Dano"}, batch.Stations())
	})

	t.Run("csv body with headers", func(t *testing.T) {
		body, err := os.ReadFile(filepath.Join("testdata", "Dassari_2021.csv"))
		require.NoError(t, err)

		batch, err := p.Transform(ctx, domain.RawEvent{
			Key:   []byte("dassari-1"),
			Value: body,
			Headers: map[string]string{
				pipeline.HeaderContentType: pipeline.ContentTypeCSV,
				pipeline.HeaderFileName:    "Dassari_2021.csv",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "dassari-1", batch.UploadID)
		assert.Equal(t, []string{"Dassari"}, batch.Stations(), "station derived from file name")
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := p.Transform(ctx, domain.RawEvent{Value: []byte("not-json{{{")})
		var se *domain.StageError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, domain.StageDecode, se.Stage)
	})

	t.Run("no station identity", func(t *testing.T) {
		_, err := p.Transform(ctx, domain.RawEvent{Value: []byte(`{"columns":["Datetime"],"rows":[]}`)})
		require.ErrorContains(t, err, "no station identity")
	})
}

func TestProcessor_Deterministic(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	p := newProcessor(t)
	up := loadUpload(t, "Dano_2021.csv")

	a, err := p.Process(context.Background(), up)
	require.NoError(t, err)
	b, err := p.Process(context.Background(), up)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC), a.ProcessedAt)
	if diff := cmp.Diff(a.Readings(), b.Readings(), cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("processing is not deterministic (-first +second):\n%s", diff)
	}
}

func TestStationFromFileName(t *testing.T) {
	assert.Equal(t, "Dano", pipeline.StationFromFileName("/data/raw/Dano_2021.csv"))
	assert.Equal(t, "Léo", pipeline.StationFromFileName("Léo-juin.txt"))
	assert.Equal(t, "Koundri", pipeline.StationFromFileName("Koundri.csv"))
}
