package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyFixture(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "internal", "pipeline", "testdata", name))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestRun_ProcessesExports(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir, "Dano_2021.csv")
	copyFixture(t, dir, "Dassari_2021.csv")

	summaryPath := filepath.Join(t.TempDir(), "summary.csv")
	parquetDir := filepath.Join(t.TempDir(), "parquet")

	var out bytes.Buffer
	code := run(context.Background(), options{
		dir:        dir,
		parquetDir: parquetDir,
		summary:    summaryPath,
		gapDays:    60,
	}, &out)

	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "Dano_2021.csv")
	assert.Contains(t, out.String(), "All uploads processed.")
	assert.NotContains(t, out.String(), "FAIL")

	for _, station := range []string{"Dano", "Dassari"} {
		_, err := os.Stat(filepath.Join(parquetDir, station+".parquet"))
		assert.NoError(t, err, station)
	}

	f, err := os.Open(summaryPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Greater(t, len(records), 2)
	assert.Contains(t, records[0], "variable")
}

func TestRun_EmptyDir(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), options{dir: t.TempDir()}, &out))
}

func TestChecks(t *testing.T) {
	t0 := time.Date(2021, 7, 1, 12, 0, 0, 0, time.UTC)
	hi := 100.0
	batch := domain.ProcessedBatch{
		Series: []domain.Series{{
			Station:          "Dano",
			Times:            []time.Time{t0, t0},
			Values:           map[string][]float64{domain.VarRelHumidity: {50, 120}, domain.VarSolar: {0, 5}},
			Daylight:         []bool{true, false},
			DaylightDuration: []string{"12:00:00", "12:00:00"},
		}},
		Report: domain.Report{Stations: []domain.StationOutcome{
			{Station: "Dano", RainSource: domain.RainMissing, Residual: []string{domain.VarPressure}},
		}},
	}
	batches := []domain.ProcessedBatch{batch}

	tests := []struct {
		name   string
		phase  *phase
		errors int
	}{
		{"duplicate key", checkUniqueKeys(batches), 1},
		{"out of range", checkLimits(batches, domain.VariableLimits{domain.VarRelHumidity: {Max: &hi}}), 1},
		{"night solar", checkDaylight(batches), 1},
		{"residual", checkResidual(batches), 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Len(t, tc.phase.errors, tc.errors, tc.phase.errors)
			assert.False(t, tc.phase.passed())
		})
	}
}
