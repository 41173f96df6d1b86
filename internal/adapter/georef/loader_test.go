package georef

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/config"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const latLonCSV = `Station,Latitude,Longitude,Timezone
Dano,11.15,-3.06,
Dassari,10.81,1.12,Africa/Porto-Novo
Mystery,5.6,-0.2,Africa/Accra
`

func testLayouts(t *testing.T) *domain.LayoutRegistry {
	t.Helper()
	reg, err := config.LoadLayouts("")
	require.NoError(t, err)
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLoader(t *testing.T, url, cache string) (*Loader, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	return NewLoader(url, cache, 5*time.Second, testLayouts(t), discardLogger(), metrics), metrics
}

func TestParse_LatLon(t *testing.T) {
	table, err := Parse(strings.NewReader(latLonCSV), testLayouts(t), discardLogger())
	require.NoError(t, err)
	require.Len(t, table, 3)

	dano, ok := table.Lookup("Dano")
	require.True(t, ok)
	assert.InDelta(t, 11.15, dano.Latitude, 1e-9)
	assert.InDelta(t, -3.06, dano.Longitude, 1e-9)
	assert.Equal(t, "Africa/Ouagadougou", dano.Timezone, "basin zone fills an empty timezone")

	dassari, _ := table.Lookup("Dassari")
	assert.Equal(t, "Africa/Porto-Novo", dassari.Timezone)

	mystery, _ := table.Lookup("Mystery")
	assert.Equal(t, "Africa/Accra", mystery.Timezone)
}

func TestParse_ProjectedCoordinates(t *testing.T) {
	csv := "name;Easting;Northing\nDano;493446;1232700\nFafo;;\n"
	table, err := Parse(strings.NewReader(csv), testLayouts(t), discardLogger())
	require.NoError(t, err)

	dano, ok := table.Lookup("Dano")
	require.True(t, ok)
	assert.InDelta(t, 11.15, dano.Latitude, 0.05)
	assert.InDelta(t, -3.06, dano.Longitude, 0.05)
	assert.Equal(t, "Africa/Ouagadougou", dano.Timezone)

	fafo, ok := table.Lookup("Fafo")
	require.True(t, ok)
	assert.True(t, math.IsNaN(fafo.Latitude), "missing coordinates stay missing")
	_, err = fafo.Location()
	assert.Error(t, err)
}

func TestParse_BadCoordinatesOnlyAffectTheirStation(t *testing.T) {
	csv := "Station,Easting,Northing\nDano,500000,1230000\nFafo,5,1230000\nMystery,500000,1200000\n"
	table, err := Parse(strings.NewReader(csv), testLayouts(t), discardLogger())
	require.NoError(t, err)
	require.Len(t, table, 3)

	dano, _ := table.Lookup("Dano")
	_, err = dano.Location()
	require.NoError(t, err)
	assert.InDelta(t, 11.12, dano.Latitude, 0.05)

	for _, station := range []string{"Fafo", "Mystery"} {
		info, ok := table.Lookup(station)
		require.True(t, ok, station)
		assert.True(t, math.IsNaN(info.Latitude), station)
		assert.True(t, math.IsNaN(info.Longitude), station)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr error
	}{
		{
			name:    "no coordinate columns",
			csv:     "Station,Elevation\nDano,300\n",
			wantErr: domain.ErrMissingGeoColumns,
		},
		{
			name:    "no station column",
			csv:     "Latitude,Longitude\n11,-3\n",
			wantErr: domain.ErrMissingGeoColumns,
		},
		{
			name:    "duplicate station",
			csv:     "Station,Lat,Lon\nDano,11,-3\nDano,11.1,-3.1\n",
			wantErr: domain.ErrDuplicateStation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.csv), testLayouts(t), discardLogger())
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoader_RemoteThenCacheFallback(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
		if unhealthy.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, latLonCSV)
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "ref", "geo.csv")
	loader, metrics := testLoader(t, srv.URL, cache)

	table, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, table, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.GeoStations))

	cached, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, latLonCSV, string(cached), "remote table is mirrored to the cache")

	unhealthy.Store(true)
	table, err = loader.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, table, 3)
}

func TestLoader_InvalidRemoteKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "Station,Elevation\nDano,300\n")
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "geo.csv")
	require.NoError(t, os.WriteFile(cache, []byte(latLonCSV), 0o644))
	loader, _ := testLoader(t, srv.URL, cache)

	table, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, table, 3)

	kept, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, latLonCSV, string(kept))
}

func TestLoader_NoSource(t *testing.T) {
	loader, _ := testLoader(t, "", filepath.Join(t.TempDir(), "absent.csv"))
	_, err := loader.Load(context.Background())
	require.ErrorContains(t, err, "open geo reference cache")
}
