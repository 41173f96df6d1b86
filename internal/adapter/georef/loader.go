// Package georef loads the station GPS reference table.
//
// The reference is a CSV with one row per station. Coordinates are given
// either as latitude/longitude or as UTM easting/northing in the station's
// basin zone. The table is fetched over HTTP when a URL is configured and
// mirrored to a local file, which also serves as the fallback when the
// remote source is unavailable.
package georef

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
	UTM "github.com/im7mortal/UTM"
)

// Loader fetches and parses the geo reference.
type Loader struct {
	url        string
	cachePath  string
	httpClient *http.Client
	layouts    *domain.LayoutRegistry
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewLoader creates a Loader. An empty url reads the cache file only.
func NewLoader(url, cachePath string, timeout time.Duration, layouts *domain.LayoutRegistry, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		url:       url,
		cachePath: cachePath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		layouts: layouts,
		logger:  logger,
		metrics: metrics,
	}
}

// Load returns the geo reference table. A remote table that fails to fetch
// or parse falls back to the cache file.
func (l *Loader) Load(ctx context.Context) (domain.GeoTable, error) {
	if l.url != "" {
		table, body, err := l.fetch(ctx)
		if err == nil {
			l.writeCache(body)
			l.metrics.GeoStations.Set(float64(len(table)))
			l.logger.Info("geo reference loaded", "source", "remote", "stations", len(table))
			return table, nil
		}
		l.logger.Warn("geo reference fetch failed, using cache", "error", err, "cache", l.cachePath)
	}

	f, err := os.Open(l.cachePath)
	if err != nil {
		return nil, fmt.Errorf("open geo reference cache: %w", err)
	}
	defer f.Close()

	table, err := Parse(f, l.layouts, l.logger)
	if err != nil {
		return nil, fmt.Errorf("geo reference cache %s: %w", l.cachePath, err)
	}
	l.metrics.GeoStations.Set(float64(len(table)))
	l.logger.Info("geo reference loaded", "source", "cache", "stations", len(table))
	return table, nil
}

func (l *Loader) fetch(ctx context.Context) (domain.GeoTable, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("geo reference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("geo reference error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read geo reference: %w", err)
	}
	table, err := Parse(bytes.NewReader(body), l.layouts, l.logger)
	if err != nil {
		return nil, nil, err
	}
	return table, body, nil
}

// writeCache mirrors the remote table to disk. Failures are logged and
// ignored.
func (l *Loader) writeCache(body []byte) {
	if l.cachePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.cachePath), 0o755); err != nil {
		l.logger.Warn("geo reference cache not written", "error", err)
		return
	}
	tmp := l.cachePath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		l.logger.Warn("geo reference cache not written", "error", err)
		return
	}
	if err := os.Rename(tmp, l.cachePath); err != nil {
		l.logger.Warn("geo reference cache not written", "error", err)
		_ = os.Remove(tmp)
	}
}

// Accepted header spellings, matched case-insensitively.
var (
	stationCols  = []string{"station", "name", "station_name"}
	latCols      = []string{"latitude", "lat"}
	lonCols      = []string{"longitude", "lon", "long"}
	eastingCols  = []string{"easting", "x", "utm_x"}
	northingCols = []string{"northing", "y", "utm_y"}
	zoneCols     = []string{"timezone", "tz"}
)

// Parse reads a geo reference CSV. Projected coordinates are converted with
// the UTM zone of the station's basin; stations outside every basin need
// latitude/longitude. Rows without a timezone take the basin's zone. A row
// whose coordinates cannot be converted keeps NaN coordinates, so only that
// station falls back to the fixed daylight window.
func Parse(r io.Reader, layouts *domain.LayoutRegistry, logger *slog.Logger) (domain.GeoTable, error) {
	t, err := domain.ReadCSVTable(r)
	if err != nil {
		return nil, fmt.Errorf("read geo reference: %w", err)
	}

	stationIdx := findColumn(t, stationCols)
	latIdx, lonIdx := findColumn(t, latCols), findColumn(t, lonCols)
	eastIdx, northIdx := findColumn(t, eastingCols), findColumn(t, northingCols)
	tzIdx := findColumn(t, zoneCols)

	geographic := latIdx >= 0 && lonIdx >= 0
	projected := eastIdx >= 0 && northIdx >= 0
	if stationIdx < 0 || (!geographic && !projected) {
		return nil, fmt.Errorf("%w: need station and latitude/longitude or easting/northing, have %v",
			domain.ErrMissingGeoColumns, t.Columns)
	}

	rows := make([]domain.StationGeoInfo, 0, len(t.Rows))
	for i := range t.Rows {
		station := strings.TrimSpace(t.Cell(i, stationIdx))
		if station == "" {
			continue
		}
		layout, known := layouts.Lookup(station)
		info := domain.StationGeoInfo{Station: station, Timezone: strings.TrimSpace(t.Cell(i, tzIdx))}
		if info.Timezone == "" && known {
			info.Timezone = layout.Timezone
		}

		switch {
		case geographic:
			info.Latitude = domain.ParseNumeric(t.Cell(i, latIdx))
			info.Longitude = domain.ParseNumeric(t.Cell(i, lonIdx))
		case known && layout.UTMZone > 0:
			lat, lon, err := toLatLon(
				domain.ParseNumeric(t.Cell(i, eastIdx)),
				domain.ParseNumeric(t.Cell(i, northIdx)),
				layout.UTMZone, layout.UTMNorthern)
			if err != nil {
				logger.Warn("station coordinates not converted", "station", station, "error", err)
				lat, lon = math.NaN(), math.NaN()
			}
			info.Latitude, info.Longitude = lat, lon
		default:
			logger.Warn("projected coordinates without a basin UTM zone", "station", station)
			info.Latitude, info.Longitude = math.NaN(), math.NaN()
		}
		rows = append(rows, info)
	}
	return domain.NewGeoTable(rows)
}

// toLatLon converts projected coordinates. Missing input yields NaN, which
// sends the station to the fixed daylight window.
func toLatLon(easting, northing float64, zone int, northern bool) (float64, float64, error) {
	if math.IsNaN(easting) || math.IsNaN(northing) {
		return math.NaN(), math.NaN(), nil
	}
	lat, lon, err := UTM.ToLatLon(easting, northing, zone, "", northern)
	if err != nil {
		return 0, 0, fmt.Errorf("utm zone %d: %w", zone, err)
	}
	return lat, lon, nil
}

func findColumn(t domain.RawTable, names []string) int {
	for i, c := range t.Columns {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(c), n) {
				return i
			}
		}
	}
	return -1
}
