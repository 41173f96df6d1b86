// Package catalog holds the process-wide processed dataset and the station
// geo reference. A single writer (the pipeline) merges uploads in while many
// readers (the query API, the interpolation pass) take copies.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// StationInfo describes one station's processed series.
type StationInfo struct {
	Station     string                `json:"station"`
	Rows        int                   `json:"rows"`
	First       time.Time             `json:"first"`
	Last        time.Time             `json:"last"`
	Variables   []string              `json:"variables"`
	Daylight    domain.DaylightMethod `json:"daylight"`
	UploadID    string                `json:"upload_id"`
	ProcessedAt time.Time             `json:"processed_at"`
	HasGeo      bool                  `json:"has_geo"`
}

type entry struct {
	series      domain.Series
	outcome     domain.StationOutcome
	uploadID    string
	processedAt time.Time
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
	geo     domain.GeoTable
	gauge   prometheus.Gauge
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		entries: make(map[string]entry),
		geo:     make(domain.GeoTable),
	}
}

// TrackSize reports the number of stored stations on g after every load.
func (c *Catalog) TrackSize(g prometheus.Gauge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauge = g
	g.Set(float64(len(c.entries)))
}

// LoadBatch merges every station series of the batches into the stored
// one. A reading of a later upload replaces the stored reading at the same
// timestamp; other stored readings are kept. It implements
// pipeline.BatchLoader.
func (c *Catalog) LoadBatch(_ context.Context, batches []domain.ProcessedBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range batches {
		outcomes := make(map[string]domain.StationOutcome, len(b.Report.Stations))
		for _, o := range b.Report.Stations {
			outcomes[o.Station] = o
		}
		for _, s := range b.Series {
			c.entries[s.Station] = entry{
				series:      domain.MergeSeries(c.entries[s.Station].series, s),
				outcome:     outcomes[s.Station],
				uploadID:    b.UploadID,
				processedAt: b.ProcessedAt,
			}
		}
	}
	if c.gauge != nil {
		c.gauge.Set(float64(len(c.entries)))
	}
	return nil
}

// Len returns the number of stations with a processed series.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stations lists the stored stations sorted by name.
func (c *Catalog) Stations() []StationInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]StationInfo, 0, len(c.entries))
	for name, e := range c.entries {
		info := StationInfo{
			Station:     name,
			Rows:        e.series.Len(),
			Variables:   e.series.Variables(),
			Daylight:    e.outcome.Daylight,
			UploadID:    e.uploadID,
			ProcessedAt: e.processedAt,
		}
		if n := e.series.Len(); n > 0 {
			info.First = e.series.Times[0]
			info.Last = e.series.Times[n-1]
		}
		_, info.HasGeo = c.geo[name]
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Station < out[j].Station })
	return out
}

// Series returns a copy of a station's processed series.
func (c *Catalog) Series(station string) (domain.Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[station]
	if !ok {
		return domain.Series{}, false
	}
	return e.series.Clone(), true
}

// Outcome returns the data-quality outcome recorded with a station's series.
func (c *Catalog) Outcome(station string) (domain.StationOutcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[station]
	return e.outcome, ok
}

// SetGeo replaces the geo reference table.
func (c *Catalog) SetGeo(geo domain.GeoTable) {
	cp := make(domain.GeoTable, len(geo))
	for k, v := range geo {
		cp[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.geo = cp
}

// Lookup returns a station's geo reference. It implements domain.GeoLookup.
func (c *Catalog) Lookup(station string) (domain.StationGeoInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geo.Lookup(station)
}

// Geo returns every geo reference row sorted by station.
func (c *Catalog) Geo() []domain.StationGeoInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geo.Rows()
}
