package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "time/tzdata" // station zones are loaded by name
)

// StationGeoInfo locates a station for sunrise/sunset computation.
type StationGeoInfo struct {
	Station   string  `json:"station"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// Location validates the coordinates and loads the IANA zone.
func (g StationGeoInfo) Location() (*time.Location, error) {
	if math.IsNaN(g.Latitude) || g.Latitude < -90 || g.Latitude > 90 {
		return nil, fmt.Errorf("invalid latitude %v", g.Latitude)
	}
	if math.IsNaN(g.Longitude) || g.Longitude < -180 || g.Longitude > 180 {
		return nil, fmt.Errorf("invalid longitude %v", g.Longitude)
	}
	if g.Timezone == "" {
		return nil, errors.New("missing timezone")
	}
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", g.Timezone, err)
	}
	return loc, nil
}

// GeoTable is the station reference keyed by exact station name.
type GeoTable map[string]StationGeoInfo

// NewGeoTable indexes rows by station. Station names must be unique.
func NewGeoTable(rows []StationGeoInfo) (GeoTable, error) {
	table := make(GeoTable, len(rows))
	for _, r := range rows {
		if _, dup := table[r.Station]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStation, r.Station)
		}
		table[r.Station] = r
	}
	return table, nil
}

// Lookup returns the geo info for a station.
func (g GeoTable) Lookup(station string) (StationGeoInfo, bool) {
	info, ok := g[station]
	return info, ok
}

// Rows returns the table sorted by station.
func (g GeoTable) Rows() []StationGeoInfo {
	out := make([]StationGeoInfo, 0, len(g))
	for _, r := range g {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Station < out[j].Station })
	return out
}
