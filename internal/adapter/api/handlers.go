package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultReadingLimit = 1000
	maxReadingLimit     = 20000
)

type variableView struct {
	Name   string   `json:"name"`
	Label  string   `json:"label,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	IsRain bool     `json:"is_rain"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// handleListVariables returns the configured variables and their limits
// GET /v1/variables
func (s *Server) handleListVariables(c *gin.Context) {
	out := make([]variableView, len(s.vars))
	for i, v := range s.vars {
		out[i] = variableView{
			Name: v.Name, Label: v.Label, Unit: v.Unit, IsRain: v.IsRain,
			Min: v.Limits.Min, Max: v.Limits.Max,
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": gin.H{"count": len(out)}})
}

// handleListGeo returns the station geo reference
// GET /v1/geo
func (s *Server) handleListGeo(c *gin.Context) {
	rows := s.store.Geo()
	c.JSON(http.StatusOK, gin.H{"data": rows, "meta": gin.H{"count": len(rows)}})
}

// handleListStations returns every processed station
// GET /v1/stations
func (s *Server) handleListStations(c *gin.Context) {
	stations := s.store.Stations()
	c.JSON(http.StatusOK, gin.H{
		"data": stations,
		"meta": gin.H{"count": len(stations)},
	})
}

// handleGetStation returns one station with its data-quality outcome
// GET /v1/stations/:station
func (s *Server) handleGetStation(c *gin.Context) {
	station := c.Param("station")
	for _, info := range s.store.Stations() {
		if info.Station != station {
			continue
		}
		outcome, _ := s.store.Outcome(station)
		c.JSON(http.StatusOK, gin.H{"data": info, "quality": outcome})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
}

// handleReadings returns processed rows of one station
// GET /v1/stations/:station/readings?start=&end=&variables=&limit=
func (s *Server) handleReadings(c *gin.Context) {
	series, ok := s.series(c)
	if !ok {
		return
	}

	start, ok := parseBound(c, "start")
	if !ok {
		return
	}
	end, ok := parseBound(c, "end")
	if !ok {
		return
	}

	limit := defaultReadingLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxReadingLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	var wanted []string
	if raw := c.Query("variables"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			spec, found := s.resolveVariable(series, strings.TrimSpace(name))
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown variable " + name})
				return
			}
			wanted = append(wanted, spec.Name)
		}
	}

	rows := domain.Flatten([]domain.Series{series})
	out := make([]domain.ProcessedReading, 0, min(limit, len(rows)))
	truncated := false
	for _, r := range rows {
		if (!start.IsZero() && r.Datetime.Before(start)) || (!end.IsZero() && r.Datetime.After(end)) {
			continue
		}
		if len(out) == limit {
			truncated = true
			break
		}
		if wanted != nil {
			for name := range r.Values {
				if !slices.Contains(wanted, name) {
					delete(r.Values, name)
				}
			}
		}
		out = append(out, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"data": out,
		"meta": gin.H{"station": series.Station, "count": len(out), "truncated": truncated},
	})
}

// handleDaily returns per-day aggregates of one variable
// GET /v1/stations/:station/daily/:variable
func (s *Server) handleDaily(c *gin.Context) {
	series, ok := s.series(c)
	if !ok {
		return
	}
	spec, found := s.resolveVariable(series, c.Param("variable"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown variable"})
		return
	}

	days := domain.DailySeries(series, spec)
	c.JSON(http.StatusOK, gin.H{
		"data": days,
		"meta": gin.H{"station": series.Station, "variable": spec.Name, "unit": spec.Unit, "count": len(days)},
	})
}

// handleSummary returns statistics per variable
// GET /v1/stations/:station/summary?variables=&format=flat
func (s *Server) handleSummary(c *gin.Context) {
	series, ok := s.series(c)
	if !ok {
		return
	}

	var specs []domain.VariableSpec
	if raw := c.Query("variables"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			spec, found := s.resolveVariable(series, strings.TrimSpace(name))
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown variable " + name})
				return
			}
			specs = append(specs, spec)
		}
	} else {
		for _, name := range series.Variables() {
			spec, _ := s.resolveVariable(series, name)
			specs = append(specs, spec)
		}
	}

	flat := c.Query("format") == "flat"
	summaries := make([]any, 0, len(specs))
	var skipped []string
	for _, spec := range specs {
		sum, err := domain.Summarize(series, spec, s.opts)
		if errors.Is(err, domain.ErrNoData) || errors.Is(err, domain.ErrUnknownVariable) {
			skipped = append(skipped, spec.Name)
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if flat {
			summaries = append(summaries, sum.Flatten())
		} else {
			summaries = append(summaries, sum)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summaries,
		"meta": gin.H{"station": series.Station, "count": len(summaries), "skipped": skipped},
	})
}

func (s *Server) series(c *gin.Context) (domain.Series, bool) {
	series, ok := s.store.Series(c.Param("station"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return domain.Series{}, false
	}
	return series, true
}

// resolveVariable matches a configured variable by name or label. Columns
// outside the catalog resolve to a bare spec when the series carries them.
func (s *Server) resolveVariable(series domain.Series, name string) (domain.VariableSpec, bool) {
	if spec, ok := s.vars.Lookup(name); ok {
		return spec, true
	}
	for _, spec := range s.vars {
		if strings.EqualFold(spec.Label, name) {
			return spec, true
		}
	}
	if _, ok := series.Values[name]; ok {
		return domain.VariableSpec{Name: name}, true
	}
	return domain.VariableSpec{}, false
}

// parseBound reads an RFC3339 or YYYY-MM-DD query parameter.
func parseBound(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if d, err := domain.ParseDate(raw); err == nil {
		if key == "end" {
			return d.AddDays(1).Midnight().Add(-time.Nanosecond), true
		}
		return d.Midnight(), true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + " timestamp"})
	return time.Time{}, false
}
