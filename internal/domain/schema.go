package domain

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// StationLayout describes how one station's export maps onto the canonical
// schema.
type StationLayout struct {
	Station string
	Basin   string

	// Rename maps raw column names to canonical names.
	Rename map[string]string
	// Keep, when non-empty, lists the raw columns to retain. Otherwise every
	// column except those in Drop is retained.
	Keep []string
	Drop []string

	// SplitDateFrom names a combined timestamp column to split into
	// Year/Month/Day/Hour/Minute before renaming.
	SplitDateFrom string
	// DateFormats are Go time layouts tried in order for combined columns.
	DateFormats []string
	// PreferCombinedDate selects the Datetime/Date column over split
	// components when both are present.
	PreferCombinedDate bool

	// UTM zone used by the basin's projected coordinates.
	UTMZone     int
	UTMNorthern bool
	// Timezone is the basin's IANA zone, used when the geo reference has
	// no zone of its own.
	Timezone string
}

// BasinLayout is the shared convention of a group of stations.
type BasinLayout struct {
	Name               string
	Rename             map[string]string
	Keep               []string
	Drop               []string
	SplitDateFrom      string
	DateFormats        []string
	PreferCombinedDate bool
	UTMZone            int
	UTMNorthern        bool
	Timezone           string
	Stations           []string
	Overrides          map[string]StationOverride
}

// StationOverride adjusts a basin layout for one station.
type StationOverride struct {
	Rename map[string]string
	Keep   []string
	Drop   []string
}

// LayoutRegistry resolves a station name to its layout. Names match exactly.
type LayoutRegistry struct {
	stations map[string]StationLayout
	basins   map[string]BasinLayout
}

// NewLayoutRegistry indexes basins by station. A station listed under two
// basins is an error.
func NewLayoutRegistry(basins []BasinLayout) (*LayoutRegistry, error) {
	reg := &LayoutRegistry{
		stations: make(map[string]StationLayout),
		basins:   make(map[string]BasinLayout, len(basins)),
	}
	for _, b := range basins {
		if _, dup := reg.basins[b.Name]; dup {
			return nil, fmt.Errorf("basin %q defined twice", b.Name)
		}
		reg.basins[b.Name] = b
		for _, station := range b.Stations {
			if prev, dup := reg.stations[station]; dup {
				return nil, fmt.Errorf("station %q listed in basins %q and %q", station, prev.Basin, b.Name)
			}
			reg.stations[station] = resolveLayout(b, station)
		}
	}
	return reg, nil
}

func resolveLayout(b BasinLayout, station string) StationLayout {
	l := StationLayout{
		Station:            station,
		Basin:              b.Name,
		Rename:             make(map[string]string, len(b.Rename)),
		Keep:               append([]string(nil), b.Keep...),
		Drop:               append([]string(nil), b.Drop...),
		SplitDateFrom:      b.SplitDateFrom,
		DateFormats:        append([]string(nil), b.DateFormats...),
		PreferCombinedDate: b.PreferCombinedDate,
		UTMZone:            b.UTMZone,
		UTMNorthern:        b.UTMNorthern,
		Timezone:           b.Timezone,
	}
	for k, v := range b.Rename {
		l.Rename[k] = v
	}
	if o, ok := b.Overrides[station]; ok {
		for k, v := range o.Rename {
			l.Rename[k] = v
		}
		if len(o.Keep) > 0 {
			l.Keep = append([]string(nil), o.Keep...)
		}
		l.Drop = append(l.Drop, o.Drop...)
	}
	return l
}

// Lookup returns the layout for a station.
func (r *LayoutRegistry) Lookup(station string) (StationLayout, bool) {
	if r == nil {
		return StationLayout{}, false
	}
	l, ok := r.stations[station]
	return l, ok
}

// Basin returns a basin's shared layout.
func (r *LayoutRegistry) Basin(name string) (BasinLayout, bool) {
	if r == nil {
		return BasinLayout{}, false
	}
	b, ok := r.basins[name]
	return b, ok
}

// Stations returns every registered station name, sorted.
func (r *LayoutRegistry) Stations() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.stations))
	for s := range r.stations {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NormalizeResult is the outcome of NormalizeSchema.
type NormalizeResult struct {
	Table  RawTable
	Layout StationLayout
	Known  bool
	// DroppedRows counts rows whose combined timestamp could not be split.
	DroppedRows int
	// SkippedRenames lists raw columns not renamed because the target
	// column already existed.
	SkippedRenames []string
}

var timeColumns = map[string]bool{
	ColStation: true, ColDatetime: true, ColDate: true,
	ColYear: true, ColMonth: true, ColDay: true, ColHour: true, ColMinute: true,
}

// NormalizeSchema maps a station's raw table onto canonical column names.
// Unknown stations pass through unchanged apart from the humidity alias.
// It never fails; the input table is not modified.
func NormalizeSchema(t RawTable, station string, reg *LayoutRegistry) NormalizeResult {
	layout, known := reg.Lookup(station)
	if !known {
		out, skipped := renameColumns(t, nil)
		return NormalizeResult{Table: out, Layout: StationLayout{Station: station}, SkippedRenames: skipped}
	}

	res := NormalizeResult{Layout: layout, Known: true}
	if layout.SplitDateFrom != "" && t.Has(layout.SplitDateFrom) {
		t, res.DroppedRows = splitDateColumn(t, layout.SplitDateFrom, layout.DateFormats)
	}
	t = subsetColumns(t, layout.Keep, layout.Drop)
	res.Table, res.SkippedRenames = renameColumns(t, layout.Rename)
	return res
}

// splitDateColumn parses a combined timestamp into split component columns,
// dropping rows that do not parse.
func splitDateColumn(t RawTable, col string, formats []string) (RawTable, int) {
	src := t.Index(col)
	parts := []string{ColYear, ColMonth, ColDay, ColHour, ColMinute}

	cols := make([]string, 0, len(t.Columns)+len(parts))
	var keepIdx []int
	for i, c := range t.Columns {
		if isSplitComponent(c) {
			continue
		}
		cols = append(cols, c)
		keepIdx = append(keepIdx, i)
	}
	cols = append(cols, parts...)

	rows := make([][]string, 0, len(t.Rows))
	dropped := 0
	for i := range t.Rows {
		ts, ok := parseTimestamp(t.Cell(i, src), formats)
		if !ok {
			dropped++
			continue
		}
		row := make([]string, 0, len(cols))
		for _, idx := range keepIdx {
			row = append(row, t.Cell(i, idx))
		}
		row = append(row,
			fmt.Sprint(ts.Year()), fmt.Sprint(int(ts.Month())), fmt.Sprint(ts.Day()),
			fmt.Sprint(ts.Hour()), fmt.Sprint(ts.Minute()))
		rows = append(rows, row)
	}
	return RawTable{Columns: cols, Rows: rows}, dropped
}

func isSplitComponent(c string) bool {
	switch c {
	case ColYear, ColMonth, ColDay, ColHour, ColMinute:
		return true
	}
	return false
}

func subsetColumns(t RawTable, keep, drop []string) RawTable {
	retain := func(c string) bool {
		if timeColumns[c] {
			return true
		}
		if len(keep) > 0 {
			return slices.Contains(keep, c)
		}
		return !slices.Contains(drop, c)
	}

	var idx []int
	cols := make([]string, 0, len(t.Columns))
	for i, c := range t.Columns {
		if retain(c) {
			idx = append(idx, i)
			cols = append(cols, c)
		}
	}
	rows := make([][]string, len(t.Rows))
	for i := range t.Rows {
		row := make([]string, len(idx))
		for j, k := range idx {
			row[j] = t.Cell(i, k)
		}
		rows[i] = row
	}
	return RawTable{Columns: cols, Rows: rows}
}

// renameColumns applies the rename map and folds the humidity alias into
// the canonical name. The returned table shares row storage with t.
func renameColumns(t RawTable, rename map[string]string) (RawTable, []string) {
	present := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		present[c] = true
	}

	cols := make([]string, len(t.Columns))
	var skipped []string
	for i, c := range t.Columns {
		target, ok := rename[c]
		if !ok && c == relHumidityAlias {
			target, ok = VarRelHumidity, true
		}
		if !ok || target == c {
			cols[i] = c
			continue
		}
		if present[target] {
			cols[i] = c
			skipped = append(skipped, c)
			continue
		}
		present[target] = true
		delete(present, c)
		cols[i] = target
	}
	return RawTable{Columns: cols, Rows: t.Rows}, skipped
}

// defaultDateFormats are tried after any layout-specific formats.
var defaultDateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"02/01/2006",
}

// parseTimestamp tries the given layouts, then the defaults. Values with an
// offset are converted to UTC; naive values are read as UTC wall clock. The
// result is truncated to the minute.
func parseTimestamp(s string, formats []string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layouts := range [][]string{formats, defaultDateFormats} {
		for _, f := range layouts {
			if ts, err := time.Parse(f, s); err == nil {
				return ts.UTC().Truncate(time.Minute), true
			}
		}
	}
	return time.Time{}, false
}
