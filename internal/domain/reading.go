package domain

import (
	"context"
	"math"
	"slices"
	"sort"
	"time"
)

// Canonical column names shared by every basin layout.
const (
	ColStation  = "Station"
	ColDatetime = "Datetime"
	ColDate     = "Date"
	ColYear     = "Year"
	ColMonth    = "Month"
	ColDay      = "Day"
	ColHour     = "Hour"
	ColMinute   = "Minute"

	VarAirTemp     = "Air_Temp_Deg_C"
	VarRelHumidity = "Rel_H_%"
	VarPressure    = "BP_mbar_Avg"
	VarRain        = "Rain_mm"
	VarRain01      = "Rain_01_mm"
	VarRain02      = "Rain_02_mm"
	VarSolar       = "Solar_R_W/m^2"
	VarWindSpeed   = "Wind_Sp_m/sec"
	VarWindDir     = "Wind_Dir_Deg"

	// relHumidityAlias is the persistence-friendly spelling some exports use.
	relHumidityAlias = "Rel_H_Pct"
)

// StandardVariables lists the numeric variables the pipeline interpolates,
// in output column order.
var StandardVariables = []string{
	VarAirTemp,
	VarRelHumidity,
	VarPressure,
	VarRain,
	VarRain01,
	VarRain02,
	VarSolar,
	VarWindSpeed,
	VarWindDir,
}

// IsStandardVariable reports whether name is one of StandardVariables.
func IsStandardVariable(name string) bool {
	return slices.Contains(StandardVariables, name)
}

// RawEvent is the transport-level message read from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// RawUpload is one uploaded station file: a header row plus string cells,
// already associated with a station identity.
type RawUpload struct {
	ID       string     `json:"id"`
	Station  string     `json:"station"`
	FileName string     `json:"file_name,omitempty"`
	Columns  []string   `json:"columns"`
	Rows     [][]string `json:"rows"`
}

// Table returns the upload's cells as a RawTable.
func (u RawUpload) Table() RawTable {
	return RawTable{Columns: u.Columns, Rows: u.Rows}
}

// Reading is one sensor record after timestamp building. Missing values
// are NaN.
type Reading struct {
	Station string
	Time    time.Time
	Values  map[string]float64
}

// Series is the columnar, time-ordered record of a single station. Every
// slice in Values has Len() entries; NaN marks a missing value.
type Series struct {
	Station string
	Times   []time.Time
	Values  map[string][]float64

	// Daylight annotation, filled by AnnotateDaylight.
	Daylight         []bool
	DaylightDuration []string
}

// Len returns the number of rows.
func (s Series) Len() int { return len(s.Times) }

// Column returns the values of a variable, if present.
func (s Series) Column(name string) ([]float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Variables returns the present variable names in StandardVariables order,
// followed by any other columns sorted by name.
func (s Series) Variables() []string {
	names := make([]string, 0, len(s.Values))
	for _, v := range StandardVariables {
		if _, ok := s.Values[v]; ok {
			names = append(names, v)
		}
	}
	var extra []string
	for name := range s.Values {
		if !IsStandardVariable(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Clone returns a deep copy so stages never alias their input.
func (s Series) Clone() Series {
	out := Series{
		Station: s.Station,
		Times:   append([]time.Time(nil), s.Times...),
		Values:  make(map[string][]float64, len(s.Values)),
	}
	for name, vals := range s.Values {
		out.Values[name] = append([]float64(nil), vals...)
	}
	if s.Daylight != nil {
		out.Daylight = append([]bool(nil), s.Daylight...)
	}
	if s.DaylightDuration != nil {
		out.DaylightDuration = append([]string(nil), s.DaylightDuration...)
	}
	return out
}

// MergeSeries joins two series of the same station by timestamp. Rows of
// incoming replace rows of base at the same time; the result is sorted by
// time and carries the union of both variable sets, NaN where a side had no
// such column.
func MergeSeries(base, incoming Series) Series {
	if base.Len() == 0 {
		return incoming.Clone()
	}

	type rowRef struct {
		src *Series
		i   int
	}
	rows := make(map[int64]rowRef, base.Len()+incoming.Len())
	for i, t := range base.Times {
		rows[t.UnixNano()] = rowRef{&base, i}
	}
	for i, t := range incoming.Times {
		rows[t.UnixNano()] = rowRef{&incoming, i}
	}
	keys := make([]int64, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := Series{
		Station: incoming.Station,
		Times:   make([]time.Time, len(keys)),
		Values:  make(map[string][]float64),
	}
	for _, src := range []Series{base, incoming} {
		for name := range src.Values {
			out.Values[name] = nanSlice(len(keys))
		}
	}
	annotated := base.Daylight != nil || incoming.Daylight != nil
	if annotated {
		out.Daylight = make([]bool, len(keys))
		out.DaylightDuration = make([]string, len(keys))
	}

	for j, k := range keys {
		ref := rows[k]
		out.Times[j] = ref.src.Times[ref.i]
		for name, vals := range ref.src.Values {
			out.Values[name][j] = vals[ref.i]
		}
		if annotated && len(ref.src.Daylight) == ref.src.Len() && len(ref.src.DaylightDuration) == ref.src.Len() {
			out.Daylight[j] = ref.src.Daylight[ref.i]
			out.DaylightDuration[j] = ref.src.DaylightDuration[ref.i]
		}
	}
	return out
}

// GroupByStation splits readings into one Series per station, ordered by
// station name. Rows keep their relative order and are then stably sorted
// by time. Every variable seen for a station gets a full-length column.
func GroupByStation(readings []Reading) []Series {
	byStation := make(map[string][]Reading)
	var stations []string
	for _, r := range readings {
		if _, ok := byStation[r.Station]; !ok {
			stations = append(stations, r.Station)
		}
		byStation[r.Station] = append(byStation[r.Station], r)
	}
	sort.Strings(stations)

	out := make([]Series, 0, len(stations))
	for _, station := range stations {
		rows := byStation[station]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })

		s := Series{
			Station: station,
			Times:   make([]time.Time, len(rows)),
			Values:  make(map[string][]float64),
		}
		for i, r := range rows {
			s.Times[i] = r.Time
			for name := range r.Values {
				if _, ok := s.Values[name]; !ok {
					s.Values[name] = nanSlice(len(rows))
				}
			}
		}
		for i, r := range rows {
			for name, v := range r.Values {
				s.Values[name][i] = v
			}
		}
		out = append(out, s)
	}
	return out
}

// ProcessedReading is one row of the canonical processed dataset.
type ProcessedReading struct {
	Station          string              `json:"station"`
	Datetime         time.Time           `json:"datetime"`
	Year             int                 `json:"year"`
	Month            int                 `json:"month"`
	Day              int                 `json:"day"`
	Hour             int                 `json:"hour"`
	Minute           int                 `json:"minute"`
	Values           map[string]*float64 `json:"values"`
	IsDaylight       bool                `json:"is_daylight"`
	DaylightDuration string              `json:"daylight_duration"`
}

// Value returns the reading for a variable, or NaN when missing.
func (r ProcessedReading) Value(name string) float64 {
	if v := r.Values[name]; v != nil {
		return *v
	}
	return math.NaN()
}

// Flatten turns per-station series into canonical rows sorted by time, then
// station.
func Flatten(series []Series) []ProcessedReading {
	total := 0
	for _, s := range series {
		total += s.Len()
	}
	out := make([]ProcessedReading, 0, total)
	for _, s := range series {
		for i, t := range s.Times {
			t = t.UTC()
			row := ProcessedReading{
				Station:  s.Station,
				Datetime: t,
				Year:     t.Year(),
				Month:    int(t.Month()),
				Day:      t.Day(),
				Hour:     t.Hour(),
				Minute:   t.Minute(),
				Values:   make(map[string]*float64, len(s.Values)),
			}
			for name, vals := range s.Values {
				if !math.IsNaN(vals[i]) {
					v := vals[i]
					row.Values[name] = &v
				} else {
					row.Values[name] = nil
				}
			}
			if i < len(s.Daylight) {
				row.IsDaylight = s.Daylight[i]
			}
			if i < len(s.DaylightDuration) {
				row.DaylightDuration = s.DaylightDuration[i]
			}
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].Datetime.Before(out[j].Datetime)
		}
		return out[i].Station < out[j].Station
	})
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
