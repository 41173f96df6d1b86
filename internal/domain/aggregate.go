package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// DefaultSeasonGapDays is the largest gap between rain days that still
// belongs to the same rain season block.
const DefaultSeasonGapDays = 60

// DailyValue is one calendar day's aggregate.
type DailyValue struct {
	Date  Date    `json:"date"`
	Value float64 `json:"value"`
}

// RainSeasonBlock is the run of rain days, separated by at most the gap
// threshold, with the longest span.
type RainSeasonBlock struct {
	Start     Date    `json:"start"`
	End       Date    `json:"end"`
	SpanDays  int     `json:"span_days"`
	RainyDays int     `json:"rainy_days"`
	Total     float64 `json:"total"`
	// MeanDaily is Total / (SpanDays + 1).
	MeanDaily float64 `json:"mean_daily"`
}

// DrySpellEvent is a drought run between two rain days. Start is the onset
// day, End the last dry day before the next rain.
type DrySpellEvent struct {
	Start        Date    `json:"start"`
	End          Date    `json:"end"`
	DurationDays int     `json:"duration_days"`
	PrecedingMM  float64 `json:"preceding_rain"`
}

// DailyTotals sums a variable per calendar day. Days without any value are
// omitted. The result is sorted by date.
func DailyTotals(s Series, name string) []DailyValue {
	stats := DailySeries(s, VariableSpec{Name: name, IsRain: true})
	out := make([]DailyValue, len(stats))
	for i, d := range stats {
		out[i] = DailyValue{Date: d.Date, Value: d.Sum}
	}
	return out
}

// DetectRainSeason splits the positive-rain days into blocks whose
// successive rain days are at most gapDays apart and returns the block with
// the longest span. Ties keep the earliest block.
func DetectRainSeason(days []DailyValue, gapDays int) (RainSeasonBlock, bool) {
	if gapDays <= 0 {
		gapDays = DefaultSeasonGapDays
	}

	var best, cur RainSeasonBlock
	found, open := false, false
	closeBlock := func() {
		if !open {
			return
		}
		cur.SpanDays = cur.End.DaysSince(cur.Start)
		cur.MeanDaily = cur.Total / float64(cur.SpanDays+1)
		if !found || cur.SpanDays > best.SpanDays {
			best, found = cur, true
		}
	}

	for _, d := range days {
		if !(d.Value > 0) {
			continue
		}
		if open && d.Date.DaysSince(cur.End) > gapDays {
			closeBlock()
			open = false
		}
		if !open {
			cur = RainSeasonBlock{Start: d.Date}
			open = true
		}
		cur.End = d.Date
		cur.RainyDays++
		cur.Total += d.Value
	}
	closeBlock()
	return best, found
}

// DetectDrySpells walks each pair of consecutive rain days. Over the dry
// days between them it computes previous rain / elapsed dry days; the first
// day where that ratio drops below seasonMean is the onset, and the spell
// lasts until the day before the next rain. Gaps with no qualifying day
// yield no spell.
func DetectDrySpells(days []DailyValue, seasonMean float64) []DrySpellEvent {
	if !(seasonMean > 0) {
		return nil
	}
	var rainy []DailyValue
	for _, d := range days {
		if d.Value > 0 {
			rainy = append(rainy, d)
		}
	}

	var spells []DrySpellEvent
	for i := 0; i+1 < len(rainy); i++ {
		prev, next := rainy[i], rainy[i+1]
		dry := next.Date.DaysSince(prev.Date) - 1
		for k := 1; k <= dry; k++ {
			if prev.Value/float64(k) >= seasonMean {
				continue
			}
			onset := prev.Date.AddDays(k)
			spells = append(spells, DrySpellEvent{
				Start:        onset,
				End:          next.Date.AddDays(-1),
				DurationDays: next.Date.DaysSince(onset),
				PrecedingMM:  prev.Value,
			})
			break
		}
	}
	return spells
}

// LongestDrySpell returns the longest spell, keeping the earliest on ties.
func LongestDrySpell(spells []DrySpellEvent) (DrySpellEvent, bool) {
	if len(spells) == 0 {
		return DrySpellEvent{}, false
	}
	best := spells[0]
	for _, s := range spells[1:] {
		if s.DurationDays > best.DurationDays {
			best = s
		}
	}
	return best, true
}

// Extreme is a value and the day it occurred.
type Extreme struct {
	Value float64 `json:"value"`
	Date  Date    `json:"date"`
}

// YearTotal is a per-year cumulative rain total.
type YearTotal struct {
	Year  int     `json:"year"`
	Total float64 `json:"total"`
}

// Summary holds the statistics of one variable at one station.
type Summary struct {
	Station  string  `json:"station"`
	Variable string  `json:"variable"`
	Unit     string  `json:"unit,omitempty"`
	IsRain   bool    `json:"is_rain"`
	Count    int     `json:"count"`
	Max      Extreme `json:"max"`
	Min      Extreme `json:"min"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`

	AnnualTotals    []YearTotal      `json:"annual_totals,omitempty"`
	RainyDays       int              `json:"rainy_days,omitempty"`
	MeanRainyDay    float64          `json:"mean_rainy_day,omitempty"`
	Season          *RainSeasonBlock `json:"season,omitempty"`
	LongestDrySpell *DrySpellEvent   `json:"longest_dry_spell,omitempty"`
}

// SummaryOptions tunes rain statistics.
type SummaryOptions struct {
	SeasonGapDays int
}

// Summarize computes statistics for one variable of a processed series.
// Rain variables are summarized over daily totals and include the rain
// season and longest dry spell. Solar radiation only counts daylight rows.
func Summarize(s Series, spec VariableSpec, opts SummaryOptions) (Summary, error) {
	if _, ok := s.Values[spec.Name]; !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownVariable, spec.Name)
	}
	sum := Summary{Station: s.Station, Variable: spec.Name, Unit: spec.Unit, IsRain: spec.IsRain}

	var points []DailyValue
	if spec.IsRain {
		points = DailyTotals(s, spec.Name)
	} else {
		points = observations(s, spec.Name)
	}
	if len(points) == 0 {
		return Summary{}, fmt.Errorf("%w: %s at %s", ErrNoData, spec.Name, s.Station)
	}

	sum.Count = len(points)
	sum.Max, sum.Min = extremes(points)
	values := make([]float64, len(points))
	total := 0.0
	for i, p := range points {
		values[i] = p.Value
		total += p.Value
	}
	sum.Mean = total / float64(len(values))
	sum.Median = median(values)

	if spec.IsRain {
		summarizeRain(&sum, points, opts)
	}
	return sum, nil
}

func summarizeRain(sum *Summary, days []DailyValue, opts SummaryOptions) {
	byYear := make(map[int]float64)
	var years []int
	rainyTotal := 0.0
	for _, d := range days {
		if _, ok := byYear[d.Date.Year]; !ok {
			years = append(years, d.Date.Year)
		}
		byYear[d.Date.Year] += d.Value
		if d.Value > 0 {
			sum.RainyDays++
			rainyTotal += d.Value
		}
	}
	sort.Ints(years)
	for _, y := range years {
		sum.AnnualTotals = append(sum.AnnualTotals, YearTotal{Year: y, Total: byYear[y]})
	}
	if sum.RainyDays > 0 {
		sum.MeanRainyDay = rainyTotal / float64(sum.RainyDays)
	}

	season, ok := DetectRainSeason(days, opts.SeasonGapDays)
	if !ok {
		return
	}
	sum.Season = &season
	if spell, ok := LongestDrySpell(DetectDrySpells(days, season.MeanDaily)); ok {
		sum.LongestDrySpell = &spell
	}
}

// observations returns each non-missing value with its date, in row order.
func observations(s Series, name string) []DailyValue {
	vals := s.Values[name]
	daylightOnly := name == VarSolar && len(s.Daylight) == s.Len()
	out := make([]DailyValue, 0, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || (daylightOnly && !s.Daylight[i]) {
			continue
		}
		out = append(out, DailyValue{Date: DateOf(s.Times[i].UTC()), Value: v})
	}
	return out
}

// extremes returns the first occurrence of the maximum and minimum.
func extremes(points []DailyValue) (Extreme, Extreme) {
	hi := Extreme{Value: points[0].Value, Date: points[0].Date}
	lo := hi
	for _, p := range points[1:] {
		if p.Value > hi.Value {
			hi = Extreme{Value: p.Value, Date: p.Date}
		}
		if p.Value < lo.Value {
			lo = Extreme{Value: p.Value, Date: p.Date}
		}
	}
	return hi, lo
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Flatten renders the summary as a flat key/value record for display.
func (s Summary) Flatten() map[string]string {
	out := map[string]string{
		"station":  s.Station,
		"variable": s.Variable,
		"count":    strconv.Itoa(s.Count),
		"max":      formatValue(s.Max.Value),
		"max_date": s.Max.Date.String(),
		"min":      formatValue(s.Min.Value),
		"min_date": s.Min.Date.String(),
		"median":   formatValue(s.Median),
	}
	if s.Unit != "" {
		out["unit"] = s.Unit
	}
	if !s.IsRain {
		out["mean"] = formatValue(s.Mean)
		return out
	}

	for _, y := range s.AnnualTotals {
		out[fmt.Sprintf("total_%d", y.Year)] = formatValue(y.Total)
	}
	out["rainy_days"] = strconv.Itoa(s.RainyDays)
	out["mean_rainy_day"] = formatValue(s.MeanRainyDay)
	if s.Season != nil {
		out["season_start"] = s.Season.Start.String()
		out["season_end"] = s.Season.End.String()
		out["season_total"] = formatValue(s.Season.Total)
		out["season_mean"] = formatValue(s.Season.MeanDaily)
	}
	if s.LongestDrySpell != nil {
		out["dry_spell_start"] = s.LongestDrySpell.Start.String()
		out["dry_spell_end"] = s.LongestDrySpell.End.String()
		out["dry_spell_days"] = strconv.Itoa(s.LongestDrySpell.DurationDays)
	}
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// DailyStat aggregates one variable over one calendar day.
type DailyStat struct {
	Date  Date    `json:"date"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
}

// DailySeries aggregates a variable per calendar day, sorted by date. Solar
// radiation only counts daylight rows.
func DailySeries(s Series, spec VariableSpec) []DailyStat {
	vals, ok := s.Values[spec.Name]
	if !ok {
		return nil
	}
	daylightOnly := spec.Name == VarSolar && len(s.Daylight) == s.Len()

	byDay := make(map[Date]*DailyStat)
	var order []Date
	for i, v := range vals {
		if math.IsNaN(v) || (daylightOnly && !s.Daylight[i]) {
			continue
		}
		d := DateOf(s.Times[i].UTC())
		st, ok := byDay[d]
		if !ok {
			st = &DailyStat{Date: d, Min: v, Max: v}
			byDay[d] = st
			order = append(order, d)
		}
		st.Count++
		st.Sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]DailyStat, len(order))
	for i, d := range order {
		st := byDay[d]
		st.Mean = st.Sum / float64(st.Count)
		out[i] = *st
	}
	return out
}
