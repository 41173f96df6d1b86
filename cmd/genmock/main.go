// Command genmock generates synthetic raw station exports in each basin's
// own column and timestamp conventions, plus JSON fixtures for the Kafka
// integration tests. The processed fixture is produced by the real pipeline
// so it matches what the service publishes.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/raw \
//	  -uploads-json data/mock/uploads.json \
//	  -processed-json data/mock/processed.json \
//	  -start 2021-06-01 -days 14
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/config"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
	"github.com/couchcryptid/station-data-etl/internal/pipeline"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// uploadNamespace seeds the deterministic upload IDs.
var uploadNamespace = uuid.MustParse("6f1c54c6-8a5e-4f3b-9a57-2f0f4b7d1e21")

type options struct {
	out           string
	uploadsJSON   string
	processedJSON string
	stations      string
	start         string
	days          int
	step          time.Duration
	seed          uint64
	defects       bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var opts options
	flag.StringVar(&opts.out, "out", "", "output directory for raw CSV exports")
	flag.StringVar(&opts.uploadsJSON, "uploads-json", "", "output path for the raw upload JSON fixture")
	flag.StringVar(&opts.processedJSON, "processed-json", "", "output path for the processed readings JSON fixture")
	flag.StringVar(&opts.stations, "stations", "", "comma-separated stations (default: every configured station)")
	flag.StringVar(&opts.start, "start", "2021-06-01", "first day of the generated period")
	flag.IntVar(&opts.days, "days", 14, "number of days per station")
	flag.DurationVar(&opts.step, "step", 30*time.Minute, "sampling interval")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flag.BoolVar(&opts.defects, "defects", true, "inject gaps, duplicates and out-of-range values")
	flag.Parse()

	if opts.out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	start, err := domain.ParseDate(opts.start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if opts.days <= 0 || opts.step <= 0 {
		return fmt.Errorf("-days and -step must be positive")
	}

	layouts, err := config.LoadLayouts("")
	if err != nil {
		return err
	}
	stations := layouts.Stations()
	if opts.stations != "" {
		stations = strings.Split(opts.stations, ",")
	}

	// Set a fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(start.AddDays(opts.days).Midnight().Add(6 * time.Hour)))
	defer domain.SetClock(nil)

	uploads := make([]domain.RawUpload, 0, len(stations))
	for i, station := range stations {
		layout, ok := layouts.Lookup(station)
		if !ok {
			return fmt.Errorf("station %q is not in any basin layout", station)
		}
		rng := rand.New(rand.NewPCG(opts.seed, uint64(i)))
		up := generate(layout, start.Midnight(), opts.days, opts.step, rng, opts.defects)

		path := filepath.Join(opts.out, up.FileName)
		if err := writeCSV(path, up.Columns, up.Rows); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("%s: %d rows (%s) -> %s", station, len(up.Rows), layout.Basin, path)
		uploads = append(uploads, up)
	}

	if opts.uploadsJSON != "" {
		if err := writeJSON(opts.uploadsJSON, uploads); err != nil {
			return fmt.Errorf("writing upload fixture: %w", err)
		}
		log.Printf("wrote upload fixture: %s", opts.uploadsJSON)
	}

	if opts.processedJSON != "" {
		readings, err := process(layouts, uploads)
		if err != nil {
			return err
		}
		if err := writeJSON(opts.processedJSON, readings); err != nil {
			return fmt.Errorf("writing processed fixture: %w", err)
		}
		log.Printf("wrote processed fixture: %s (%d readings)", opts.processedJSON, len(readings))
	}
	return nil
}

// process runs the uploads through the pipeline with the fixed daylight
// window, so the fixture does not depend on a geo reference.
func process(layouts *domain.LayoutRegistry, uploads []domain.RawUpload) ([]domain.ProcessedReading, error) {
	vars, err := config.LoadVariables("")
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := pipeline.NewProcessor(layouts, vars, nil, nil, logger, observability.NewMetricsForTesting())

	var out []domain.ProcessedReading
	for _, up := range uploads {
		b, err := p.Process(context.Background(), up)
		if err != nil {
			return nil, fmt.Errorf("processing %s: %w", up.FileName, err)
		}
		printReport(b.Report)
		out = append(out, b.Readings()...)
	}
	return out, nil
}

// generate builds one export in the station's raw layout.
func generate(layout domain.StationLayout, start time.Time, days int, step time.Duration, rng *rand.Rand, defects bool) domain.RawUpload {
	ts := newTimestampFormat(layout)
	raw := rawColumns(layout)

	columns := append(ts.columns(), raw.names...)
	columns = append(columns, raw.extra...)

	n := int(time.Duration(days) * 24 * time.Hour / step)
	w := newWeather(rng)
	rows := make([][]string, 0, n+2)
	for i := 0; i < n; i++ {
		t := start.Add(time.Duration(i) * step)
		sample := w.at(t)

		row := ts.cells(t)
		for _, canonical := range raw.canonical {
			row = append(row, formatValue(sample[canonical]))
		}
		for range raw.extra {
			row = append(row, formatValue(12.4+rng.Float64()*0.4))
		}
		rows = append(rows, row)
	}

	if defects && len(rows) > 10 {
		rows = injectDefects(rows, len(ts.columns()), raw, rng)
	}

	id := uuid.NewSHA1(uploadNamespace, []byte(layout.Station+"|"+start.Format(time.DateOnly)))
	return domain.RawUpload{
		ID:       id.String(),
		Station:  layout.Station,
		FileName: fmt.Sprintf("%s_%d.csv", layout.Station, start.Year()),
		Columns:  columns,
		Rows:     rows,
	}
}

// injectDefects blanks some cells, adds out-of-range values, a duplicate
// row and a row with an unparseable timestamp.
func injectDefects(rows [][]string, tsCols int, raw rawLayout, rng *rand.Rand) [][]string {
	for _, row := range rows {
		for j := tsCols; j < tsCols+len(raw.names); j++ {
			if rng.Float64() < 0.03 {
				row[j] = ""
			}
		}
	}
	for j, canonical := range raw.canonical {
		var bad string
		switch canonical {
		case domain.VarRelHumidity:
			bad = "105"
		case domain.VarPressure:
			bad = "-9999"
		default:
			continue
		}
		rows[1+rng.IntN(len(rows)-2)][tsCols+j] = bad
	}

	dup := rng.IntN(len(rows))
	rows = append(rows, append([]string(nil), rows[dup]...))

	broken := append([]string(nil), rows[0]...)
	for j := 0; j < tsCols; j++ {
		broken[j] = "n/a"
	}
	return append(rows, broken)
}

// timestampFormat writes timestamps the way a basin's logger exports them.
type timestampFormat struct {
	combined string
	layout   string
}

func newTimestampFormat(l domain.StationLayout) timestampFormat {
	layout := "2006-01-02 15:04:05"
	if len(l.DateFormats) > 0 {
		layout = l.DateFormats[0]
	}
	switch {
	case l.SplitDateFrom != "":
		return timestampFormat{combined: l.SplitDateFrom, layout: layout}
	case l.PreferCombinedDate:
		return timestampFormat{combined: domain.ColDate, layout: layout}
	default:
		return timestampFormat{}
	}
}

func (f timestampFormat) columns() []string {
	if f.combined != "" {
		return []string{f.combined}
	}
	return []string{domain.ColYear, domain.ColMonth, domain.ColDay, domain.ColHour, domain.ColMinute}
}

func (f timestampFormat) cells(t time.Time) []string {
	if f.combined != "" {
		return []string{t.Format(f.layout)}
	}
	return []string{
		strconv.Itoa(t.Year()), strconv.Itoa(int(t.Month())), strconv.Itoa(t.Day()),
		strconv.Itoa(t.Hour()), strconv.Itoa(t.Minute()),
	}
}

// rawLayout lists the raw value columns of a station export.
type rawLayout struct {
	names     []string
	canonical []string
	// extra are housekeeping columns the layout drops.
	extra []string
}

func rawColumns(l domain.StationLayout) rawLayout {
	raws := make([]string, 0, len(l.Rename))
	for raw := range l.Rename {
		if len(l.Keep) > 0 && !slices.Contains(l.Keep, raw) {
			continue
		}
		raws = append(raws, raw)
	}
	sort.Strings(raws)

	var out rawLayout
	for _, raw := range raws {
		out.names = append(out.names, raw)
		out.canonical = append(out.canonical, l.Rename[raw])
	}
	for _, d := range l.Drop {
		if d != l.SplitDateFrom {
			out.extra = append(out.extra, d)
		}
	}
	return out
}

// weather produces a plausible Sahelian rainy-season day cycle.
type weather struct {
	rng      *rand.Rand
	rainLeft int
}

func newWeather(rng *rand.Rand) *weather {
	return &weather{rng: rng}
}

func (w *weather) at(t time.Time) map[string]float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	diurnal := math.Sin((hour - 9) / 24 * 2 * math.Pi)

	if w.rainLeft == 0 && w.rng.Float64() < 0.01 {
		w.rainLeft = 2 + w.rng.IntN(6)
	}
	rain := 0.0
	if w.rainLeft > 0 {
		rain = math.Round(w.rng.ExpFloat64()*40) / 10
		w.rainLeft--
	}

	solar := 0.0
	if hour > 6 && hour < 18 {
		solar = 950 * math.Sin((hour-6)/12*math.Pi)
		if rain > 0 {
			solar *= 0.3
		}
		solar = math.Max(solar+w.rng.NormFloat64()*20, 1)
	}

	temp := 27 + 5*diurnal + w.rng.NormFloat64()*0.5
	rh := math.Min(math.Max(70-20*diurnal+w.rng.NormFloat64()*3, 5), 100)
	if rain > 0 {
		rh = math.Min(rh+15, 100)
	}

	return map[string]float64{
		domain.VarAirTemp:     temp,
		domain.VarRelHumidity: rh,
		domain.VarPressure:    980 + 2*math.Cos(hour/12*math.Pi) + w.rng.NormFloat64()*0.3,
		domain.VarRain:        rain,
		domain.VarRain01:      rain,
		domain.VarRain02:      math.Max(rain+w.rng.NormFloat64()*0.1, 0),
		domain.VarSolar:       solar,
		domain.VarWindSpeed:   math.Abs(2 + 1.5*diurnal + w.rng.NormFloat64()*0.5),
		domain.VarWindDir:     math.Mod(200+w.rng.NormFloat64()*40+360, 360),
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printReport(r domain.Report) {
	fmt.Printf("\n=== %s (%s) ===\n", r.Station, r.Basin)
	fmt.Printf("Rows: %d in, %d out\n", r.RowsIn, r.RowsOut)
	fmt.Printf("Timestamps: %s, %d dropped\n", r.TimestampSource, r.DroppedTimestamps)
	fmt.Printf("Duplicates removed: %d\n", r.DuplicatesRemoved)
	scrubbed := r.Scrubbed()
	names := make([]string, 0, len(scrubbed))
	for name := range scrubbed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("Scrubbed %s: %d\n", name, scrubbed[name])
	}
}
