// Command process runs local station exports through the normalization and
// interpolation pipeline, checks the processed output and prints per-variable
// summaries. It needs no Kafka broker and is meant for inspecting a batch of
// exports before publishing them.
//
// Usage:
//
//	go run ./cmd/process \
//	  -dir data/raw \
//	  -geo data/geo_reference.csv \
//	  -parquet-dir data/processed \
//	  -summary data/summary.csv
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/station-data-etl/internal/adapter/georef"
	"github.com/couchcryptid/station-data-etl/internal/adapter/parquet"
	"github.com/couchcryptid/station-data-etl/internal/adapter/solar"
	"github.com/couchcryptid/station-data-etl/internal/catalog"
	"github.com/couchcryptid/station-data-etl/internal/config"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
	"github.com/couchcryptid/station-data-etl/internal/pipeline"
)

// phase tracks pass/fail for one check over the processed output.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	dir        string
	geo        string
	layouts    string
	variables  string
	parquetDir string
	summary    string
	gapDays    int
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "directory of raw station CSV exports")
	flag.StringVar(&opts.geo, "geo", "", "station GPS reference CSV (optional)")
	flag.StringVar(&opts.layouts, "layouts", "", "station layout YAML overriding the embedded default")
	flag.StringVar(&opts.variables, "variables", "", "variable spec YAML overriding the embedded default")
	flag.StringVar(&opts.parquetDir, "parquet-dir", "", "write processed series as parquet under this directory")
	flag.StringVar(&opts.summary, "summary", "", "write flat per-variable summaries to this CSV file")
	flag.IntVar(&opts.gapDays, "gap-days", 60, "dry days that end a rain season block")
	flag.BoolVar(&opts.verbose, "v", false, "log pipeline warnings to stderr")
	flag.Parse()

	if opts.dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(context.Background(), opts, os.Stdout))
}

func run(ctx context.Context, opts options, out io.Writer) int {
	level := slog.LevelError
	if opts.verbose {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	metrics := observability.NewMetricsForTesting()

	layouts, err := config.LoadLayouts(opts.layouts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	vars, err := config.LoadVariables(opts.variables)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	cat := catalog.New()
	if opts.geo != "" {
		geo, err := loadGeo(opts.geo, layouts, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
		cat.SetGeo(geo)
	}

	uploads, err := readUploads(opts.dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	if len(uploads) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no CSV exports in %s\n", opts.dir)
		return 1
	}

	sun := solar.NewCachedCalculator(solar.NewCalculator(), 4096, metrics)
	processor := pipeline.NewProcessor(layouts, vars, cat, sun, logger, metrics)

	sinks := []pipeline.Sink{{Name: "catalog", Loader: cat}}
	if opts.parquetDir != "" {
		sinks = append(sinks, pipeline.Sink{Name: "parquet", Loader: parquet.NewWriter(opts.parquetDir, logger)})
	}
	loader := pipeline.NewMultiLoader(logger, metrics, sinks...)

	fmt.Fprintln(out, "=== Station Data Processing ===")
	fmt.Fprintln(out)

	var batches []domain.ProcessedBatch
	failed := 0
	for _, up := range uploads {
		b, err := processor.Process(ctx, up)
		if err != nil {
			fmt.Fprintf(out, "  %-28s \033[31mREJECTED\033[0m %v\n", up.FileName, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  %-28s %6d rows in, %6d rows out, basin %s\n",
			up.FileName, b.Report.RowsIn, b.Report.RowsOut, orDash(b.Report.Basin))
		batches = append(batches, b)
	}
	if err := loader.LoadBatch(ctx, batches); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		checkUniqueKeys(batches),
		checkLimits(batches, vars.Limits()),
		checkDaylight(batches),
		checkResidual(batches),
	}

	fmt.Fprintln(out)
	allPassed := failed == 0
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	summaries := summarize(cat, vars, domain.SummaryOptions{SeasonGapDays: opts.gapDays})
	printSummaries(out, summaries)
	if opts.summary != "" {
		if err := writeSummaryCSV(opts.summary, summaries); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll uploads processed.")
		return 0
	}
	fmt.Fprintf(out, "\nProcessing FAILED (%d rejected uploads).\n", failed)
	return 1
}

func loadGeo(path string, layouts *domain.LayoutRegistry, logger *slog.Logger) (domain.GeoTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo reference: %w", err)
	}
	defer f.Close()
	return georef.Parse(f, layouts, logger)
}

// readUploads reads every *.csv under dir, sorted by file name. The station
// comes from the file name prefix.
func readUploads(dir string) ([]domain.RawUpload, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	uploads := make([]domain.RawUpload, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		table, err := domain.ReadCSVTable(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		name := filepath.Base(path)
		uploads = append(uploads, domain.RawUpload{
			ID:       strings.TrimSuffix(name, filepath.Ext(name)),
			Station:  pipeline.StationFromFileName(name),
			FileName: name,
			Columns:  table.Columns,
			Rows:     table.Rows,
		})
	}
	return uploads, nil
}

func checkUniqueKeys(batches []domain.ProcessedBatch) *phase {
	p := &phase{name: "Unique (station, timestamp) keys"}
	for _, b := range batches {
		for _, s := range b.Series {
			seen := make(map[int64]bool, s.Len())
			for _, t := range s.Times {
				if seen[t.UnixNano()] {
					p.errorf("%s: duplicate reading at %s", s.Station, t.UTC().Format("2006-01-02 15:04"))
				}
				seen[t.UnixNano()] = true
			}
		}
	}
	return p
}

func checkLimits(batches []domain.ProcessedBatch, limits domain.VariableLimits) *phase {
	p := &phase{name: "Values within plausibility limits"}
	for _, b := range batches {
		for _, s := range b.Series {
			for name, l := range limits {
				for i, v := range s.Values[name] {
					if !math.IsNaN(v) && !l.Contains(v) {
						p.errorf("%s: %s = %g at %s", s.Station, name, v, s.Times[i].UTC().Format("2006-01-02 15:04"))
					}
				}
			}
		}
	}
	return p
}

func checkDaylight(batches []domain.ProcessedBatch) *phase {
	p := &phase{name: "Daylight annotation on every row"}
	for _, b := range batches {
		for _, s := range b.Series {
			if len(s.Daylight) != s.Len() || len(s.DaylightDuration) != s.Len() {
				p.errorf("%s: %d rows, %d daylight flags", s.Station, s.Len(), len(s.Daylight))
				continue
			}
			for i, v := range s.Values[domain.VarSolar] {
				if !s.Daylight[i] && v != 0 {
					p.errorf("%s: night solar radiation %g at %s", s.Station, v, s.Times[i].UTC().Format("2006-01-02 15:04"))
				}
			}
		}
	}
	return p
}

// checkResidual flags standard variables still missing after interpolation.
// Those only remain when a variable carried no values at all. A station
// without any rain channel is not listed there.
func checkResidual(batches []domain.ProcessedBatch) *phase {
	p := &phase{name: "Gaps filled for every present variable"}
	for _, b := range batches {
		for _, o := range b.Report.Stations {
			for _, name := range o.Residual {
				p.errorf("%s: %s has no values to interpolate from", o.Station, name)
			}
		}
	}
	return p
}

func summarize(cat *catalog.Catalog, vars domain.VariableCatalog, opts domain.SummaryOptions) []domain.Summary {
	var out []domain.Summary
	for _, info := range cat.Stations() {
		series, _ := cat.Series(info.Station)
		for _, spec := range vars {
			// Variables absent from the station or without data are skipped.
			sum, err := domain.Summarize(series, spec, opts)
			if err != nil {
				continue
			}
			out = append(out, sum)
		}
	}
	return out
}

func printSummaries(out io.Writer, summaries []domain.Summary) {
	if len(summaries) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %-12s %-16s %10s %12s %10s %12s %10s\n", "STATION", "VARIABLE", "MAX", "MAX DATE", "MIN", "MIN DATE", "MEAN")
	for _, s := range summaries {
		fmt.Fprintf(out, "  %-12s %-16s %10.2f %12s %10.2f %12s %10.2f\n",
			s.Station, s.Variable, s.Max.Value, s.Max.Date, s.Min.Value, s.Min.Date, s.Mean)
	}
}

func writeSummaryCSV(path string, summaries []domain.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	rows := make([]map[string]string, len(summaries))
	keys := map[string]bool{}
	for i, s := range summaries {
		rows[i] = s.Flatten()
		for k := range rows[i] {
			keys[k] = true
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, k := range header {
			rec[i] = row[k]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
