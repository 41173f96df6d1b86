package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
	"github.com/google/uuid"
)

// Message headers understood by Transform.
const (
	HeaderStation     = "station"
	HeaderFileName    = "file_name"
	HeaderContentType = "content_type"
	ContentTypeCSV    = "text/csv"
)

// Processor runs one raw upload through every pipeline stage. It implements
// Transformer.
type Processor struct {
	layouts *domain.LayoutRegistry
	geo     domain.GeoLookup
	sun     domain.SunCalculator
	limits  domain.VariableLimits
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewProcessor creates a Processor. geo and sun may be nil, in which case
// every station falls back to the fixed daylight window.
func NewProcessor(layouts *domain.LayoutRegistry, vars domain.VariableCatalog, geo domain.GeoLookup, sun domain.SunCalculator, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		layouts: layouts,
		geo:     geo,
		sun:     sun,
		limits:  vars.Limits(),
		logger:  logger,
		metrics: metrics,
	}
}

// Transform decodes a raw event into an upload and processes it. JSON
// payloads carry a RawUpload; CSV payloads take the station from the
// message headers.
func (p *Processor) Transform(ctx context.Context, raw domain.RawEvent) (domain.ProcessedBatch, error) {
	up, err := decodeUpload(raw)
	if err != nil {
		return domain.ProcessedBatch{}, &domain.StageError{Stage: domain.StageDecode, Station: raw.Headers[HeaderStation], Err: err}
	}
	return p.Process(ctx, up)
}

func decodeUpload(raw domain.RawEvent) (domain.RawUpload, error) {
	var up domain.RawUpload
	if strings.EqualFold(raw.Headers[HeaderContentType], ContentTypeCSV) {
		table, err := domain.ReadCSVTable(bytes.NewReader(raw.Value))
		if err != nil {
			return up, err
		}
		up = domain.RawUpload{
			Station:  raw.Headers[HeaderStation],
			FileName: raw.Headers[HeaderFileName],
			Columns:  table.Columns,
			Rows:     table.Rows,
		}
	} else if err := json.Unmarshal(raw.Value, &up); err != nil {
		return up, fmt.Errorf("decode upload: %w", err)
	}

	if up.Station == "" {
		up.Station = raw.Headers[HeaderStation]
	}
	if up.Station == "" && up.FileName != "" {
		up.Station = StationFromFileName(up.FileName)
	}
	if up.Station == "" {
		return up, errors.New("upload has no station identity")
	}
	if up.ID == "" {
		up.ID = string(raw.Key)
	}
	return up, nil
}

// StationFromFileName derives a station name from an export file name such
// as "Dano_2021.csv".
func StationFromFileName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if i := strings.IndexAny(base, "_-. "); i > 0 {
		base = base[:i]
	}
	return base
}

// Process normalizes, keys, deduplicates and interpolates one upload.
// Structural failures are returned as *domain.StageError; data-quality
// conditions are logged and recorded in the batch report.
func (p *Processor) Process(ctx context.Context, up domain.RawUpload) (domain.ProcessedBatch, error) {
	if up.ID == "" {
		up.ID = uuid.NewString()
	}
	log := p.logger.With("upload_id", up.ID, "station", up.Station)
	report := domain.Report{UploadID: up.ID, Station: up.Station, RowsIn: len(up.Rows)}

	norm := domain.NormalizeSchema(up.Table(), up.Station, p.layouts)
	report.KnownStation = norm.Known
	report.Basin = norm.Layout.Basin
	report.SkippedRenames = norm.SkippedRenames
	if !norm.Known {
		log.Warn("station not in any basin layout, passing columns through")
	}
	if len(norm.SkippedRenames) > 0 {
		log.Warn("rename target already present, column kept as is", "columns", norm.SkippedRenames)
	}

	built, err := domain.BuildReadings(norm.Table, up.Station, norm.Layout)
	if err != nil {
		return domain.ProcessedBatch{}, &domain.StageError{Stage: domain.StageTimestamp, Station: up.Station, Err: err}
	}
	report.TimestampSource = built.Source
	report.DroppedTimestamps = norm.DroppedRows + built.DroppedRows
	if report.DroppedTimestamps > 0 {
		log.Warn("rows with unparseable timestamps dropped", "count", report.DroppedTimestamps)
		p.metrics.RowsDropped.WithLabelValues("timestamp").Add(float64(report.DroppedTimestamps))
	}

	readings, removed := domain.Deduplicate(built.Readings)
	report.DuplicatesRemoved = removed
	if removed > 0 {
		log.Warn("duplicate readings removed", "count", removed)
		p.metrics.RowsDropped.WithLabelValues("duplicate").Add(float64(removed))
	}

	env := domain.InterpolationEnv{Geo: p.geo, Sun: p.sun, Limits: p.limits}
	series, outcomes, err := domain.RunInterpolation(ctx, domain.GroupByStation(readings), env)
	if err != nil {
		return domain.ProcessedBatch{}, &domain.StageError{Stage: domain.StageInterpolate, Station: up.Station, Err: err}
	}
	report.Stations = outcomes
	for _, s := range series {
		report.RowsOut += s.Len()
	}
	for _, o := range outcomes {
		p.recordOutcome(log, o)
	}

	return domain.ProcessedBatch{
		UploadID:    up.ID,
		Series:      series,
		Report:      report,
		ProcessedAt: domain.Now(),
	}, nil
}

func (p *Processor) recordOutcome(log *slog.Logger, o domain.StationOutcome) {
	log = log.With("series_station", o.Station)
	if o.Daylight == domain.DaylightFixed {
		log.Warn("daylight falls back to fixed window", "reason", o.FallbackReason)
		p.metrics.DaylightFallbacks.Inc()
	}
	for variable, n := range o.Scrubbed {
		log.Warn("out-of-range values set missing", "variable", variable, "count", n)
		p.metrics.ValuesScrubbed.WithLabelValues(variable).Add(float64(n))
	}
	if !o.TimeWeighted {
		log.Warn("timestamps not chronological, interpolating by row order")
		p.metrics.DegradedInterpolate.WithLabelValues("row_order").Inc()
	}
	if o.RainSource == domain.RainMissing {
		log.Warn("no rain channel present")
		p.metrics.DegradedInterpolate.WithLabelValues("rain_missing").Inc()
	}
	if o.SuppressedZeros > 0 {
		log.Debug("solar dropouts treated as missing", "count", o.SuppressedZeros)
	}
	for _, variable := range o.Residual {
		log.Warn("variable still missing after interpolation", "variable", variable)
		p.metrics.DegradedInterpolate.WithLabelValues("residual_missing").Inc()
	}
}
