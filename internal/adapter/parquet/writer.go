// Package parquet exports processed station series as parquet files, one
// file per station accumulating every processed upload.
package parquet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	parquet "github.com/parquet-go/parquet-go"
)

// Row is the parquet schema of one processed reading. Missing values are
// null.
type Row struct {
	Station          string   `parquet:"station"`
	Time             int64    `parquet:"time"`
	Year             int32    `parquet:"year"`
	Month            int32    `parquet:"month"`
	Day              int32    `parquet:"day"`
	Hour             int32    `parquet:"hour"`
	Minute           int32    `parquet:"minute"`
	AirTemp          *float64 `parquet:"air_temp_deg_c"`
	RelHumidity      *float64 `parquet:"rel_h_pct"`
	Pressure         *float64 `parquet:"bp_mbar_avg"`
	Rain             *float64 `parquet:"rain_mm"`
	Rain01           *float64 `parquet:"rain_01_mm"`
	Rain02           *float64 `parquet:"rain_02_mm"`
	Solar            *float64 `parquet:"solar_r_w_m2"`
	WindSpeed        *float64 `parquet:"wind_sp_m_sec"`
	WindDir          *float64 `parquet:"wind_dir_deg"`
	IsDaylight       bool     `parquet:"is_daylight"`
	DaylightDuration string   `parquet:"daylight_duration"`
	UploadID         string   `parquet:"upload_id"`
}

// Writer implements pipeline.BatchLoader by writing files under dir.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

func (w *Writer) LoadBatch(ctx context.Context, batches []domain.ProcessedBatch) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}
	for _, b := range batches {
		for _, s := range b.Series {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := w.Path(s.Station)
			existing, err := readFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			rows := mergeRows(existing, toRows(s, b.UploadID))
			if err := writeFile(path, rows); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			w.logger.Debug("parquet written", "station", s.Station, "path", path, "rows", len(rows))
		}
	}
	return nil
}

// Path returns the file a station's series is written to.
func (w *Writer) Path(station string) string {
	return filepath.Join(w.dir, fileSafe(station)+".parquet")
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
}

func toRows(s domain.Series, uploadID string) []Row {
	rows := make([]Row, 0, s.Len())
	for _, r := range domain.Flatten([]domain.Series{s}) {
		rows = append(rows, Row{
			Station:          r.Station,
			Time:             r.Datetime.UnixMilli(),
			Year:             int32(r.Year),
			Month:            int32(r.Month),
			Day:              int32(r.Day),
			Hour:             int32(r.Hour),
			Minute:           int32(r.Minute),
			AirTemp:          r.Values[domain.VarAirTemp],
			RelHumidity:      r.Values[domain.VarRelHumidity],
			Pressure:         r.Values[domain.VarPressure],
			Rain:             r.Values[domain.VarRain],
			Rain01:           r.Values[domain.VarRain01],
			Rain02:           r.Values[domain.VarRain02],
			Solar:            r.Values[domain.VarSolar],
			WindSpeed:        r.Values[domain.VarWindSpeed],
			WindDir:          r.Values[domain.VarWindDir],
			IsDaylight:       r.IsDaylight,
			DaylightDuration: r.DaylightDuration,
			UploadID:         uploadID,
		})
	}
	return rows
}

func readFile(path string) ([]Row, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[Row](path)
}

// mergeRows keys rows by time. Incoming rows replace stored rows at the same
// time.
func mergeRows(stored, incoming []Row) []Row {
	byTime := make(map[int64]Row, len(stored)+len(incoming))
	for _, r := range stored {
		byTime[r.Time] = r
	}
	for _, r := range incoming {
		byTime[r.Time] = r
	}
	out := make([]Row, 0, len(byTime))
	for _, r := range byTime {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Row) int { return cmp.Compare(a.Time, b.Time) })
	return out
}

// writeFile atomically writes rows to path via a .tmp intermediate file.
func writeFile(path string, rows []Row) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := parquet.NewGenericWriter[Row](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
