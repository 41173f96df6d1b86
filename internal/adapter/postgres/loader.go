// Package postgres stores processed readings and upload reports in
// PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// chunkSize bounds the statements queued per round trip.
const chunkSize = 1000

const schemaSQL = `
CREATE TABLE IF NOT EXISTS station_readings (
    station           TEXT        NOT NULL,
    observed_at       TIMESTAMPTZ NOT NULL,
    year              SMALLINT    NOT NULL,
    month             SMALLINT    NOT NULL,
    day               SMALLINT    NOT NULL,
    hour              SMALLINT    NOT NULL,
    minute            SMALLINT    NOT NULL,
    vals              JSONB       NOT NULL,
    is_daylight       BOOLEAN     NOT NULL,
    daylight_duration TEXT        NOT NULL,
    upload_id         TEXT        NOT NULL,
    processed_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (station, observed_at)
);
CREATE TABLE IF NOT EXISTS station_uploads (
    upload_id    TEXT        PRIMARY KEY,
    station      TEXT        NOT NULL,
    basin        TEXT,
    rows_in      INTEGER     NOT NULL,
    rows_out     INTEGER     NOT NULL,
    report       JSONB       NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL
);`

const upsertReadingSQL = `INSERT INTO station_readings
    (station, observed_at, year, month, day, hour, minute, vals, is_daylight, daylight_duration, upload_id, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (station, observed_at) DO UPDATE
SET vals = EXCLUDED.vals,
    is_daylight = EXCLUDED.is_daylight,
    daylight_duration = EXCLUDED.daylight_duration,
    upload_id = EXCLUDED.upload_id,
    processed_at = EXCLUDED.processed_at`

const upsertUploadSQL = `INSERT INTO station_uploads
    (upload_id, station, basin, rows_in, rows_out, report, processed_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7)
ON CONFLICT (upload_id) DO UPDATE
SET report = EXCLUDED.report,
    rows_out = EXCLUDED.rows_out,
    processed_at = EXCLUDED.processed_at`

// Loader implements pipeline.BatchLoader on a pgx pool. Each LoadBatch call
// runs in one transaction.
type Loader struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to databaseURL and creates the tables if needed.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Loader, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l := &Loader{pool: pool, logger: logger}
	if err := l.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// EnsureSchema creates the reading and report tables.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (l *Loader) LoadBatch(ctx context.Context, batches []domain.ProcessedBatch) error {
	if len(batches) == 0 {
		return nil
	}
	start := time.Now()
	rows := 0
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		for _, b := range batches {
			n, err := writeBatch(ctx, tx, b)
			if err != nil {
				return fmt.Errorf("upload %s: %w", b.UploadID, err)
			}
			rows += n
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Debug("readings stored", "uploads", len(batches), "rows", rows, "duration", time.Since(start))
	return nil
}

func writeBatch(ctx context.Context, tx pgx.Tx, b domain.ProcessedBatch) (int, error) {
	report, err := json.Marshal(b.Report)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	queue := &pgx.Batch{}
	queue.Queue(upsertUploadSQL, b.UploadID, b.Report.Station, b.Report.Basin,
		b.Report.RowsIn, b.Report.RowsOut, report, b.ProcessedAt)

	readings := b.Readings()
	for _, r := range readings {
		args, err := readingArgs(r, b.UploadID, b.ProcessedAt)
		if err != nil {
			return 0, err
		}
		queue.Queue(upsertReadingSQL, args...)
		if queue.Len() >= chunkSize {
			if err := send(ctx, tx, queue); err != nil {
				return 0, err
			}
			queue = &pgx.Batch{}
		}
	}
	if err := send(ctx, tx, queue); err != nil {
		return 0, err
	}
	return len(readings), nil
}

func send(ctx context.Context, tx pgx.Tx, queue *pgx.Batch) error {
	n := queue.Len()
	if n == 0 {
		return nil
	}
	res := tx.SendBatch(ctx, queue)
	defer res.Close()

	for i := 0; i < n; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return res.Close()
}

// readingArgs returns the upsert parameters of one reading. Missing values
// are stored as JSON null.
func readingArgs(r domain.ProcessedReading, uploadID string, processedAt time.Time) ([]any, error) {
	vals, err := json.Marshal(r.Values)
	if err != nil {
		return nil, fmt.Errorf("encode values of %s at %s: %w", r.Station, r.Datetime, err)
	}
	return []any{
		r.Station, r.Datetime, r.Year, r.Month, r.Day, r.Hour, r.Minute,
		vals, r.IsDaylight, r.DaylightDuration, uploadID, processedAt,
	}, nil
}

// CheckReadiness pings the database.
func (l *Loader) CheckReadiness(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (l *Loader) Close() {
	l.pool.Close()
}
