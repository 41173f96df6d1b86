package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
)

// BatchExtractor reads up to batchSize raw uploads from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer runs one raw upload through the processing stages.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.ProcessedBatch, error)
}

// BatchLoader writes processed uploads to a destination. Implementations
// must tolerate a batch being loaded again after a partial failure.
type BatchLoader interface {
	LoadBatch(ctx context.Context, batches []domain.ProcessedBatch) error
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil if the pipeline has loaded at least one upload,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any uploads yet")
	}
	return nil
}

// Run pulls batches of uploads until ctx is cancelled. Extract and load
// failures are retried with exponential backoff; a rejected upload is
// committed and never retried.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	r := newRetry(200*time.Millisecond, 5*time.Second)
	for ctx.Err() == nil {
		if !p.cycle(ctx, r) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// cycle runs one extract-transform-load round. It reports false once the
// pipeline should stop.
func (p *Pipeline) cycle(ctx context.Context, r *retry) bool {
	start := time.Now()

	events, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	switch {
	case err != nil && ctx.Err() != nil:
		return false
	case err != nil:
		p.logger.Error("extract batch failed", "error", err, "retry_in", r.delay)
		return r.wait(ctx)
	case len(events) == 0:
		return true
	}

	p.metrics.UploadsConsumed.Add(float64(len(events)))
	p.metrics.BatchSize.Observe(float64(len(events)))
	r.reset()

	processed, accepted := p.transform(ctx, events)
	if len(processed) == 0 {
		return true
	}

	if err := p.loader.LoadBatch(ctx, processed); err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("load batch failed", "error", err, "uploads", len(processed), "retry_in", r.delay)
		return r.wait(ctx)
	}
	for _, ev := range accepted {
		p.commit(ctx, ev)
	}
	for _, b := range processed {
		p.metrics.ReadingsProduced.Add(float64(b.Report.RowsOut))
		p.logger.Info("upload processed",
			"upload_id", b.UploadID,
			"stations", b.Stations(),
			"rows_in", b.Report.RowsIn,
			"rows_out", b.Report.RowsOut,
			"duplicates", b.Report.DuplicatesRemoved,
			"dropped_timestamps", b.Report.DroppedTimestamps,
		)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return true
}

// transform processes each event. Rejected events are committed right away
// so a poison upload cannot block its partition. A failure caused by
// cancellation rejects nothing.
func (p *Pipeline) transform(ctx context.Context, events []domain.RawEvent) ([]domain.ProcessedBatch, []domain.RawEvent) {
	processed := make([]domain.ProcessedBatch, 0, len(events))
	accepted := make([]domain.RawEvent, 0, len(events))

	for _, ev := range events {
		b, err := p.transformer.Transform(ctx, ev)
		if err != nil && ctx.Err() != nil {
			// Shutting down: leave the whole batch uncommitted for redelivery.
			return nil, nil
		}
		if err != nil {
			stage := stageOf(err)
			p.logger.Warn("upload rejected, skipping",
				"error", err,
				"stage", stage,
				"topic", ev.Topic,
				"partition", ev.Partition,
				"offset", ev.Offset,
			)
			p.metrics.TransformErrors.WithLabelValues(string(stage)).Inc()
			p.commit(ctx, ev)
			continue
		}
		processed = append(processed, b)
		accepted = append(accepted, ev)
	}
	return processed, accepted
}

func (p *Pipeline) commit(ctx context.Context, ev domain.RawEvent) {
	if ev.Commit == nil {
		return
	}
	if err := ev.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", ev.Topic, "partition", ev.Partition, "offset", ev.Offset)
	}
}

// stageOf classifies a transform error by the stage that raised it.
func stageOf(err error) domain.Stage {
	var se *domain.StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}

// retry is a doubling delay capped at limit.
type retry struct {
	initial, limit, delay time.Duration
}

func newRetry(initial, limit time.Duration) *retry {
	return &retry{initial: initial, limit: limit, delay: initial}
}

func (r *retry) reset() { r.delay = r.initial }

// wait sleeps for the current delay and doubles it. It returns false when
// ctx ends first.
func (r *retry) wait(ctx context.Context) bool {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	r.delay = min(r.delay*2, r.limit)
	return true
}
