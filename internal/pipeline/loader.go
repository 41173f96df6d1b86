package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/couchcryptid/station-data-etl/internal/observability"
)

// Sink is a named BatchLoader.
type Sink struct {
	Name   string
	Loader BatchLoader
}

// MultiLoader fans each batch out to every sink in order. The first failure
// aborts the batch so the pipeline retries it against all sinks.
type MultiLoader struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewMultiLoader creates a MultiLoader over the given sinks.
func NewMultiLoader(logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *MultiLoader {
	return &MultiLoader{sinks: sinks, logger: logger, metrics: metrics}
}

// Names returns the configured sink names.
func (m *MultiLoader) Names() []string {
	out := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		out[i] = s.Name
	}
	return out
}

func (m *MultiLoader) LoadBatch(ctx context.Context, batches []domain.ProcessedBatch) error {
	for _, s := range m.sinks {
		start := time.Now()
		err := s.Loader.LoadBatch(ctx, batches)
		m.metrics.SinkDuration.WithLabelValues(s.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			m.metrics.SinkFailures.WithLabelValues(s.Name).Inc()
			return fmt.Errorf("sink %s: %w", s.Name, err)
		}
		m.logger.Debug("batch loaded", "sink", s.Name, "uploads", len(batches))
	}
	return nil
}
