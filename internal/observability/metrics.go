package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "station_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	UploadsConsumed  prometheus.Counter
	ReadingsProduced prometheus.Counter
	TransformErrors  *prometheus.CounterVec // labels: stage
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Data quality.
	RowsDropped         *prometheus.CounterVec // labels: reason={timestamp,duplicate}
	ValuesScrubbed      *prometheus.CounterVec // labels: variable
	DaylightFallbacks   prometheus.Counter
	DegradedInterpolate *prometheus.CounterVec // labels: reason={row_order,residual_missing,rain_missing}

	// Enrichment and sinks.
	SunCache      *prometheus.CounterVec // labels: result={hit,miss}
	GeoStations   prometheus.Gauge
	SinkDuration  *prometheus.HistogramVec // labels: sink
	SinkFailures  *prometheus.CounterVec   // labels: sink
	CatalogSeries prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UploadsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_consumed_total",
			Help:      "Total raw station uploads read from the source topic.",
		}),
		ReadingsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_produced_total",
			Help:      "Total processed readings handed to the sinks.",
		}),
		TransformErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Uploads rejected by a structural error, by pipeline stage.",
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of uploads per batch extracted from Kafka.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Raw rows dropped during normalization, by reason.",
		}, []string{"reason"}),
		ValuesScrubbed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_scrubbed_total",
			Help:      "Values outside their plausibility limits, by variable.",
		}, []string{"variable"}),
		DaylightFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daylight_fallbacks_total",
			Help:      "Station series annotated with the fixed daylight window.",
		}),
		DegradedInterpolate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_interpolations_total",
			Help:      "Station series interpolated in a degraded mode, by reason.",
		}, []string{"reason"}),
		SunCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sun_cache_total",
			Help:      "Sunrise/sunset cache lookups by result.",
		}, []string{"result"}),
		GeoStations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geo_reference_stations",
			Help:      "Stations in the loaded GPS reference table.",
		}),
		SinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_duration_seconds",
			Help:      "Time spent writing one batch to a sink.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"sink"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Failed batch writes by sink.",
		}, []string{"sink"}),
		CatalogSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_stations",
			Help:      "Stations with a processed series in the query catalog.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UploadsConsumed,
		m.ReadingsProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.RowsDropped,
		m.ValuesScrubbed,
		m.DaylightFallbacks,
		m.DegradedInterpolate,
		m.SunCache,
		m.GeoStations,
		m.SinkDuration,
		m.SinkFailures,
		m.CatalogSeries,
	}
}
