package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	APIAddr          string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Optional sinks. Empty disables the sink.
	DatabaseURL string
	ParquetDir  string

	// Station GPS reference table.
	GeoReferenceURL     string
	GeoReferenceCache   string
	GeoReferenceTimeout time.Duration

	// Override files for the embedded station layouts and variable specs.
	LayoutsFile   string
	VariablesFile string

	SunCacheSize      int
	RainSeasonGapDays int
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	geoTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("GEO_REFERENCE_TIMEOUT", "10s"))
	if err != nil || geoTimeout <= 0 {
		return nil, errors.New("invalid GEO_REFERENCE_TIMEOUT")
	}

	sunCacheSize, err := parsePositiveInt("SUN_CACHE_SIZE", 4096)
	if err != nil {
		return nil, err
	}

	gapDays, err := parsePositiveInt("RAIN_SEASON_GAP_DAYS", 60)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-station-uploads"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "processed-station-readings"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "station-data-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		APIAddr:            sharedcfg.EnvOrDefault("API_ADDR", ":8081"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DatabaseURL: os.Getenv("DATABASE_URL"),
		ParquetDir:  os.Getenv("PARQUET_DIR"),

		GeoReferenceURL:     os.Getenv("GEO_REFERENCE_URL"),
		GeoReferenceCache:   sharedcfg.EnvOrDefault("GEO_REFERENCE_CACHE", "data/geo_reference.csv"),
		GeoReferenceTimeout: geoTimeout,

		LayoutsFile:   os.Getenv("LAYOUTS_FILE"),
		VariablesFile: os.Getenv("VARIABLES_FILE"),

		SunCacheSize:      sunCacheSize,
		RainSeasonGapDays: gapDays,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.HTTPAddr == cfg.APIAddr {
		return nil, fmt.Errorf("API_ADDR must differ from HTTP_ADDR (%s)", cfg.HTTPAddr)
	}

	return cfg, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
