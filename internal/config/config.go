package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaSourceTopic string   `env:"KAFKA_SOURCE_TOPIC" envDefault:"reach-update-requests"`
	KafkaSinkTopic   string   `env:"KAFKA_SINK_TOPIC" envDefault:"reach-update-results"`
	KafkaGroupID     string   `env:"KAFKA_GROUP_ID" envDefault:"reach-trace"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// EPA WATERS hydrography services.
	WatersBaseURL       string        `env:"WATERS_BASE_URL" envDefault:"https://ofmpub.epa.gov/waters10"`
	WatersTimeout       time.Duration `env:"WATERS_TIMEOUT" envDefault:"30s"`
	SnapSearchDistKm    float64       `env:"SNAP_SEARCH_DIST_KM" envDefault:"5"`
	TraceMaxAttempts    int           `env:"TRACE_MAX_ATTEMPTS" envDefault:"10"`

	// Hosted feature service holding the reach layers.
	FeatureServiceURL string        `env:"FEATURE_SERVICE_URL"`
	FeatureUsername   string        `env:"FEATURE_USERNAME"`
	FeaturePassword   string        `env:"FEATURE_PASSWORD,unset"`
	FeatureTimeout    time.Duration `env:"FEATURE_TIMEOUT" envDefault:"30s"`
	LineLayerID       int           `env:"LINE_LAYER_ID" envDefault:"0"`
	CentroidLayerID   int           `env:"CENTROID_LAYER_ID" envDefault:"1"`
	PointLayerID      int           `env:"POINT_LAYER_ID" envDefault:"2"`
}

// Load reads configuration from a .env file (if present) and the environment,
// applying defaults where unset.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaSourceTopic == "" {
		return errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if c.KafkaSinkTopic == "" {
		return errors.New("KAFKA_SINK_TOPIC is required")
	}
	if c.WatersBaseURL == "" {
		return errors.New("WATERS_BASE_URL is required")
	}
	if c.SnapSearchDistKm <= 0 {
		return errors.New("SNAP_SEARCH_DIST_KM must be positive")
	}
	if c.TraceMaxAttempts < 1 {
		return errors.New("TRACE_MAX_ATTEMPTS must be at least 1")
	}
	if c.FeatureServiceURL == "" {
		return errors.New("FEATURE_SERVICE_URL is required")
	}
	if c.FeatureUsername != "" && c.FeaturePassword == "" {
		return errors.New("FEATURE_USERNAME is set but FEATURE_PASSWORD is not")
	}
	return nil
}
