package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/anomaly"
)

// Config holds all application configuration
type Config struct {
	LogMode   string          `yaml:"log_mode"`
	HTTP      HTTPConfig      `yaml:"http"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Processor ProcessorConfig `yaml:"processor"`
	Store     StoreConfig     `yaml:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Model     ModelConfig     `yaml:"model"`
}

// HTTPConfig holds the API server configuration
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	ConsumerCount int           `yaml:"consumer_count"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Token   string `yaml:"token"`
	Bucket  string `yaml:"bucket"`
	// ImportLookback bounds how much history is loaded into the store at startup; zero disables it.
	ImportLookback time.Duration `yaml:"import_lookback"`
}

// RedisConfig holds the insight cache configuration
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// ProcessorConfig holds processor-related configuration
type ProcessorConfig struct {
	WorkerCount        int           `yaml:"worker_count"`
	QueueSize          int           `yaml:"queue_size"`
	EnableAggregations bool          `yaml:"enable_aggregations"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
}

// StoreConfig holds measurement store configuration
type StoreConfig struct {
	ArchiveDir      string        `yaml:"archive_dir"`
	ImportFile      string        `yaml:"import_file"`
	FutureTolerance time.Duration `yaml:"future_tolerance"`
}

// PipelineConfig holds the knobs of aggregation, detection and forecasting
type PipelineConfig struct {
	UnitPrice         float64       `yaml:"unit_price"`
	Contamination     float64       `yaml:"contamination"`
	RandomSeed        int64         `yaml:"random_seed"`
	Trees             int           `yaml:"trees"`
	SampleSize        int           `yaml:"sample_size"`
	MinAnomalySamples int           `yaml:"min_anomaly_samples"`
	DefaultProfile    string        `yaml:"default_profile"`
	HorizonDays       int           `yaml:"horizon_days"`
	MinHistoryDays    int           `yaml:"min_history_days"`
	ComposeTimeout    time.Duration `yaml:"compose_timeout"`
}

// ModelConfig locates the pretrained forecasting model. Path points at an
// exported linear model file; URL and SequenceURL at remote scoring services.
type ModelConfig struct {
	Path        string        `yaml:"path"`
	URL         string        `yaml:"url"`
	SequenceURL string        `yaml:"sequence_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogMode: "development",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			Topic:         "breaker-measurements",
			GroupID:       "breaker-insights",
			ConsumerCount: 3,
			BatchSize:     500,
			BatchTimeout:  1 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			Enabled: false,
			URL:     "http://localhost:8086",
			Org:     "breakers",
			Bucket:  "breaker-measurements",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     5 * time.Minute,
		},
		Processor: ProcessorConfig{
			WorkerCount:        4,
			QueueSize:          10000,
			EnableAggregations: true,
			FlushInterval:      30 * time.Second,
		},
		Store: StoreConfig{
			ArchiveDir:      "data/raw",
			FutureTolerance: time.Minute,
		},
		Pipeline: PipelineConfig{
			UnitPrice:         2.1,
			Contamination:     0.05,
			RandomSeed:        42,
			Trees:             100,
			SampleSize:        256,
			MinAnomalySamples: 2,
			DefaultProfile:    "fault",
			HorizonDays:       5,
			MinHistoryDays:    3,
			ComposeTimeout:    10 * time.Second,
		},
		Model: ModelConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if any), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironment()
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	c.LogMode = getEnv("LOG_MODE", c.LogMode)

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = getEnvStringSlice("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.ConsumerCount = getEnvInt("KAFKA_CONSUMER_COUNT", c.Kafka.ConsumerCount)
	c.Kafka.BatchSize = getEnvInt("KAFKA_BATCH_SIZE", c.Kafka.BatchSize)
	c.Kafka.BatchTimeout = getEnvDuration("KAFKA_BATCH_TIMEOUT", c.Kafka.BatchTimeout)

	c.InfluxDB.Enabled = getEnvBool("INFLUXDB_ENABLED", c.InfluxDB.Enabled)
	c.InfluxDB.URL = getEnv("INFLUXDB_URL", c.InfluxDB.URL)
	c.InfluxDB.Org = getEnv("INFLUXDB_ORG", c.InfluxDB.Org)
	c.InfluxDB.Token = getEnv("INFLUX_TOKEN", c.InfluxDB.Token)
	c.InfluxDB.Bucket = getEnv("INFLUXDB_BUCKET", c.InfluxDB.Bucket)
	c.InfluxDB.ImportLookback = getEnvDuration("INFLUXDB_IMPORT_LOOKBACK", c.InfluxDB.ImportLookback)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.TTL = getEnvDuration("REDIS_TTL", c.Redis.TTL)

	c.Processor.WorkerCount = getEnvInt("PROCESSOR_WORKER_COUNT", c.Processor.WorkerCount)
	c.Processor.QueueSize = getEnvInt("PROCESSOR_QUEUE_SIZE", c.Processor.QueueSize)
	c.Processor.EnableAggregations = getEnvBool("PROCESSOR_ENABLE_AGGREGATIONS", c.Processor.EnableAggregations)
	c.Processor.FlushInterval = getEnvDuration("PROCESSOR_FLUSH_INTERVAL", c.Processor.FlushInterval)

	c.Store.ArchiveDir = getEnv("RAW_DATA_DIR", c.Store.ArchiveDir)
	c.Store.ImportFile = getEnv("STORE_IMPORT_FILE", c.Store.ImportFile)
	c.Store.FutureTolerance = getEnvDuration("STORE_FUTURE_TOLERANCE", c.Store.FutureTolerance)

	c.Pipeline.UnitPrice = getEnvFloat("UNIT_PRICE", c.Pipeline.UnitPrice)
	c.Pipeline.Contamination = getEnvFloat("ANOMALY_CONTAMINATION", c.Pipeline.Contamination)
	c.Pipeline.RandomSeed = int64(getEnvInt("ANOMALY_RANDOM_SEED", int(c.Pipeline.RandomSeed)))
	c.Pipeline.Trees = getEnvInt("ANOMALY_TREES", c.Pipeline.Trees)
	c.Pipeline.SampleSize = getEnvInt("ANOMALY_SAMPLE_SIZE", c.Pipeline.SampleSize)
	c.Pipeline.MinAnomalySamples = getEnvInt("ANOMALY_MIN_SAMPLES", c.Pipeline.MinAnomalySamples)
	c.Pipeline.DefaultProfile = getEnv("ANOMALY_PROFILE", c.Pipeline.DefaultProfile)
	c.Pipeline.HorizonDays = getEnvInt("FORECAST_HORIZON_DAYS", c.Pipeline.HorizonDays)
	c.Pipeline.MinHistoryDays = getEnvInt("FORECAST_MIN_HISTORY_DAYS", c.Pipeline.MinHistoryDays)
	c.Pipeline.ComposeTimeout = getEnvDuration("COMPOSE_TIMEOUT", c.Pipeline.ComposeTimeout)

	c.Model.Path = getEnv("MODEL_PATH", c.Model.Path)
	c.Model.URL = getEnv("MODEL_URL", c.Model.URL)
	c.Model.SequenceURL = getEnv("MODEL_SEQUENCE_URL", c.Model.SequenceURL)
	c.Model.Timeout = getEnvDuration("MODEL_TIMEOUT", c.Model.Timeout)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var problems []string

	if c.Pipeline.UnitPrice < 0 {
		problems = append(problems, "pipeline.unit_price must not be negative")
	}
	if c.Pipeline.Contamination <= 0 || c.Pipeline.Contamination > 0.5 {
		problems = append(problems, "pipeline.contamination must be in (0, 0.5]")
	}
	if c.Pipeline.Trees < 1 {
		problems = append(problems, "pipeline.trees must be at least 1")
	}
	if c.Pipeline.SampleSize < 2 {
		problems = append(problems, "pipeline.sample_size must be at least 2")
	}
	if c.Pipeline.MinAnomalySamples < 2 {
		problems = append(problems, "pipeline.min_anomaly_samples must be at least 2")
	}
	if c.Pipeline.HorizonDays < 1 || c.Pipeline.HorizonDays > 366 {
		problems = append(problems, "pipeline.horizon_days must be between 1 and 366")
	}
	if _, err := anomaly.ParseProfile(c.Pipeline.DefaultProfile); err != nil {
		problems = append(problems, "pipeline.default_profile must name the fault or leakage profile")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			problems = append(problems, "kafka.brokers and kafka.topic are required when kafka is enabled")
		}
		if c.Kafka.ConsumerCount < 1 || c.Kafka.BatchSize < 1 {
			problems = append(problems, "kafka.consumer_count and kafka.batch_size must be positive")
		}
		if c.Kafka.BatchTimeout <= 0 {
			problems = append(problems, "kafka.batch_timeout must be positive")
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		problems = append(problems, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Processor.WorkerCount < 1 || c.Processor.QueueSize < 1 {
		problems = append(problems, "processor.worker_count and processor.queue_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.Split(value, ",")
	}
	return defaultValue
}
