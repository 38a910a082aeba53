// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Store, Merge, Search, Server, Kafka, Redis, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Merge    MergeConfig    `yaml:"merge"`
	Search   SearchConfig   `yaml:"search"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds listener settings for the TCP protocol server and the
// HTTP façade.
type ServerConfig struct {
	TCPAddr         string        `yaml:"tcpAddr"`
	HTTPAddr        string        `yaml:"httpAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig controls where the index lives on disk and its block layout.
type StoreConfig struct {
	DataDir       string        `yaml:"dataDir"`
	BlockSize     int           `yaml:"blockSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// MergeConfig controls the tiered merge policy.
type MergeConfig struct {
	MaxMergeAtOnce     int `yaml:"maxMergeAtOnce"`
	MaxSegmentsPerTier int `yaml:"maxSegmentsPerTier"`
	FloorSegmentBlocks int `yaml:"floorSegmentBlocks"`
}

// SearchConfig holds default query limits and timeouts. Only QueryTimeout is
// read (fpindexd passes it to the index as its search deadline); the
// protocol session uses its own built-in defaults, and WriterWaitTimeout is
// not applied to any writer acquisition.
type SearchConfig struct {
	DefaultMaxResults     int           `yaml:"defaultMaxResults"`
	DefaultTopScorePercent int          `yaml:"defaultTopScorePercent"`
	WriterWaitTimeout     time.Duration `yaml:"writerWaitTimeout"`
	QueryTimeout          time.Duration `yaml:"queryTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the revision
// audit catalog.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the ingest
// producer/consumer pair.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	OpBatches          string `yaml:"opBatches"`
	RevisionsCommitted string `yaml:"revisionsCommitted"`
}

// RedisConfig holds Redis connection and search-result caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls the lightweight span tree's verbosity.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			TCPAddr:         ":6081",
			HTTPAddr:        ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			DataDir:       "./data",
			BlockSize:     512,
			FlushInterval: 5 * time.Second,
		},
		Merge: MergeConfig{
			MaxMergeAtOnce:     10,
			MaxSegmentsPerTier: 10,
			FloorSegmentBlocks: 4,
		},
		Search: SearchConfig{
			DefaultMaxResults:      500,
			DefaultTopScorePercent: 10,
			WriterWaitTimeout:      5 * time.Second,
			QueryTimeout:           500 * time.Millisecond,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "fpindex",
			User:            "fpindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "fpindex-group",
			Topics: KafkaTopics{
				OpBatches:          "fpindex.op-batches",
				RevisionsCommitted: "fpindex.revisions-committed",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FPI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FPI_SERVER_TCP_ADDR"); v != "" {
		cfg.Server.TCPAddr = v
	}
	if v := os.Getenv("FPI_SERVER_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("FPI_STORE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("FPI_STORE_BLOCK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.BlockSize = n
		}
	}
	if v := os.Getenv("FPI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FPI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FPI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FPI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FPI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FPI_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FPI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FPI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FPI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FPI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FPI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
