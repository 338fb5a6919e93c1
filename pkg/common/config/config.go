package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Server
	ServerPort     string        `mapstructure:"SERVER_PORT"`
	ServerHost     string        `mapstructure:"SERVER_HOST"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxRequestBody int64         `mapstructure:"MAX_REQUEST_BODY_BYTES"`

	// Export parsing
	ExportDelimiter string `mapstructure:"EXPORT_DELIMITER"`
	ExportEncoding  string `mapstructure:"EXPORT_ENCODING"`

	// Aggregation
	AggregationWorkers int    `mapstructure:"AGGREGATION_WORKERS"`
	DefaultStrategy    string `mapstructure:"DEFAULT_STRATEGY"`
	MappingFile        string `mapstructure:"MAPPING_FILE"`

	// De-identification
	DeidEnabled   bool   `mapstructure:"DEID_ENABLED"`
	DeidRulesFile string `mapstructure:"DEID_RULES_FILE"`
	DeidSalt      string `mapstructure:"DEID_SALT"`

	// Database
	ExportDBEnabled  bool   `mapstructure:"EXPORT_DB_ENABLED"`
	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     string `mapstructure:"POSTGRES_PORT"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresSSLMode  string `mapstructure:"POSTGRES_SSLMODE"`

	// Redis
	RedisEnabled  bool          `mapstructure:"REDIS_ENABLED"`
	RedisHost     string        `mapstructure:"REDIS_HOST"`
	RedisPort     string        `mapstructure:"REDIS_PORT"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RunCacheTTL   time.Duration `mapstructure:"RUN_CACHE_TTL"`

	// Kafka
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	// Artifacts
	ArtifactDir         string `mapstructure:"ARTIFACT_DIR"`
	ArtifactCompression string `mapstructure:"ARTIFACT_COMPRESSION"`
	S3Endpoint          string `mapstructure:"S3_ENDPOINT"`
	S3AccessKeyID       string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey   string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3Bucket            string `mapstructure:"S3_BUCKET"`
	S3Region            string `mapstructure:"S3_REGION"`
}

var keys = []string{
	"LOG_LEVEL",
	"SERVER_PORT", "SERVER_HOST", "READ_TIMEOUT", "WRITE_TIMEOUT", "MAX_REQUEST_BODY_BYTES",
	"EXPORT_DELIMITER", "EXPORT_ENCODING",
	"AGGREGATION_WORKERS", "DEFAULT_STRATEGY", "MAPPING_FILE",
	"DEID_ENABLED", "DEID_RULES_FILE", "DEID_SALT",
	"EXPORT_DB_ENABLED", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_SSLMODE",
	"REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "RUN_CACHE_TTL",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"ARTIFACT_DIR", "ARTIFACT_COMPRESSION", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_BUCKET", "S3_REGION",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. A missing .env is fine, an unreadable one is not.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom fills a Config from v. Tests pass a viper instance with values set.
func LoadFrom(v *viper.Viper) (*Config, error) {
	return LoadFile(v, ".env")
}

// LoadFile is LoadFrom with an explicit env file.
func LoadFile(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil && !missingConfig(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Broker lists arrive comma separated from the environment.
	cfg.KafkaBrokers = splitList(strings.Join(cfg.KafkaBrokers, ","))

	return cfg, nil
}

func missingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("READ_TIMEOUT", 30*time.Second)
	v.SetDefault("WRITE_TIMEOUT", 60*time.Second)
	v.SetDefault("MAX_REQUEST_BODY_BYTES", 32*1024*1024)

	v.SetDefault("EXPORT_DELIMITER", "")
	v.SetDefault("EXPORT_ENCODING", "auto")

	v.SetDefault("AGGREGATION_WORKERS", 8)
	v.SetDefault("DEFAULT_STRATEGY", "median")
	v.SetDefault("MAPPING_FILE", "")

	v.SetDefault("DEID_ENABLED", true)
	v.SetDefault("DEID_RULES_FILE", "")
	v.SetDefault("DEID_SALT", "")

	v.SetDefault("EXPORT_DB_ENABLED", false)
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "mlife")
	v.SetDefault("POSTGRES_PASSWORD", "mlife")
	v.SetDefault("POSTGRES_DB", "mlife")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RUN_CACHE_TTL", 24*time.Hour)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "mlife-export-records")

	v.SetDefault("ARTIFACT_DIR", "")
	v.SetDefault("ARTIFACT_COMPRESSION", "zstd")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
}

var (
	validStrategies = map[string]struct{}{"nearest": {}, "median": {}, "mean": {}, "first": {}, "last": {}}
	validEncodings  = map[string]struct{}{"auto": {}, "utf-8": {}, "windows-1252": {}}
	validCodecs     = map[string]struct{}{"none": {}, "zstd": {}, "lz4": {}}
)

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, ok := validStrategies[strings.ToLower(c.DefaultStrategy)]; !ok {
		return fmt.Errorf("DEFAULT_STRATEGY must be one of nearest, median, mean, first, last; got %q", c.DefaultStrategy)
	}
	if c.AggregationWorkers <= 0 {
		return fmt.Errorf("AGGREGATION_WORKERS must be positive, got %d", c.AggregationWorkers)
	}
	if _, ok := validEncodings[strings.ToLower(c.ExportEncoding)]; !ok {
		return fmt.Errorf("EXPORT_ENCODING must be auto, utf-8 or windows-1252; got %q", c.ExportEncoding)
	}
	if _, ok := validCodecs[strings.ToLower(c.ArtifactCompression)]; !ok {
		return fmt.Errorf("ARTIFACT_COMPRESSION must be none, zstd or lz4; got %q", c.ArtifactCompression)
	}
	if d := c.ExportDelimiter; d != "" && d != ";" && d != "|" {
		return fmt.Errorf("EXPORT_DELIMITER must be empty, ';' or '|'; got %q", d)
	}
	if c.S3Bucket != "" && c.S3Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required when S3_BUCKET is set")
	}
	return nil
}

// Delimiter returns the configured delimiter rune, or 0 for auto-detection.
func (c *Config) Delimiter() rune {
	if c.ExportDelimiter == "" {
		return 0
	}
	return []rune(c.ExportDelimiter)[0]
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
