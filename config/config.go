package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Pipeline PipelineConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
}

type PipelineConfig struct {
	ZuoraPath      string
	ZuoraDelimiter rune
	StripeURL      string
	StripeAPIKey   string
	StripeEnabled  bool
	StripeTimeout  time.Duration
	OutputPath     string
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig is disabled when URL is empty
type DatabaseConfig struct {
	URL string
}

// RedisConfig is disabled when Addr is empty
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// KafkaConfig is disabled when Brokers is empty
type KafkaConfig struct {
	Brokers       []string
	TopicRuns     string
	TopicRequests string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PushgatewayURL string
}

// fileConfig is the optional YAML overlay named by ETL_CONFIG_FILE
type fileConfig struct {
	Pipeline struct {
		ZuoraPath      string `yaml:"zuora_path"`
		ZuoraDelimiter string `yaml:"zuora_delimiter"`
		StripeURL      string `yaml:"stripe_url"`
		StripeEnabled  *bool  `yaml:"stripe_enabled"`
		StripeTimeout  string `yaml:"stripe_timeout"`
		OutputPath     string `yaml:"output_path"`
	} `yaml:"pipeline"`
}

// Load reads configuration. Precedence is environment (including .env), then
// the YAML file named by ETL_CONFIG_FILE, then defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var file fileConfig
	if path := os.Getenv("ETL_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	fp := file.Pipeline

	stripeEnabled := false
	if fp.StripeEnabled != nil {
		stripeEnabled = *fp.StripeEnabled
	}
	stripeEnabled, err := strconv.ParseBool(getEnv("STRIPE_ENABLED", strconv.FormatBool(stripeEnabled)))
	if err != nil {
		return nil, fmt.Errorf("invalid STRIPE_ENABLED: %w", err)
	}

	stripeTimeout, err := time.ParseDuration(getEnv("STRIPE_TIMEOUT", firstNonEmpty(fp.StripeTimeout, "30s")))
	if err != nil {
		return nil, fmt.Errorf("invalid STRIPE_TIMEOUT: %w", err)
	}

	delimiter := getEnv("ZUORA_DELIMITER", firstNonEmpty(fp.ZuoraDelimiter, ","))
	if len([]rune(delimiter)) != 1 {
		return nil, fmt.Errorf("invalid ZUORA_DELIMITER %q: must be a single character", delimiter)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	lockTTL, err := time.ParseDuration(getEnv("RUN_LOCK_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RUN_LOCK_TTL: %w", err)
	}

	cfg := &Config{
		Pipeline: PipelineConfig{
			ZuoraPath:      getEnv("ZUORA_FILE_PATH", firstNonEmpty(fp.ZuoraPath, "orders_source_zuora.csv")),
			ZuoraDelimiter: []rune(delimiter)[0],
			StripeURL:      getEnv("STRIPE_API_URL", fp.StripeURL),
			StripeAPIKey:   getEnv("STRIPE_API_KEY", ""),
			StripeEnabled:  stripeEnabled,
			StripeTimeout:  stripeTimeout,
			OutputPath:     getEnv("OUTPUT_PATH", firstNonEmpty(fp.OutputPath, "combined_orders.csv")),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  lockTTL,
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			TopicRuns:     getEnv("KAFKA_TOPIC_RUN_EVENTS", "etl-run-events"),
			TopicRequests: getEnv("KAFKA_TOPIC_RUN_REQUESTS", "etl-run-requests"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "order-etl-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("Config loaded: env=%s, zuora=%s, stripe_enabled=%t, output=%s",
		cfg.Server.Env, cfg.Pipeline.ZuoraPath, cfg.Pipeline.StripeEnabled, cfg.Pipeline.OutputPath)
	return cfg, nil
}

// Validate checks settings that cannot work together
func (c *Config) Validate() error {
	if c.Pipeline.ZuoraPath == "" {
		return errors.New("ZUORA_FILE_PATH is required")
	}
	if c.Pipeline.OutputPath == "" {
		return errors.New("OUTPUT_PATH is required")
	}
	if c.Pipeline.StripeEnabled && c.Pipeline.StripeURL == "" {
		return errors.New("STRIPE_API_URL is required when STRIPE_ENABLED is set")
	}
	if c.Pipeline.StripeTimeout < 0 {
		return errors.New("STRIPE_TIMEOUT must not be negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
