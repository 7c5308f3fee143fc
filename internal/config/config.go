package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
	"github.com/couchcryptid/corona-data-etl/internal/source"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Upstream feeds.
	CountriesURL        string
	CountriesDateLayout domain.DateLayout
	StatesURL           string
	CountiesURL         string
	USDateLayout        domain.DateLayout
	FetchTimeout        time.Duration
	MaxBodyBytes        int64
	RefreshInterval     time.Duration

	// Kafka sink.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// Partitions used when the sink topic has to be created.
	KafkaTopicPartitions int

	// PostgreSQL sink; disabled when PostgresDSN is empty.
	PostgresDSN string

	// Redis sink; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	refreshInterval, err := parsePositiveDuration("REFRESH_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	redisTTL, err := parsePositiveDuration("REDIS_TTL", "48h")
	if err != nil {
		return nil, err
	}

	countriesLayout, err := domain.ParseDateLayout(sharedcfg.EnvOrDefault("COUNTRIES_DATE_FORMAT", "iso"))
	if err != nil {
		return nil, fmt.Errorf("invalid COUNTRIES_DATE_FORMAT: %w", err)
	}
	usLayout, err := domain.ParseDateLayout(sharedcfg.EnvOrDefault("US_DATE_FORMAT", "iso"))
	if err != nil {
		return nil, fmt.Errorf("invalid US_DATE_FORMAT: %w", err)
	}

	maxBody, err := parsePositiveInt("MAX_BODY_BYTES", 512<<20)
	if err != nil {
		return nil, err
	}
	partitions, err := parsePositiveInt("KAFKA_TOPIC_PARTITIONS", 3)
	if err != nil {
		return nil, err
	}
	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB")
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CountriesURL:        sharedcfg.EnvOrDefault("COUNTRIES_URL", "https://pomber.github.io/covid19/timeseries.json"),
		CountriesDateLayout: countriesLayout,
		StatesURL:           sharedcfg.EnvOrDefault("STATES_URL", "https://raw.githubusercontent.com/nytimes/covid-19-data/master/us-states.csv"),
		CountiesURL:         sharedcfg.EnvOrDefault("COUNTIES_URL", "https://raw.githubusercontent.com/nytimes/covid-19-data/master/us-counties.csv"),
		USDateLayout:        usLayout,
		FetchTimeout:        fetchTimeout,
		MaxBodyBytes:        int64(maxBody),
		RefreshInterval:     refreshInterval,

		KafkaEnabled:   os.Getenv("KAFKA_SINK_ENABLED") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "corona-daily-series"),

		KafkaTopicPartitions: partitions,

		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisTTL:      redisTTL,
	}

	if cfg.CountriesURL == "" || cfg.StatesURL == "" || cfg.CountiesURL == "" {
		return nil, errors.New("COUNTRIES_URL, STATES_URL and COUNTIES_URL are required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_SINK_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

// Sources returns the upstream feeds in merge order: states, counties, then
// countries, so a place named by several feeds keeps the country-level data.
func (c *Config) Sources() []source.Source {
	return []source.Source{
		{Name: "states", Kind: source.KindStates, URL: c.StatesURL, DateLayout: c.USDateLayout},
		{Name: "counties", Kind: source.KindCounties, URL: c.CountiesURL, DateLayout: c.USDateLayout},
		{Name: "countries", Kind: source.KindCountries, URL: c.CountriesURL, DateLayout: c.CountriesDateLayout},
	}
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
