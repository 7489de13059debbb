package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the acquisition server and workers.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Mongo     MongoConfig
	Providers ProvidersConfig
	Breaker   BreakerConfig
	Cache     CacheConfig
	Worker    WorkerConfig
	Tiler     TilerConfig
	RulesPath string
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

// SlogLevel maps LogLevel onto slog; validate has already rejected unknown names.
func (s ServerConfig) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
	ApplicationName string
	ConnectAttempts int
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Backend  string
	Name     string
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type RabbitMQConfig struct {
	URL string
}

type MongoConfig struct {
	URI      string
	Database string
	Bucket   string
}

type ProvidersConfig struct {
	OpticalPrimaryURL    string
	OpticalSecondaryURL  string
	OpticalCollection    string
	RadarPrimaryURL      string
	RadarSecondaryURL    string
	RadarCollection      string
	WeatherPrimaryURL    string
	WeatherPrimaryKind   string
	WeatherSecondaryURL  string
	WeatherSecondaryKind string
	HTTPTimeout          time.Duration
	MaxPages             int
}

type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	CallTimeout      time.Duration
}

type CacheConfig struct {
	SceneTTL       time.Duration
	StaleRetention time.Duration
}

type WorkerConfig struct {
	Concurrency       int
	VisibilityTimeout time.Duration
	RequeueDelay      time.Duration
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	MetricsPort       int
}

type TilerConfig struct {
	BaseURL    string
	CacheNodes []string
	WarmMinZ   int
	WarmMaxZ   int
	Timeout    time.Duration
}

var validBackends = map[string]bool{
	"redis":    true,
	"kafka":    true,
	"rabbitmq": true,
}

var validWeatherKinds = map[string]bool{
	"openmeteo": true,
	"power":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("VIVACAMPO_PORT", 8080),
			Env:      envString("VIVACAMPO_ENV", "development"),
			LogLevel: strings.ToLower(envString("LOG_LEVEL", "info")),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
			ApplicationName: envString("DATABASE_APP_NAME", "vivacampo"),
			ConnectAttempts: envInt("DATABASE_CONNECT_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Backend: envString("QUEUE_BACKEND", "redis"),
			Name:    envString("QUEUE_NAME", "vivacampo-jobs"),
			Kafka: KafkaConfig{
				Brokers: envList("KAFKA_BROKERS", nil),
				GroupID: envString("KAFKA_GROUP_ID", "vivacampo-worker"),
			},
			RabbitMQ: RabbitMQConfig{
				URL: os.Getenv("RABBITMQ_URL"),
			},
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGO_URI"),
			Database: envString("MONGO_DATABASE", "vivacampo"),
			Bucket:   envString("MONGO_MOSAIC_BUCKET", "mosaics"),
		},
		Providers: ProvidersConfig{
			OpticalPrimaryURL:    envString("OPTICAL_PRIMARY_URL", "https://planetarycomputer.microsoft.com/api/stac/v1"),
			OpticalSecondaryURL:  envString("OPTICAL_SECONDARY_URL", "https://earth-search.aws.element84.com/v1"),
			OpticalCollection:    envString("OPTICAL_COLLECTION", "sentinel-2-l2a"),
			RadarPrimaryURL:      envString("RADAR_PRIMARY_URL", "https://planetarycomputer.microsoft.com/api/stac/v1"),
			RadarSecondaryURL:    envString("RADAR_SECONDARY_URL", "https://earth-search.aws.element84.com/v1"),
			RadarCollection:      envString("RADAR_COLLECTION", "sentinel-1-grd"),
			WeatherPrimaryURL:    envString("WEATHER_PRIMARY_URL", "https://archive-api.open-meteo.com/v1/archive"),
			WeatherPrimaryKind:   envString("WEATHER_PRIMARY_KIND", "openmeteo"),
			WeatherSecondaryURL:  envString("WEATHER_SECONDARY_URL", "https://power.larc.nasa.gov/api/temporal/daily/point"),
			WeatherSecondaryKind: envString("WEATHER_SECONDARY_KIND", "power"),
			HTTPTimeout:          envDuration("PROVIDER_HTTP_TIMEOUT", 30*time.Second),
			MaxPages:             envInt("PROVIDER_MAX_PAGES", 5),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  envDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			CallTimeout:      envDuration("BREAKER_CALL_TIMEOUT", 20*time.Second),
		},
		Cache: CacheConfig{
			SceneTTL:       envDuration("CACHE_SCENE_TTL", 24*time.Hour),
			StaleRetention: envDuration("CACHE_STALE_RETENTION", 30*24*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency:       envInt("WORKER_CONCURRENCY", 4),
			VisibilityTimeout: envDuration("WORKER_VISIBILITY_TIMEOUT", 10*time.Minute),
			RequeueDelay:      envDuration("WORKER_REQUEUE_DELAY", 2*time.Second),
			SchedulerEnabled:  envBool("SCHEDULER_ENABLED", false),
			SchedulerInterval: envDuration("SCHEDULER_INTERVAL", 24*time.Hour),
			MetricsPort:       envInt("WORKER_METRICS_PORT", 9090),
		},
		Tiler: TilerConfig{
			BaseURL:    os.Getenv("TILER_BASE_URL"),
			CacheNodes: envList("TILE_CACHE_NODES", nil),
			WarmMinZ:   envInt("TILE_WARM_MIN_ZOOM", 12),
			WarmMaxZ:   envInt("TILE_WARM_MAX_ZOOM", 15),
			Timeout:    envDuration("TILER_TIMEOUT", 30*time.Second),
		},
		RulesPath: os.Getenv("RULES_PATH"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, kafka, rabbitmq; got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "kafka" && len(c.Queue.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when QUEUE_BACKEND is kafka")
	}
	if c.Queue.Backend == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required when QUEUE_BACKEND is rabbitmq")
	}

	if c.Tiler.BaseURL == "" {
		return fmt.Errorf("TILER_BASE_URL is required")
	}
	for name, u := range map[string]string{
		"TILER_BASE_URL":        c.Tiler.BaseURL,
		"OPTICAL_PRIMARY_URL":   c.Providers.OpticalPrimaryURL,
		"OPTICAL_SECONDARY_URL": c.Providers.OpticalSecondaryURL,
		"RADAR_PRIMARY_URL":     c.Providers.RadarPrimaryURL,
		"RADAR_SECONDARY_URL":   c.Providers.RadarSecondaryURL,
		"WEATHER_PRIMARY_URL":   c.Providers.WeatherPrimaryURL,
		"WEATHER_SECONDARY_URL": c.Providers.WeatherSecondaryURL,
	} {
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if !validWeatherKinds[c.Providers.WeatherPrimaryKind] {
		return fmt.Errorf("WEATHER_PRIMARY_KIND must be one of openmeteo, power; got %q", c.Providers.WeatherPrimaryKind)
	}
	if c.Providers.WeatherSecondaryURL != "" && !validWeatherKinds[c.Providers.WeatherSecondaryKind] {
		return fmt.Errorf("WEATHER_SECONDARY_KIND must be one of openmeteo, power; got %q", c.Providers.WeatherSecondaryKind)
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("BREAKER_RECOVERY_TIMEOUT must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Tiler.WarmMinZ > c.Tiler.WarmMaxZ {
		return fmt.Errorf("TILE_WARM_MIN_ZOOM (%d) must not exceed TILE_WARM_MAX_ZOOM (%d)", c.Tiler.WarmMinZ, c.Tiler.WarmMaxZ)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
