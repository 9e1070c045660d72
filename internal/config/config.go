package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the squadops server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Jobs      JobsConfig
	Artifacts ArtifactsConfig
	Events    EventsConfig
	Webhook   WebhookConfig
	Cache     CacheConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
}

type JobsConfig struct {
	Ceiling            int
	IdempotencyTTL     time.Duration
	IdempotencyBackend string
	ArtifactRoot       string
	ShutdownTimeout    time.Duration
	// HeartbeatInterval is how often running jobs are marked alive. Jobs
	// silent for three intervals are failed as orphaned.
	HeartbeatInterval  time.Duration
}

type ArtifactsConfig struct {
	Backend string
	Minio   MinioConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

type EventsConfig struct {
	Backend  string
	AMQPURL  string
	Exchange string
}

type WebhookConfig struct {
	Secret    string
	ReplayTTL time.Duration
}

type CacheConfig struct {
	SquadTTL time.Duration
}

type MetricsConfig struct {
	Enabled     bool
	ServiceName string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var (
	validIdempotencyBackends = map[string]bool{"memory": true, "redis": true}
	validArtifactBackends    = map[string]bool{"file": true, "minio": true}
	validEventBackends       = map[string]bool{"none": true, "amqp": true}
)

// Load reads configuration from the environment (after an optional .env file)
// and returns a validated Config.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SQUADOPS_PORT", 8080),
			Env:  envString("SQUADOPS_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Jobs: JobsConfig{
			Ceiling:            envInt("JOBS_CONCURRENCY_CEILING", 5),
			IdempotencyTTL:     envDuration("JOBS_IDEMPOTENCY_TTL", 5*time.Minute),
			IdempotencyBackend: envString("IDEMPOTENCY_BACKEND", "memory"),
			ArtifactRoot:       envString("JOBS_ARTIFACT_ROOT", "."),
			ShutdownTimeout:    envDuration("JOBS_SHUTDOWN_TIMEOUT", 20*time.Second),
			HeartbeatInterval:  envDuration("JOBS_HEARTBEAT_INTERVAL", 10*time.Second),
		},
		Artifacts: ArtifactsConfig{
			Backend: envString("ARTIFACT_BACKEND", "file"),
			Minio: MinioConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    envString("MINIO_BUCKET", "gate-artifacts"),
				Secure:    envBool("MINIO_SECURE", false),
			},
		},
		Events: EventsConfig{
			Backend:  envString("EVENTS_BACKEND", "none"),
			AMQPURL:  os.Getenv("AMQP_URL"),
			Exchange: envString("AMQP_EXCHANGE", "squadops.events"),
		},
		Webhook: WebhookConfig{
			Secret:    os.Getenv("GATES_WEBHOOK_SECRET"),
			ReplayTTL: envDuration("GATES_WEBHOOK_REPLAY_TTL", 24*time.Hour),
		},
		Cache: CacheConfig{
			SquadTTL: envDurationSecs("SQUAD_CACHE_TTL_SECS", 600*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled:     envBool("METRICS_ENABLED", true),
			ServiceName: envString("METRICS_SERVICE_NAME", "squadops"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Jobs.Ceiling <= 0 {
		return fmt.Errorf("JOBS_CONCURRENCY_CEILING must be positive, got %d", c.Jobs.Ceiling)
	}

	if c.Jobs.HeartbeatInterval <= 0 {
		return fmt.Errorf("JOBS_HEARTBEAT_INTERVAL must be positive, got %s", c.Jobs.HeartbeatInterval)
	}
	if !validIdempotencyBackends[c.Jobs.IdempotencyBackend] {
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be one of memory, redis; got %q", c.Jobs.IdempotencyBackend)
	}

	if !validArtifactBackends[c.Artifacts.Backend] {
		return fmt.Errorf("ARTIFACT_BACKEND must be one of file, minio; got %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "minio" {
		m := c.Artifacts.Minio
		if m.Endpoint == "" || m.AccessKey == "" || m.SecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when ARTIFACT_BACKEND is minio")
		}
		if strings.HasPrefix(m.Endpoint, "http://") || strings.HasPrefix(m.Endpoint, "https://") {
			return fmt.Errorf("MINIO_ENDPOINT must be host:port without scheme, got %q", m.Endpoint)
		}
	}

	if !validEventBackends[c.Events.Backend] {
		return fmt.Errorf("EVENTS_BACKEND must be one of none, amqp; got %q", c.Events.Backend)
	}
	if c.Events.Backend == "amqp" && c.Events.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is required when EVENTS_BACKEND is amqp")
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

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
