package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the StyleDNA pipeline binaries.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Inference InferenceConfig
	Monitor   MonitorConfig
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
}

type RedisConfig struct {
	URL string
}

// QueueConfig selects the queue transport at process start.
// Mode "postgres" uses the embedded transactional queue table;
// mode "rabbitmq" uses the distributed AMQP transport.
type QueueConfig struct {
	Mode         string
	Name         string
	RabbitURL    string
	LeaseTimeout time.Duration
}

type WorkerConfig struct {
	MaxAttempts      int
	RetryBase        time.Duration
	RetryMax         time.Duration
	PollInterval     time.Duration
	InferenceTimeout time.Duration
}

type InferenceConfig struct {
	Provider string
	OpenAI   OpenAIConfig
	Ollama   OllamaConfig
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

// MonitorConfig holds thresholds for operational health checks.
type MonitorConfig struct {
	MaxQueueDepth    int
	MaxDeadLetters   int
	MaxLag           time.Duration
	MaxErrorRate     float64
	ErrorRateWindow  time.Duration
	MinErrorRateRuns int
}

var validQueueModes = map[string]bool{
	"postgres": true,
	"rabbitmq": true,
}

var validProviders = map[string]bool{
	"deterministic": true,
	"openai":        true,
	"ollama":        true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("STYLEDNA_PORT", 8080),
			Env:  envString("STYLEDNA_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Mode:         envString("QUEUE_MODE", "postgres"),
			Name:         envString("QUEUE_NAME", "styledna.analysis"),
			RabbitURL:    os.Getenv("RABBITMQ_URL"),
			LeaseTimeout: envDuration("QUEUE_LEASE_TIMEOUT", 5*time.Minute),
		},
		Worker: WorkerConfig{
			MaxAttempts:      envInt("WORKER_MAX_ATTEMPTS", 3),
			RetryBase:        envDuration("WORKER_RETRY_BASE", 30*time.Second),
			RetryMax:         envDuration("WORKER_RETRY_MAX", 15*time.Minute),
			PollInterval:     envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			InferenceTimeout: envDurationSecs("INFERENCE_TIMEOUT_SECS", 60*time.Second),
		},
		Inference: InferenceConfig{
			Provider: envString("INFERENCE_PROVIDER", "deterministic"),
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llava"),
			},
		},
		Monitor: MonitorConfig{
			MaxQueueDepth:    envInt("MONITOR_MAX_QUEUE_DEPTH", 1000),
			MaxDeadLetters:   envInt("MONITOR_MAX_DEAD_LETTERS", 50),
			MaxLag:           envDuration("MONITOR_MAX_LAG", 10*time.Minute),
			MaxErrorRate:     envFloat("MONITOR_MAX_ERROR_RATE", 0.25),
			ErrorRateWindow:  envDuration("MONITOR_ERROR_RATE_WINDOW", time.Hour),
			MinErrorRateRuns: envInt("MONITOR_MIN_ERROR_RATE_RUNS", 10),
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

	if !validQueueModes[c.Queue.Mode] {
		return fmt.Errorf("QUEUE_MODE must be one of postgres, rabbitmq; got %q", c.Queue.Mode)
	}
	if c.Queue.Mode == "rabbitmq" {
		if c.Queue.RabbitURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when QUEUE_MODE is rabbitmq")
		}
		if !strings.HasPrefix(c.Queue.RabbitURL, "amqp://") && !strings.HasPrefix(c.Queue.RabbitURL, "amqps://") {
			return fmt.Errorf("RABBITMQ_URL must start with amqp:// or amqps://, got %q", c.Queue.RabbitURL)
		}
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.RetryBase <= 0 {
		return fmt.Errorf("WORKER_RETRY_BASE must be positive, got %s", c.Worker.RetryBase)
	}

	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of deterministic, openai, ollama; got %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "openai" && c.Inference.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when INFERENCE_PROVIDER is openai")
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
