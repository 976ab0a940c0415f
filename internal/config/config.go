// Package config loads settings for the intake binaries from the
// environment and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/maatrinet/go-intake/internal/domain/intake"
)

// Assistant modes
const (
	AssistantBackend = "backend"
	AssistantOpenAI  = "openai"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	BackendURL     string        `mapstructure:"BACKEND_URL"`
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	BackendRetries int           `mapstructure:"BACKEND_RETRIES"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	KafkaBrokers   []string      `mapstructure:"KAFKA_BROKERS"`
	EventsTopic    string        `mapstructure:"INTAKE_EVENTS_TOPIC"`
	OTLPEndpoint   string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSample    float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	WizardIdleTTL  time.Duration `mapstructure:"WIZARD_IDLE_TTL"`
	SubmitWorkers  int           `mapstructure:"SUBMIT_WORKERS"`
	OpenAIKey      string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel    string        `mapstructure:"OPENAI_MODEL"`
	AssistantMode  string        `mapstructure:"ASSISTANT_MODE"`
	FallbackAge    int           `mapstructure:"INTAKE_FALLBACK_AGE"`
	FallbackGrav   int           `mapstructure:"INTAKE_FALLBACK_GRAVIDA"`
	SessionFile    string        `mapstructure:"SESSION_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"BACKEND_URL", "BACKEND_TIMEOUT", "BACKEND_RETRIES",
	"DATABASE_URL", "KAFKA_BROKERS", "INTAKE_EVENTS_TOPIC",
	"OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
	"WIZARD_IDLE_TTL", "SUBMIT_WORKERS",
	"OPENAI_API_KEY", "OPENAI_MODEL", "ASSISTANT_MODE",
	"INTAKE_FALLBACK_AGE", "INTAKE_FALLBACK_GRAVIDA",
	"SESSION_FILE",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	fb := intake.DefaultFallbacks()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BACKEND_URL", "http://localhost:8000")
	v.SetDefault("BACKEND_TIMEOUT", "15s")
	v.SetDefault("BACKEND_RETRIES", 2)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("INTAKE_EVENTS_TOPIC", "intake.wizard-events")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("WIZARD_IDLE_TTL", "30m")
	v.SetDefault("SUBMIT_WORKERS", 8)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ASSISTANT_MODE", AssistantBackend)
	v.SetDefault("INTAKE_FALLBACK_AGE", fb.Age)
	v.SetDefault("INTAKE_FALLBACK_GRAVIDA", fb.Gravida)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// the .env file is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// a comma separated env value arrives as a single element
	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}
	for i, b := range cfg.KafkaBrokers {
		cfg.KafkaBrokers[i] = strings.TrimSpace(b)
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Fallbacks returns the coercion defaults used when submitting drafts.
func (c *Config) Fallbacks() intake.Fallbacks {
	fb := intake.DefaultFallbacks()
	fb.Age = c.FallbackAge
	fb.Gravida = c.FallbackGrav
	return fb
}

// Validate rejects settings the binaries cannot run with.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive, got %s", c.BackendTimeout)
	}
	if c.BackendRetries < 0 {
		return fmt.Errorf("BACKEND_RETRIES must not be negative")
	}
	switch c.AssistantMode {
	case AssistantBackend:
	case AssistantOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ASSISTANT_MODE is %q", AssistantOpenAI)
		}
	default:
		return fmt.Errorf("ASSISTANT_MODE must be %q or %q, got %q", AssistantBackend, AssistantOpenAI, c.AssistantMode)
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1")
	}
	return nil
}
