// Package config reads the environment of both shop-assistant binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	// MaxContextWindow caps how many prior messages one prompt may carry.
	MaxContextWindow = 1000
	MaxTemperature   = 2.0
)

// Config holds every setting the entrypoints need.
type Config struct {
	CatalogBackend string
	HistoryBackend string
	SQLitePath     string
	DatabaseURL    string
	StateTable     string

	LLMProvider         string
	GeminiAPIKey        string
	GeminiModel         string
	GeminiFallbackModel string
	GeminiBaseURL       string
	OpenAIBaseURL       string
	OpenAIModel         string
	OpenAIFallbackModel string
	ParamPrefix         string
	ProviderTimeout     time.Duration
	Temperature         float64

	ContextWindow     int
	MaxMessageLength  int
	SerializeSessions bool
	SeedCatalog       bool

	NATSURL           string
	STANClusterID     string
	STANClientID      string
	DeadLetterSubject string

	HTTPAddr  string
	LogLevel  string
	LogPretty bool
}

// DeadLetterEnabled reports whether failed turns go to NATS Streaming.
func (c Config) DeadLetterEnabled() bool {
	return c.NATSURL != "" && c.STANClusterID != ""
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	timeoutSeconds, err := envInt("PROVIDER_TIMEOUT_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	window, err := envInt("CONTEXT_WINDOW", 6)
	if err != nil {
		return Config{}, err
	}
	maxLen, err := envInt("MAX_MESSAGE_LENGTH", 2000)
	if err != nil {
		return Config{}, err
	}
	temperature, err := envFloat("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		CatalogBackend: strings.ToLower(envOrDefault("CATALOG_BACKEND", BackendSQLite)),
		HistoryBackend: strings.ToLower(envOrDefault("HISTORY_BACKEND", BackendSQLite)),
		SQLitePath:     envOrDefault("SQLITE_PATH", "./data/ecommerce_chat.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateTable:     os.Getenv("STATE_TABLE"),

		LLMProvider:         strings.ToLower(envOrDefault("LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiFallbackModel: envOrDefault("GEMINI_FALLBACK_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:       os.Getenv("GEMINI_BASE_URL"),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:         os.Getenv("OPENAI_MODEL"),
		OpenAIFallbackModel: envOrDefault("OPENAI_FALLBACK_MODEL", "gpt-4o-mini"),
		ParamPrefix:         os.Getenv("PARAM_PREFIX"),
		ProviderTimeout:     time.Duration(timeoutSeconds) * time.Second,
		Temperature:         temperature,

		ContextWindow:     window,
		MaxMessageLength:  maxLen,
		SerializeSessions: envBoolOrDefault("SERIALIZE_SESSIONS", true),
		SeedCatalog:       envBoolOrDefault("SEED_CATALOG", true),

		NATSURL:           os.Getenv("NATS_URL"),
		STANClusterID:     os.Getenv("STAN_CLUSTER_ID"),
		STANClientID:      os.Getenv("STAN_CLIENT_ID"),
		DeadLetterSubject: envOrDefault("DEADLETTER_SUBJECT", "shop.chat.deadletter"),

		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogPretty: envBoolOrDefault("LOG_PRETTY", false),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.CatalogBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CATALOG_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("CATALOG_BACKEND must be one of memory, sqlite, postgres: got %q", c.CatalogBackend)
	}

	switch c.HistoryBackend {
	case BackendMemory, BackendSQLite:
	case BackendDynamoDB:
		if c.StateTable == "" {
			return fmt.Errorf("STATE_TABLE is required when HISTORY_BACKEND=%s", BackendDynamoDB)
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be one of memory, sqlite, dynamodb: got %q", c.HistoryBackend)
	}

	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" && c.ParamPrefix == "" {
			return fmt.Errorf("GEMINI_API_KEY or PARAM_PREFIX is required when LLM_PROVIDER=%s", ProviderGemini)
		}
	case ProviderOpenAI:
		if c.ParamPrefix == "" {
			return fmt.Errorf("PARAM_PREFIX is required when LLM_PROVIDER=%s", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of gemini, openai: got %q", c.LLMProvider)
	}

	if c.ProviderTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT_SECONDS must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > MaxTemperature {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and %g: got %g", MaxTemperature, c.Temperature)
	}
	if c.ContextWindow <= 0 {
		return errors.New("CONTEXT_WINDOW must be > 0")
	}
	if c.ContextWindow > MaxContextWindow {
		return fmt.Errorf("CONTEXT_WINDOW must be <= %d: got %d", MaxContextWindow, c.ContextWindow)
	}
	if c.MaxMessageLength <= 0 {
		return errors.New("MAX_MESSAGE_LENGTH must be > 0")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
