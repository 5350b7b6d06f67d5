package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// LLM configuration
	LLM LLMConfig `mapstructure:"llm"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Graph configuration
	Graph GraphConfig `mapstructure:"graph"`

	// Analysis configuration
	Analysis AnalysisConfig `mapstructure:"analysis"`

	// Queue configuration
	Queue QueueConfig `mapstructure:"queue"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test

	// Transport selects the MCP transport: stdio, sse, or http.
	Transport string `mapstructure:"transport"`
}

// DatabaseConfig holds graph database configuration
type DatabaseConfig struct {
	Provider string `mapstructure:"provider"` // neo4j, falkordb
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LLMConfig holds LLM gateway configuration
type LLMConfig struct {
	Model       string  `mapstructure:"model"`
	SmallModel  string  `mapstructure:"small_model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// EmbeddingConfig holds embedder configuration
type EmbeddingConfig struct {
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// EntityTypeConfig is one custom entity type constraining extraction
type EntityTypeConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// GraphConfig holds graph memory configuration
type GraphConfig struct {
	// GroupID is the default namespace when a request carries none.
	GroupID string `mapstructure:"group_id"`

	// EntityTypes constrains entity extraction to these labels.
	EntityTypes []EntityTypeConfig `mapstructure:"entity_types"`
}

// AnalysisConfig holds analytics configuration
type AnalysisConfig struct {
	// ToolEntities overrides the component blocklist; empty keeps the
	// built-in default list.
	ToolEntities []string `mapstructure:"tool_entities"`

	// RecurrenceThreshold gates recurrence pairs; 0 keeps the default.
	RecurrenceThreshold float64 `mapstructure:"recurrence_threshold"`
}

// QueueConfig holds ingestion queue configuration
type QueueConfig struct {
	// Concurrency is the global episode-processing permit count.
	Concurrency int `mapstructure:"concurrency"`

	// ShutdownGraceSeconds bounds the drain wait on shutdown.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.transport", "http")

	// Database defaults
	viper.SetDefault("database.provider", "neo4j")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.username", "neo4j")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "neo4j")

	// LLM defaults
	viper.SetDefault("llm.model", "gpt-4.1-mini")
	viper.SetDefault("llm.small_model", "gpt-4.1-nano")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_tokens", 8192)

	// Embedding defaults
	viper.SetDefault("embedding.model", "text-embedding-3-small")

	// Graph defaults
	viper.SetDefault("graph.group_id", "main")

	// Queue defaults
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.shutdown_grace_seconds", 30)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}
	if model := os.Getenv("SMALL_MODEL_NAME"); model != "" {
		config.LLM.SmallModel = model
	}
	if model := os.Getenv("EMBEDDER_MODEL_NAME"); model != "" {
		config.Embedding.Model = model
	}

	// Database credentials
	if provider := os.Getenv("DB_PROVIDER"); provider != "" {
		config.Database.Provider = provider
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		config.Database.Database = db
	}
	if uri := os.Getenv("FALKORDB_URI"); uri != "" {
		config.Database.Provider = "falkordb"
		config.Database.URI = uri
	}

	// Graph settings
	if groupID := os.Getenv("GROUP_ID"); groupID != "" {
		config.Graph.GroupID = groupID
	}

	// Queue settings
	if raw := os.Getenv("SEMAPHORE_LIMIT"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			config.Queue.Concurrency = limit
		}
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if raw := os.Getenv("SERVER_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			config.Server.Port = port
		}
	}
	if transport := os.Getenv("MCP_TRANSPORT"); transport != "" {
		config.Server.Transport = transport
	}
}
