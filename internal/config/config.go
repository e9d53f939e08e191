package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: WHETSTONE_EMBED_API_KEY sets
// embed.api_key.
const EnvPrefix = "WHETSTONE"

// Config holds all application configuration.
type Config struct {
	Embed     EmbedConfig     `mapstructure:"embed"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Index     IndexConfig     `mapstructure:"index"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Server    ServerConfig    `mapstructure:"server"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

type EmbedConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	CacheSize         int           `mapstructure:"cache_size"`
}

// VectorConfig selects the index backend. Backend is "sqlite" (Path),
// "qdrant" (Host, Port, Collection) or "memory".
type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// GraphConfig enables the Neo4j sink when URI is set.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type RetrievalConfig struct {
	TopK          int     `mapstructure:"top_k"`
	Threshold     float64 `mapstructure:"threshold"`
	MinSnippetLen int     `mapstructure:"min_snippet_len"`
	Concurrency   int     `mapstructure:"concurrency"`
}

type IndexConfig struct {
	// Repo tags indexed units ("owner/name"). Empty derives it from the
	// origin remote when indexing a git repository.
	Repo   string   `mapstructure:"repo"`
	Ignore []string `mapstructure:"ignore"`

	// Languages maps extensions, written without the leading dot, to
	// language names and overrides detection for them.
	Languages map[string]string `mapstructure:"languages"`

	// Redact masks credentials and personal data in unit code and query
	// snippets before embedding. RedactTypes limits the detectors; empty
	// enables all.
	Redact      bool     `mapstructure:"redact"`
	RedactStyle string   `mapstructure:"redact_style"`
	RedactTypes []string `mapstructure:"redact_types"`

	// StatePath holds per-file hashes for incremental runs.
	StatePath string `mapstructure:"state_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// ServerConfig is the worker's HTTP listener for health and metrics.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SecretsConfig selects where empty credentials (embed.api_key,
// graph.password) are resolved from: "env", "file" or "vault".
type SecretsConfig struct {
	Provider     string        `mapstructure:"provider"`
	File         string        `mapstructure:"file"`
	VaultAddress string        `mapstructure:"vault_address"`
	VaultToken   string        `mapstructure:"vault_token"`
	VaultMount   string        `mapstructure:"vault_mount"`
	VaultPath    string        `mapstructure:"vault_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embed.provider", "none")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.base_url", "")
	v.SetDefault("embed.requests_per_minute", 0)
	v.SetDefault("embed.timeout", 30*time.Second)
	v.SetDefault("embed.max_retries", 3)
	v.SetDefault("embed.retry_delay", time.Second)
	v.SetDefault("embed.cache_size", 4096)

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.path", ".whetstone/index.db")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "codebase")
	v.SetDefault("vector.dimension", 0)

	// Empty keys are still declared so WHETSTONE_* variables reach them.
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "whetstone")

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.threshold", 0.7)
	v.SetDefault("retrieval.min_snippet_len", 50)
	v.SetDefault("retrieval.concurrency", 1)

	v.SetDefault("index.repo", "")
	v.SetDefault("index.ignore", []string{})
	v.SetDefault("index.redact", false)
	v.SetDefault("index.redact_style", "redact")
	v.SetDefault("index.redact_types", []string{})
	v.SetDefault("index.state_path", ".whetstone/state.json")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "whetstone")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.file", ".whetstone/secrets.json")
	v.SetDefault("secrets.vault_address", "")
	v.SetDefault("secrets.vault_token", "")
	v.SetDefault("secrets.vault_mount", "secret")
	v.SetDefault("secrets.vault_path", "whetstone")
	v.SetDefault("secrets.timeout", 10*time.Second)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// Local endpoints such as Ollama need no key; file and vault secrets are
	// resolved after loading.
	external := c.Secrets.Provider == "file" || c.Secrets.Provider == "vault"
	if p := c.Embed.Provider; p != "" && p != "none" && p != "ollama" && c.Embed.APIKey == "" && !external {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", p))
	}

	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("retrieval threshold %.2f is outside the similarity range [-1.0, 1.0]", c.Retrieval.Threshold))
	}
	if c.Retrieval.TopK < 0 {
		warnings = append(warnings, fmt.Sprintf("retrieval top_k %d is negative", c.Retrieval.TopK))
	}

	switch c.Vector.Backend {
	case "", "sqlite", "memory":
	case "qdrant":
		if c.Vector.Collection == "" {
			warnings = append(warnings, "vector backend 'qdrant' needs a collection")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown vector backend '%s'", c.Vector.Backend))
	}

	switch c.Secrets.Provider {
	case "", "env", "file":
	case "vault":
		if c.Secrets.VaultAddress == "" || c.Secrets.VaultToken == "" {
			warnings = append(warnings, "secrets provider 'vault' needs vault_address and vault_token")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown secrets provider '%s'", c.Secrets.Provider))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path uses
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
