// Package config provides configuration management for kith. Settings are
// loaded from environment variables with the KITH_ prefix, with sensible
// defaults, and can be overlaid from an optional YAML file so matcher
// weights and search tuning can be versioned alongside the data.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the kith server and core.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Search    SearchConfig    `yaml:"search"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 7575)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Storage engine: sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // SQLite data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // DSN for the postgres embedding backend
}

// EmbeddingConfig configures the external embedding collaborator.
type EmbeddingConfig struct {
	OllamaURL         string        `yaml:"ollama_url"`          // Ollama API URL (default: http://localhost:11434)
	Model             string        `yaml:"model"`               // Embedding model name (default: nomic-embed-text)
	Dimension         int           `yaml:"dimension"`           // Vector dimension (default: 768)
	Timeout           time.Duration `yaml:"timeout"`             // Per-request bound (default: 5s)
	RequestsPerSecond float64       `yaml:"requests_per_second"` // Outbound rate cap (default: 10)
}

// MatcherConfig carries the identity matcher's weights and thresholds.
// Thresholds live here, not inside the algorithm, so deployments can tune
// how eagerly mentions auto-match.
type MatcherConfig struct {
	ExactNameWeight   float64 `yaml:"exact_name_weight"`
	FullNameWeight    float64 `yaml:"full_name_weight"`
	PartialNameWeight float64 `yaml:"partial_name_weight"`
	NicknameWeight    float64 `yaml:"nickname_weight"`
	OrgWeight         float64 `yaml:"org_weight"`
	HandleWeight      float64 `yaml:"handle_weight"`
	MatchThreshold    float64 `yaml:"match_threshold"`
	NoMatchThreshold  float64 `yaml:"no_match_threshold"`
	CloseScoreMargin  float64 `yaml:"close_score_margin"`
}

// SearchConfig tunes the semantic search engine.
type SearchConfig struct {
	CacheSize        int     `yaml:"cache_size"`        // Max cached query results (default: 512)
	OverfetchFactor  int     `yaml:"overfetch_factor"`  // Candidate pool multiplier before clustering (default: 3)
	ClusterThreshold float64 `yaml:"cluster_threshold"` // Mutual similarity for near-duplicate clustering (default: 0.92)
	DefaultLimit     int     `yaml:"default_limit"`     // Result limit when the caller passes none (default: 10)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode     string `yaml:"mode"`      // development or production (default: development)
	APIToken string `yaml:"api_token"` // Bearer token required in production mode
}

// LoadConfig loads configuration from environment variables with defaults.
// All environment variables use the KITH_ prefix.
func LoadConfig() (*Config, error) {
	return buildBaseConfig(), nil
}

// LoadConfigFile loads the env/default configuration and overlays values
// from a YAML file. File values take precedence over environment values.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field invariants that YAML overlays could break.
func (c *Config) Validate() error {
	if c.Matcher.MatchThreshold <= c.Matcher.NoMatchThreshold {
		return fmt.Errorf("config: match_threshold (%v) must be above no_match_threshold (%v)",
			c.Matcher.MatchThreshold, c.Matcher.NoMatchThreshold)
	}
	if c.Search.OverfetchFactor < 1 {
		return fmt.Errorf("config: overfetch_factor must be >= 1, got %d", c.Search.OverfetchFactor)
	}
	if c.Search.ClusterThreshold <= 0 || c.Search.ClusterThreshold > 1 {
		return fmt.Errorf("config: cluster_threshold must be in (0, 1], got %v", c.Search.ClusterThreshold)
	}
	return nil
}

// buildBaseConfig constructs a Config from environment variables and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("KITH_PORT", 7575),
			Host: getEnv("KITH_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Engine:      getEnv("KITH_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("KITH_DATA_PATH", "./data"),
			PostgresDSN: getEnv("KITH_POSTGRES_DSN", ""),
		},
		Embedding: EmbeddingConfig{
			OllamaURL:         getEnv("KITH_OLLAMA_URL", "http://localhost:11434"),
			Model:             getEnv("KITH_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimension:         getEnvInt("KITH_EMBEDDING_DIMENSION", 768),
			Timeout:           getEnvDuration("KITH_EMBEDDING_TIMEOUT", 5*time.Second),
			RequestsPerSecond: getEnvFloat("KITH_EMBEDDING_RATE", 10),
		},
		Matcher: MatcherConfig{
			ExactNameWeight:   getEnvFloat("KITH_MATCH_EXACT_WEIGHT", 0.9),
			FullNameWeight:    getEnvFloat("KITH_MATCH_FULLNAME_WEIGHT", 0.8),
			PartialNameWeight: getEnvFloat("KITH_MATCH_PARTIAL_WEIGHT", 0.6),
			NicknameWeight:    getEnvFloat("KITH_MATCH_NICKNAME_WEIGHT", 0.4),
			OrgWeight:         getEnvFloat("KITH_MATCH_ORG_WEIGHT", 0.2),
			HandleWeight:      getEnvFloat("KITH_MATCH_HANDLE_WEIGHT", 0.8),
			MatchThreshold:    getEnvFloat("KITH_MATCH_THRESHOLD", 0.75),
			NoMatchThreshold:  getEnvFloat("KITH_NO_MATCH_THRESHOLD", 0.35),
			CloseScoreMargin:  getEnvFloat("KITH_CLOSE_SCORE_MARGIN", 0.1),
		},
		Search: SearchConfig{
			CacheSize:        getEnvInt("KITH_SEARCH_CACHE_SIZE", 512),
			OverfetchFactor:  getEnvInt("KITH_SEARCH_OVERFETCH", 3),
			ClusterThreshold: getEnvFloat("KITH_CLUSTER_THRESHOLD", 0.92),
			DefaultLimit:     getEnvInt("KITH_SEARCH_DEFAULT_LIMIT", 10),
		},
		Security: SecurityConfig{
			Mode:     getEnv("KITH_SECURITY_MODE", "development"),
			APIToken: getEnv("KITH_API_TOKEN", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "5s") or
// returns a default value. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
