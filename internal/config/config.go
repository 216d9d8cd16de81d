package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the triage service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Vector     VectorConfig     `yaml:"vector"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// Vector store drivers.
const (
	DriverValkey = "valkey"
	DriverRedis  = "redis"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// DatabaseConfig holds vector store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis, memory (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// MetadataConfig holds the rule, domain list and classification log store.
type MetadataConfig struct {
	Driver        string        `yaml:"driver"` // sqlite, memory (default: sqlite)
	Path          string        `yaml:"path"`
	LogCapacity   int           `yaml:"log_capacity"`
	ListCacheSize int           `yaml:"list_cache_size"`
	ListCacheTTL  time.Duration `yaml:"list_cache_ttl"`
	JobTTL        time.Duration `yaml:"job_ttl"`
}

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
	ProviderNone   = "none"
)

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider     string        `yaml:"provider"` // openai, hash (default: hash)
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Dimensions   int           `yaml:"dimensions"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	Burst        int           `yaml:"burst"`
	MaxRetries   int           `yaml:"max_retries"`
	Timeout      time.Duration `yaml:"timeout"`
	Cache        CacheConfig   `yaml:"cache"`
}

// CacheConfig holds the embedding cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Size    int           `yaml:"size"` // in-memory entries, used with the memory driver
}

// ClassifierConfig holds the AI classifier and decision thresholds.
type ClassifierConfig struct {
	Provider            string        `yaml:"provider"` // openai, none (default: none)
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	Threshold           float64       `yaml:"threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	VIPBoost            int           `yaml:"vip_boost"`
	DefaultImportance   int           `yaml:"default_importance"`
	MinSubstantiveChars int           `yaml:"min_substantive_chars"`
	Categories          []string      `yaml:"categories"`
}

// ChunkingConfig holds chunk sizing.
type ChunkingConfig struct {
	TargetTokens  int `yaml:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
	MinCodeUnit   int `yaml:"min_code_unit"`
	FallbackLines int `yaml:"fallback_lines"`
}

// VectorConfig holds similarity search and index settings.
type VectorConfig struct {
	MinSimilarity      float64       `yaml:"min_similarity"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CacheSize          int           `yaml:"cache_size"`
	TopK               int           `yaml:"top_k"`
	HNSWM              int           `yaml:"hnsw_m"`
	HNSWEFConstruction int           `yaml:"hnsw_ef_construction"`
}

// RetrievalConfig holds ranking weights.
type RetrievalConfig struct {
	TypeWeights      map[string]float64 `yaml:"type_weights"`
	SimilarityWeight float64            `yaml:"similarity_weight"`
	KeywordLimit     int                `yaml:"keyword_limit"`
	MaxResults       int                `yaml:"max_results"`
}

// IndexingConfig sizes the indexing worker pool.
type IndexingConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	EmbedConcurrency int           `yaml:"embed_concurrency"`
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding values already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 15
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverValkey
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Metadata.Driver == "" {
		c.Metadata.Driver = DriverSQLite
	}
	if c.Metadata.Driver == DriverSQLite && c.Metadata.Path == "" {
		c.Metadata.Path = "triage.db"
	}
	if c.Metadata.LogCapacity <= 0 {
		c.Metadata.LogCapacity = 10000
	}
	if c.Metadata.ListCacheSize <= 0 {
		c.Metadata.ListCacheSize = 1024
	}
	if c.Metadata.ListCacheTTL <= 0 {
		c.Metadata.ListCacheTTL = time.Minute
	}
	if c.Metadata.JobTTL <= 0 {
		c.Metadata.JobTTL = 7 * 24 * time.Hour
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderHash
	}
	if c.Embedding.Dimensions <= 0 {
		if c.Embedding.Provider == ProviderOpenAI {
			c.Embedding.Dimensions = 1536
		} else {
			c.Embedding.Dimensions = 256
		}
	}
	if c.Embedding.RateLimitRPS <= 0 {
		c.Embedding.RateLimitRPS = 20
	}
	if c.Embedding.Burst <= 0 {
		c.Embedding.Burst = 40
	}
	if c.Embedding.MaxRetries <= 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.Cache.TTL <= 0 {
		c.Embedding.Cache.TTL = 30 * 24 * time.Hour
	}
	if c.Embedding.Cache.Size <= 0 {
		c.Embedding.Cache.Size = 10000
	}

	if c.Classifier.Provider == "" {
		c.Classifier.Provider = ProviderNone
	}
	if c.Classifier.APIKey == "" {
		c.Classifier.APIKey = c.Embedding.APIKey
	}
	if c.Classifier.BaseURL == "" {
		c.Classifier.BaseURL = c.Embedding.BaseURL
	}
	if c.Classifier.Threshold <= 0 {
		c.Classifier.Threshold = 0.6
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = 20 * time.Second
	}
	if c.Classifier.VIPBoost <= 0 {
		c.Classifier.VIPBoost = 3
	}
	if c.Classifier.DefaultImportance <= 0 {
		c.Classifier.DefaultImportance = 5
	}
	if c.Classifier.MinSubstantiveChars <= 0 {
		c.Classifier.MinSubstantiveChars = 40
	}

	if c.Vector.MinSimilarity <= 0 {
		c.Vector.MinSimilarity = 0.3
	}
	if c.Vector.CacheTTL <= 0 {
		c.Vector.CacheTTL = 24 * time.Hour
	}
	if c.Vector.CacheSize <= 0 {
		c.Vector.CacheSize = 4096
	}
	if c.Vector.TopK <= 0 {
		c.Vector.TopK = 20
	}
	if c.Vector.HNSWM <= 0 {
		c.Vector.HNSWM = 16
	}
	if c.Vector.HNSWEFConstruction <= 0 {
		c.Vector.HNSWEFConstruction = 200
	}

	if len(c.Retrieval.TypeWeights) == 0 {
		c.Retrieval.TypeWeights = map[string]float64{"offer": 3, "email": 2, "document": 1}
	}
	if c.Retrieval.SimilarityWeight <= 0 {
		c.Retrieval.SimilarityWeight = 5
	}
	if c.Retrieval.KeywordLimit <= 0 {
		c.Retrieval.KeywordLimit = 100
	}
	if c.Retrieval.MaxResults <= 0 {
		c.Retrieval.MaxResults = 50
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case DriverValkey, DriverRedis:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be valkey, redis or memory, got %q", c.Database.Driver)
	}

	switch c.Metadata.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("metadata.driver must be sqlite or memory, got %q", c.Metadata.Driver)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" || c.Embedding.Model == "" {
			return fmt.Errorf("embedding.api_key and embedding.model are required for provider %q", ProviderOpenAI)
		}
	case ProviderHash:
	default:
		return fmt.Errorf("embedding.provider must be openai or hash, got %q", c.Embedding.Provider)
	}

	switch c.Classifier.Provider {
	case ProviderOpenAI:
		if c.Classifier.APIKey == "" || c.Classifier.Model == "" {
			return fmt.Errorf("classifier.api_key and classifier.model are required for provider %q", ProviderOpenAI)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("classifier.provider must be openai or none, got %q", c.Classifier.Provider)
	}
	if c.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier.threshold must be in (0, 1], got %v", c.Classifier.Threshold)
	}
	if c.Vector.MinSimilarity > 1 {
		return fmt.Errorf("vector.min_similarity must be in (0, 1], got %v", c.Vector.MinSimilarity)
	}
	if c.Chunking.TargetTokens > 0 && c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.overlap_tokens (%d) must be below target_tokens (%d)",
			c.Chunking.OverlapTokens, c.Chunking.TargetTokens)
	}
	for t, w := range c.Retrieval.TypeWeights {
		if w < 0 {
			return fmt.Errorf("retrieval.type_weights.%s must not be negative", t)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests and go run.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
