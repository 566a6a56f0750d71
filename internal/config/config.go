// Package config provides configuration loading and structs for the yvan server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/yvan/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// StorageConfig holds the source document directory and the paths for the index and ledger.
type StorageConfig struct {
	DocumentsDir string `yaml:"documents_dir"`
	IndexDir     string `yaml:"index_dir"`
	LedgerPath   string `yaml:"ledger_path"`
}

// SnapshotPath is the file the vector index is persisted to.
func (s *StorageConfig) SnapshotPath() string {
	return filepath.Join(s.IndexDir, SnapshotFile)
}

// SnapshotFile is the name of the index snapshot inside IndexDir.
const SnapshotFile = "index.yvx"

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // onnx, ollama or mock
	Model      string        `yaml:"model"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	OllamaURL  string        `yaml:"ollama_url"`
	Timeout    time.Duration `yaml:"timeout"`
	// InputNames and OutputName are the ONNX graph tensor names. Two input names
	// mean the model takes no token_type_ids.
	InputNames []string `yaml:"input_names"`
	OutputName string   `yaml:"output_name"`
}

// GenerationConfig selects and configures the answer generator.
type GenerationConfig struct {
	Provider          string        `yaml:"provider"` // gemini or ollama
	Model             string        `yaml:"model"`
	Temperature       *float64      `yaml:"temperature"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// TemperatureValue returns the sampling temperature, or the default when unset.
func (g *GenerationConfig) TemperatureValue() float64 {
	if g.Temperature != nil {
		return *g.Temperature
	}
	return DefaultTemperature
}

// ChunkingConfig holds chunk sizes in characters (runes).
type ChunkingConfig struct {
	TargetSize int `yaml:"target_size"`
	Overlap    int `yaml:"overlap"`
	// MinTextChars is the extractable text length below which a document is treated as having no text layer.
	MinTextChars int `yaml:"min_text_chars"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Enabled *bool `yaml:"enabled"`
	// Directories defaults to the documents directory when empty.
	Directories    []string      `yaml:"directories"`
	Extensions     []string      `yaml:"extensions"`
	Recursive      bool          `yaml:"recursive"`
	Debounce       time.Duration `yaml:"debounce"`
	StableInterval time.Duration `yaml:"stable_interval"`
	StableChecks   int           `yaml:"stable_checks"`
}

// EnabledOrDefault returns whether the watcher runs; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Environment variables that override file settings.
const (
	EnvEmbeddingModel  = "YVAN_EMBEDDING_MODEL"
	EnvGenerationModel = "YVAN_GENERATION_MODEL"
	EnvTemperature     = "YVAN_TEMPERATURE"
	EnvAPIKey          = "YVAN_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
	EnvDocumentsDir    = "YVAN_DOCUMENTS_DIR"
	EnvIndexDir        = "YVAN_INDEX_DIR"
)

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths, and validates the result.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DocumentsDir = expandPath(cfg.Storage.DocumentsDir, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	if len(cfg.Watch.Directories) == 0 {
		cfg.Watch.Directories = []string{cfg.Storage.DocumentsDir}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with values found through lookup (os.LookupEnv in production).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEmbeddingModel); ok && v != "" {
		cfg.Embedding.Model = v
	}
	if v, ok := lookup(EnvGenerationModel); ok && v != "" {
		cfg.Generation.Model = v
	}
	if v, ok := lookup(EnvTemperature); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", models.ErrInvalidConfig, EnvTemperature, v)
		}
		cfg.Generation.Temperature = &t
	}
	if v, ok := lookup(EnvGoogleAPIKey); ok && v != "" {
		cfg.Generation.APIKey = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.Generation.APIKey = v
	}
	if v, ok := lookup(EnvDocumentsDir); ok && v != "" {
		cfg.Storage.DocumentsDir = v
	}
	if v, ok := lookup(EnvIndexDir); ok && v != "" {
		cfg.Storage.IndexDir = v
	}
	return nil
}

// Validate checks the options the core relies on.
func (c *Config) Validate() error {
	ch := c.Chunking
	if ch.TargetSize <= 0 {
		return fmt.Errorf("%w: chunking.target_size must be positive, got %d", models.ErrInvalidConfig, ch.TargetSize)
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.TargetSize {
		return fmt.Errorf("%w: chunking.overlap must be in [0, %d), got %d", models.ErrInvalidConfig, ch.TargetSize, ch.Overlap)
	}
	if ch.MinTextChars < 0 {
		return fmt.Errorf("%w: chunking.min_text_chars must not be negative", models.ErrInvalidConfig)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive, got %d", models.ErrInvalidConfig, c.Retrieval.TopK)
	}
	if t := c.Generation.TemperatureValue(); t < 0 || t > 2 {
		return fmt.Errorf("%w: generation.temperature must be in [0, 2], got %g", models.ErrInvalidConfig, t)
	}
	switch c.Embedding.Provider {
	case ProviderONNX, ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidConfig, c.Embedding.Provider)
	}
	switch c.Generation.Provider {
	case ProviderGemini:
		if c.Generation.APIKey == "" {
			return fmt.Errorf("%w: gemini requires an API key (%s)", models.ErrInvalidConfig, EnvGoogleAPIKey)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("%w: unknown generation provider %q", models.ErrInvalidConfig, c.Generation.Provider)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
