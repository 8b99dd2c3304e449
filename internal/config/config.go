// Package config provides configuration loading and structs for trialscope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Match       MatchConfig       `yaml:"match"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the trial database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
}

// EmbeddingConfig holds embedder settings. Provider selects the backend:
// "onnx" (local model, requires CGO), "openai" (remote), or "mock" (tests).
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`
	ModelPath   string `yaml:"model_path"`
	OpenAIModel string `yaml:"openai_model"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
}

// MatchConfig holds matching pipeline settings.
type MatchConfig struct {
	CandidateLimit int `yaml:"candidate_limit"` // cap on structured-filter candidates
	TopK           int `yaml:"top_k"`           // ranked results returned (0 = all)
	BatchSize      int `yaml:"batch_size"`      // corpus ingestion batch size
}

// EligibilityConfig holds LLM eligibility evaluation settings.
type EligibilityConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopK        int     `yaml:"top_k"` // trials evaluated per patient
}

// WatchConfig holds patient inbox watch settings.
type WatchConfig struct {
	InboxDir  string `yaml:"inbox_dir"`
	OutputDir string `yaml:"output_dir"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Watch.InboxDir != "" {
		cfg.Watch.InboxDir = expandPath(cfg.Watch.InboxDir, configDir)
	}
	if cfg.Watch.OutputDir != "" {
		cfg.Watch.OutputDir = expandPath(cfg.Watch.OutputDir, configDir)
	}

	return &cfg, nil
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
