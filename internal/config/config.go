// Package config loads the server configuration from a YAML file.
package config

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dbgraph/procgraph-mcp/internal/loader"
)

// DefaultCachePath is where the graph snapshot lives unless overridden.
const DefaultCachePath = "./cache/knowledge_graph.json"

// LLM selects the enrichment backend. An empty APIKey means enrichment
// falls back to static heuristics.
type LLM struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Config holds user-overridable server settings.
type Config struct {
	// CachePath is the graph snapshot file.
	CachePath string `yaml:"cache_path"`

	// ProceduresDir is an optional directory of .prc source files.
	ProceduresDir string `yaml:"procedures_dir"`

	Database loader.DBConfig `yaml:"database"`
	LLM      LLM             `yaml:"llm"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{CachePath: DefaultCachePath}
}

// Load reads a YAML config file. A missing or invalid file yields the
// defaults; running without a config file is a supported mode.
func Load(path string) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("config.defaults", "path", path, "reason", err)
		return cfg
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("config.invalid", "path", path, "error", err)
		return Default()
	}
	if cfg.CachePath == "" {
		cfg.CachePath = DefaultCachePath
	}

	slog.Info("config.loaded", "path", path,
		"procedures_dir", cfg.ProceduresDir, "database", cfg.Database.Driver)
	return cfg
}

// ResolveAPIKey resolves the LLM key: the config value, or the OPENAI_API_KEY
// environment variable when unset.
func (l LLM) ResolveAPIKey() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}
