package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.CachePath != DefaultCachePath {
		t.Errorf("unexpected cache path: %q", cfg.CachePath)
	}
	if cfg.Database.Enabled() {
		t.Error("database should be disabled by default")
	}
}

func TestLoadInvalidYAMLUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	if cfg.CachePath != DefaultCachePath {
		t.Errorf("invalid config must fall back to defaults: %+v", cfg)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
cache_path: /var/lib/pg/graph.json
procedures_dir: ./procs
database:
  driver: mysql
  host: db.internal
  port: 3307
  user: analyst
  database: erp
  schema: billing
llm:
  api_key: sk-test
  model: gpt-4o
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.CachePath != "/var/lib/pg/graph.json" || cfg.ProceduresDir != "./procs" {
		t.Errorf("paths not loaded: %+v", cfg)
	}
	if !cfg.Database.Enabled() || cfg.Database.Port != 3307 || cfg.Database.Schema != "billing" {
		t.Errorf("database not loaded: %+v", cfg.Database)
	}
	if cfg.LLM.ResolveAPIKey() != "sk-test" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("llm not loaded: %+v", cfg.LLM)
	}
}

func TestResolveAPIKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	if key := (LLM{}).ResolveAPIKey(); key != "sk-env" {
		t.Errorf("expected env fallback, got %q", key)
	}
}
