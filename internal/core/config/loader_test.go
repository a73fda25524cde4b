package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/popcore/populate/internal/core/failure"
	"github.com/popcore/populate/internal/core/progress"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("SOURCE_API_KEY", "sekrit")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/populate")

	path := writeConfig(t, `
server:
  port: 9090
logging:
  level: debug
  format: text
source:
  name: countries-api
  base_url: https://api.example.com/v1/countries
  api_key: ${SOURCE_API_KEY}
  timeout: 10s
state_dir: /var/lib/populate
durability: fsync
breaker:
  failure_threshold: 3
  success_threshold: 1
  timeout: 30s
  failure_window: 2m
  excluded_kinds: [not_found]
rate_limit:
  initial_rate: 10
  min_rate: 1
  max_rate: 100
  increase_factor: 1.1
  decrease_factor: 0.5
retry:
  backoff_base: 1s
  backoff_cap: 30s
  multiplier: 2.0
database:
  url: ${DATABASE_URL}
tasks:
  - name: countries
    table: countries
    key_columns: [code]
    schema: [code, name, population]
    checkpoint_every: 5
    units:
      - key: americas
        params:
          region: americas
      - key: europe
        params:
          region: europe
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Source.APIKey != "sekrit" {
		t.Errorf("expected env-expanded api key, got %q", cfg.Source.APIKey)
	}
	if cfg.Database.URL != "postgres://localhost:5432/populate" {
		t.Errorf("expected env-expanded database url, got %q", cfg.Database.URL)
	}
	if cfg.Durable != progress.DurabilityFsync {
		t.Errorf("expected fsync durability, got %q", cfg.Durable)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.FailureWindow != 2*time.Minute {
		t.Errorf("breaker config lost: %+v", cfg.Breaker)
	}
	if len(cfg.Breaker.ExcludedKinds) != 1 || cfg.Breaker.ExcludedKinds[0] != failure.KindNotFound {
		t.Errorf("expected excluded kinds parsed, got %v", cfg.Breaker.ExcludedKinds)
	}
	if cfg.RateLimit.InitialRate != 10 {
		t.Errorf("rate limit config lost: %+v", cfg.RateLimit)
	}
	if cfg.Retry.BackoffBase != time.Second {
		t.Errorf("retry config lost: %+v", cfg.Retry)
	}

	if len(cfg.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(cfg.Tasks))
	}
	task := cfg.Tasks[0]
	if task.Name != "countries" || task.Table != "countries" {
		t.Errorf("task identity lost: %+v", task)
	}
	if len(task.Units) != 2 || task.Units[0].Params["region"] != "americas" {
		t.Errorf("task units lost: %+v", task.Units)
	}
	if task.CheckpointEvery != 5 {
		t.Errorf("expected checkpoint_every 5, got %d", task.CheckpointEvery)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("expected default max attempts, got %d", task.MaxAttempts)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  base_url: https://api.example.com
tasks:
  - name: countries
    table: countries
    key_columns: [code]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.StateDir != "state" {
		t.Errorf("expected default state dir, got %q", cfg.StateDir)
	}
	if cfg.Source.Name != "source" {
		t.Errorf("expected default source name, got %q", cfg.Source.Name)
	}
	if cfg.Source.Timeout != 30*time.Second {
		t.Errorf("expected default timeout, got %s", cfg.Source.Timeout)
	}
	if cfg.Tasks[0].MaxAttempts != 3 || cfg.Tasks[0].CheckpointEvery != 10 {
		t.Errorf("expected task defaults, got %+v", cfg.Tasks[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "tasks: [}")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
