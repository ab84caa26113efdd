package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdirWithConfig writes a config.yaml into a temp directory and makes it the
// working directory for the test, so Load() picks it up.
func chdirWithConfig(t *testing.T, yamlContent string) {
	t.Helper()
	tmpDir := t.TempDir()
	if yamlContent != "" {
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	chdirWithConfig(t, `
env: "test"
redis:
  host: "redis.example.com"
  port: 6380
discovery:
  batch_size: 250
`)

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DISCOVERY_BATCH_SIZE", "100")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Discovery.BatchSize != 100 {
		t.Errorf("expected BatchSize=100 (from env), got %d", cfg.Discovery.BatchSize)
	}
	if cfg.Redis.Host != "redis.example.com" {
		t.Errorf("expected redis host from YAML, got %s", cfg.Redis.Host)
	}
	if cfg.Redis.Port != 6380 {
		t.Errorf("expected redis port from YAML, got %d", cfg.Redis.Port)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected injected version, got %s", cfg.Version)
	}
}

func TestLoad_DefaultsWithoutYAML(t *testing.T) {
	chdirWithConfig(t, "")

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Env != "local" {
		t.Errorf("expected default env local, got %s", cfg.Env)
	}
	if cfg.Discovery.BatchSize != 500 {
		t.Errorf("expected default batch size 500, got %d", cfg.Discovery.BatchSize)
	}
	if cfg.Discovery.FinalK != 10 {
		t.Errorf("expected default final k 10, got %d", cfg.Discovery.FinalK)
	}
	if !cfg.Discovery.TopScoreOnly {
		t.Error("expected top_score_only to default on")
	}
	if cfg.Evaluator.Provider != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.Evaluator.Provider)
	}
}

func TestLoad_SecretsComeFromEnvOnly(t *testing.T) {
	chdirWithConfig(t, `
redis:
  host: "localhost"
`)

	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("EVALUATOR_API_KEY", "sk-test")
	t.Setenv("DATA_GRAPH_PASSWORD", "graphpass")

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Password != "hunter2" {
		t.Errorf("expected redis password from env, got %q", cfg.Redis.Password)
	}
	if cfg.Evaluator.APIKey != "sk-test" {
		t.Errorf("expected evaluator api key from env, got %q", cfg.Evaluator.APIKey)
	}
	if cfg.DataGraph.Password != "graphpass" {
		t.Errorf("expected data graph password from env, got %q", cfg.DataGraph.Password)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "negative batch size",
			yaml: "discovery:\n  batch_size: -1\n",
		},
		{
			name: "diversity penalty above one",
			yaml: "discovery:\n  diversity_penalty: 1.5\n",
		},
		{
			name: "unknown evaluator provider",
			yaml: "evaluator:\n  provider: oracle\n",
		},
		{
			name: "negative evaluator concurrency",
			yaml: "evaluator:\n  max_concurrent: -2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirWithConfig(t, tt.yaml)
			if _, err := Load("dev"); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: 6379}
	if got := cfg.Addr(); got != "cache.internal:6379" {
		t.Errorf("expected cache.internal:6379, got %s", got)
	}
}
