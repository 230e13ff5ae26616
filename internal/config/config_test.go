package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Contracts != 1 || cfg.Format != FormatPretty || cfg.Storage.Backend != BackendFS {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Generator.Params, def.Generator.Params) {
		t.Fatalf("generator params changed: %+v", cfg.Generator.Params)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `contracts: 4
skip_analysis: true
generator:
  model: command-r
  max_tokens: 1000
  timeout: 30s
retry:
  max_attempts: 5
  delay: 250ms
  multiplier: 2
compiler:
  command: solc-0.8
prompt:
  complexity: high
  skip_vuln:
    - /reentrancy/
`)
	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Contracts != 4 || !cfg.SkipAnalysis {
		t.Fatalf("top level not applied: %+v", cfg)
	}
	if cfg.Generator.Model != "command-r" || cfg.Generator.MaxTokens != 1000 || cfg.Generator.Timeout != 30*time.Second {
		t.Fatalf("generator section not applied: %+v", cfg.Generator)
	}
	if cfg.Generator.K != 50 || cfg.Generator.APIKeyEnv != "COHERE_API_KEY" {
		t.Fatalf("unset generator fields must keep defaults: %+v", cfg.Generator)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Delay != 250*time.Millisecond || cfg.Retry.Multiplier != 2 {
		t.Fatalf("retry section not applied: %+v", cfg.Retry)
	}
	if cfg.Compiler.Command != "solc-0.8" || !reflect.DeepEqual(cfg.Compiler.Args, []string{"--bin"}) {
		t.Fatalf("compiler section not applied: %+v", cfg.Compiler)
	}
	if cfg.Prompt.Complexity != "high" || !reflect.DeepEqual(cfg.Prompt.SkipVuln, []string{"/reentrancy/"}) {
		t.Fatalf("prompt section not applied: %+v", cfg.Prompt)
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "contracts: [\n")
	if _, err := Load(dir, ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_DIR", "/tmp/contractpipe-logs")
	t.Setenv("CONTRACTPIPE_LOG_FORMAT", "json")
	t.Setenv("CONTRACTPIPE_RETRY_DELAY", "10ms")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")

	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Dir != "/tmp/contractpipe-logs" || cfg.Log.Format != "json" {
		t.Fatalf("log env not applied: %+v", cfg.Log)
	}
	if cfg.Retry.Delay != 10*time.Millisecond {
		t.Fatalf("retry env not applied: %s", cfg.Retry.Delay)
	}
	if cfg.Ledger.URL != "postgres://localhost/ledger" {
		t.Fatalf("ledger url env not applied: %q", cfg.Ledger.URL)
	}
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("CONTRACTPIPE_RETRY_ATTEMPTS", "many")
	if _, err := Load(t.TempDir(), ""); err == nil {
		t.Fatalf("expected env parse error")
	}
}

func TestFlagsTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "contracts: 4\nformat: json\nprompt:\n  complexity: low\n")
	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ApplyFlags(&cfg, FlagValues{
		Contracts:  IntFlag{Value: 2, Set: true},
		Complexity: StringFlag{Value: "medium", Set: true},
		OnlyVuln:   SliceFlag{Values: []string{"tx-origin"}},
	})
	if cfg.Contracts != 2 || cfg.Prompt.Complexity != "medium" || cfg.Format != FormatJSON {
		t.Fatalf("unexpected precedence result %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Prompt.OnlyVuln, []string{"tx-origin"}) {
		t.Fatalf("only-vuln not applied: %v", cfg.Prompt.OnlyVuln)
	}

	ApplyFlags(&cfg, FlagValues{})
	if cfg.Contracts != 2 {
		t.Fatalf("unset flags must not override")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero contracts", func(c *Config) { c.Contracts = 0 }},
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"bad complexity", func(c *Config) { c.Prompt.Complexity = "extreme" }},
		{"no compiler", func(c *Config) { c.Compiler.Command = " " }},
		{"no analyzer", func(c *Config) { c.Analyzer.Command = "" }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = BackendMinio }},
		{"ledger without url", func(c *Config) { c.Ledger.Enabled = true }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"negative retry delay", func(c *Config) { c.Retry.Delay = -time.Second }},
		{"negative retry multiplier", func(c *Config) { c.Retry.Multiplier = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.SkipAnalysis = true
	cfg.Analyzer.Command = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("analyzer is optional when analysis is skipped: %v", err)
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Generator.APIKeyEnv = "CONTRACTPIPE_TEST_KEY"

	t.Setenv("CONTRACTPIPE_TEST_KEY", "")
	if _, err := cfg.APIKey(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}

	t.Setenv("CONTRACTPIPE_TEST_KEY", " secret ")
	key, err := cfg.APIKey()
	if err != nil || key != "secret" {
		t.Fatalf("APIKey = %q, %v", key, err)
	}
}
