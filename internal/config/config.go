package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bgricker/contractpipe/internal/generate"
	"github.com/bgricker/contractpipe/internal/ledger"
	"github.com/bgricker/contractpipe/internal/prompt"
	"github.com/bgricker/contractpipe/internal/retry"
	"github.com/bgricker/contractpipe/internal/storage"
)

// FileName is the config file looked up in the working directory.
const FileName = ".contractpipe.yml"

// ErrMissingAPIKey is returned when the generation credential is not set.
var ErrMissingAPIKey = errors.New("api key is not set")

// Config captures CLI options sourced from the config file, env or flags.
type Config struct {
	Contracts    int    `yaml:"contracts"`
	SkipAnalysis bool   `yaml:"skip_analysis"`
	DryRun       bool   `yaml:"dry_run"`
	Verbose      bool   `yaml:"verbose"`
	Format       string `yaml:"format"`

	Log       LogConfig       `yaml:"log"`
	Generator GeneratorConfig `yaml:"generator"`
	Retry     RetryConfig     `yaml:"retry"`
	Compiler  ToolConfig      `yaml:"compiler"`
	Analyzer  ToolConfig      `yaml:"analyzer"`
	Storage   StorageConfig   `yaml:"storage"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Prompt    PromptConfig    `yaml:"prompt"`
}

// LogConfig selects the log level, handler format and file directory.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// GeneratorConfig configures the generation API client.
type GeneratorConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	Timeout         time.Duration `yaml:"timeout"`
	generate.Params `yaml:",inline"`
}

// RetryConfig bounds the generation retry loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Policy converts the section into a retry policy using classifier.
func (r RetryConfig) Policy(classifier retry.Classifier) retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Delay:       r.Delay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
		Classifier:  classifier,
	}
}

// ToolConfig describes an external tool invocation.
type ToolConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// StorageConfig selects where artifacts go.
type StorageConfig struct {
	Backend      string      `yaml:"backend"`
	ContractsDir string      `yaml:"contracts_dir"`
	ReportsDir   string      `yaml:"reports_dir"`
	Minio        MinioConfig `yaml:"minio"`
}

// MinioConfig is the S3 backend section. Credentials fall back to env.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	ContractsPrefix string `yaml:"contracts_prefix"`
	ReportsPrefix   string `yaml:"reports_prefix"`
}

// LedgerConfig enables the PostgreSQL run ledger.
type LedgerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URLEnv        string `yaml:"url_env"`
	ledger.Config `yaml:",inline"`
}

// PromptConfig shapes the generated prompt.
type PromptConfig struct {
	Template   string   `yaml:"template"`
	Assessment string   `yaml:"assessment"`
	Complexity string   `yaml:"complexity"`
	Min        int      `yaml:"min_vulnerabilities"`
	Max        int      `yaml:"max_vulnerabilities"`
	OnlyVuln   []string `yaml:"only_vuln"`
	SkipVuln   []string `yaml:"skip_vuln"`
}

const (
	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"

	// BackendFS stores artifacts in local directories.
	BackendFS = "fs"
	// BackendMinio stores artifacts in an S3-compatible bucket.
	BackendMinio = "minio"
)

// Default returns the baseline configuration used when no flags or config file specify values.
func Default() Config {
	return Config{
		Contracts: 1,
		Format:    FormatPretty,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Dir:    "logs",
		},
		Generator: GeneratorConfig{
			Endpoint:  generate.DefaultEndpoint,
			APIKeyEnv: "COHERE_API_KEY",
			Timeout:   120 * time.Second,
			Params:    generate.DefaultParams(),
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Multiplier:  1,
		},
		Compiler: ToolConfig{Command: "solc", Args: []string{"--bin"}},
		Analyzer: ToolConfig{Command: "slither"},
		Storage: StorageConfig{
			Backend:      BackendFS,
			ContractsDir: "contracts",
			ReportsDir:   "reports",
			Minio: MinioConfig{
				Bucket:          "contractpipe",
				ContractsPrefix: "contracts",
				ReportsPrefix:   "reports",
			},
		},
		Ledger: LedgerConfig{
			URLEnv: "DATABASE_URL",
			Config: ledger.DefaultConfig(),
		},
		Prompt: PromptConfig{Min: 1, Max: 3},
	}
}

// Load reads the config file and environment overrides. An empty path looks
// for FileName under root and ignores a missing file; an explicit path must exist.
func Load(root, path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Log.Level = String("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = String("LOG_DIR", cfg.Log.Dir)
	cfg.Log.Format = String("CONTRACTPIPE_LOG_FORMAT", cfg.Log.Format)

	attempts, err := Int("CONTRACTPIPE_RETRY_ATTEMPTS", cfg.Retry.MaxAttempts)
	if err != nil {
		return err
	}
	cfg.Retry.MaxAttempts = attempts
	delay, err := Duration("CONTRACTPIPE_RETRY_DELAY", cfg.Retry.Delay)
	if err != nil {
		return err
	}
	cfg.Retry.Delay = delay

	if cfg.Storage.Minio.AccessKey == "" {
		cfg.Storage.Minio.AccessKey = String("MINIO_ACCESS_KEY", "")
	}
	if cfg.Storage.Minio.SecretKey == "" {
		cfg.Storage.Minio.SecretKey = String("MINIO_SECRET_KEY", "")
	}
	if cfg.Ledger.URL == "" && cfg.Ledger.URLEnv != "" {
		cfg.Ledger.URL = String(cfg.Ledger.URLEnv, "")
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if c.Contracts < 1 {
		return fmt.Errorf("contracts must be a positive integer, got %d", c.Contracts)
	}
	switch strings.ToLower(c.Format) {
	case FormatPretty, FormatJSON:
	default:
		return fmt.Errorf("unsupported format %q", c.Format)
	}
	if c.Prompt.Complexity != "" && !slices.Contains(prompt.Complexities, c.Prompt.Complexity) {
		return fmt.Errorf("unsupported complexity %q (want one of %s)", c.Prompt.Complexity, strings.Join(prompt.Complexities, ", "))
	}
	if err := c.Retry.Policy(nil).Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Prompt.Min < 0 || c.Prompt.Max < 0 {
		return fmt.Errorf("vulnerability bounds must not be negative")
	}
	if strings.TrimSpace(c.Compiler.Command) == "" {
		return fmt.Errorf("compiler command is required")
	}
	if !c.SkipAnalysis && strings.TrimSpace(c.Analyzer.Command) == "" {
		return fmt.Errorf("analyzer command is required")
	}
	switch c.Storage.Backend {
	case BackendFS:
	case BackendMinio:
		if err := c.Storage.MinioSettings().Validate(); err != nil {
			return fmt.Errorf("storage.minio: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Ledger.Enabled {
		if err := c.Ledger.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MinioSettings converts the section into backend settings.
func (s StorageConfig) MinioSettings() storage.MinioConfig {
	m := s.Minio
	return storage.MinioConfig{
		Endpoint:        m.Endpoint,
		AccessKey:       m.AccessKey,
		SecretKey:       m.SecretKey,
		Region:          m.Region,
		UseSSL:          m.UseSSL,
		Bucket:          m.Bucket,
		ContractsPrefix: m.ContractsPrefix,
		ReportsPrefix:   m.ReportsPrefix,
	}
}

// APIKey resolves the generation credential from the environment.
func (c Config) APIKey() (string, error) {
	name := c.Generator.APIKeyEnv
	if name == "" {
		name = "COHERE_API_KEY"
	}
	key := strings.TrimSpace(String(name, ""))
	if key == "" {
		return "", fmt.Errorf("%w: export %s", ErrMissingAPIKey, name)
	}
	return key, nil
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are present.
func ApplyFlags(cfg *Config, flags FlagValues) {
	if flags.Contracts.Set {
		cfg.Contracts = flags.Contracts.Value
	}
	if flags.SkipAnalysis.Set {
		cfg.SkipAnalysis = flags.SkipAnalysis.Value
	}
	if flags.DryRun.Set {
		cfg.DryRun = flags.DryRun.Value
	}
	if flags.Complexity.Set {
		cfg.Prompt.Complexity = flags.Complexity.Value
	}
	if len(flags.OnlyVuln.Values) > 0 {
		cfg.Prompt.OnlyVuln = append([]string{}, flags.OnlyVuln.Values...)
	}
	if len(flags.SkipVuln.Values) > 0 {
		cfg.Prompt.SkipVuln = append([]string{}, flags.SkipVuln.Values...)
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.Verbose.Set {
		cfg.Verbose = flags.Verbose.Value
	}
	if flags.LogLevel.Set {
		cfg.Log.Level = flags.LogLevel.Value
	}
}

// FlagValues captures CLI flag state with knowledge of whether each flag was set explicitly.
type FlagValues struct {
	Contracts    IntFlag
	SkipAnalysis BoolFlag
	DryRun       BoolFlag
	Complexity   StringFlag
	OnlyVuln     SliceFlag
	SkipVuln     SliceFlag
	Format       StringFlag
	Verbose      BoolFlag
	LogLevel     StringFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// IntFlag represents an int flag and whether it was set.
type IntFlag struct {
	Value int
	Set   bool
}

// SliceFlag represents a slice flag and whether it captured values via CLI.
type SliceFlag struct {
	Values []string
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}
