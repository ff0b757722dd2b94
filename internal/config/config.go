package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soochol/convograph/internal/notify"
)

// Config holds the top-level application configuration.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Database    DatabaseConfig            `yaml:"database"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Completion  CompletionConfig          `yaml:"completion"`
	Engine      EngineConfig              `yaml:"engine"`
	Concurrency ConcurrencyConfig         `yaml:"concurrency"`
	Interrupts  InterruptConfig           `yaml:"interrupts"`
	Auth        AuthConfig                `yaml:"auth"`
	Knowledge   KnowledgeConfig           `yaml:"knowledge"`
	Templates   TemplatesConfig           `yaml:"templates"`
	Notify      NotifyConfig              `yaml:"notify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps all
// state in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ProviderConfig holds AI provider settings.
type ProviderConfig struct {
	Type   string `yaml:"type"`    // e.g. "openai"
	URL    string `yaml:"url"`     // base URL
	APIKey string `yaml:"api_key"` // API key
}

// CompletionConfig controls how agent turns and routing decisions are
// requested from the providers.
type CompletionConfig struct {
	Model           string `yaml:"model"`            // "provider/model" used when a node names none
	ClassifierModel string `yaml:"classifier_model"` // defaults to Model
	TimeoutSec      int    `yaml:"timeout_sec"`      // per provider call
	Retries         int    `yaml:"retries"`          // extra attempts on transient provider errors
	BackoffMs       int    `yaml:"backoff_ms"`       // initial retry delay
}

func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c CompletionConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// EngineConfig bounds how far one user message may drive a conversation.
type EngineConfig struct {
	MaxStepsPerMessage int `yaml:"max_steps_per_message"`
}

// ConcurrencyConfig holds the step concurrency limits.
type ConcurrencyConfig struct {
	GlobalMax  int `yaml:"global_max"`   // max concurrent steps system-wide
	LockWaitMs int `yaml:"lock_wait_ms"` // how long a step waits for its thread
}

func (c ConcurrencyConfig) LockWait() time.Duration {
	return time.Duration(c.LockWaitMs) * time.Millisecond
}

// InterruptConfig controls expiry of conversations awaiting approval.
type InterruptConfig struct {
	TTLMinutes int    `yaml:"ttl_minutes"` // 0 disables expiry
	SweepCron  string `yaml:"sweep_cron"`
}

func (c InterruptConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// AuthConfig configures verification of approver tokens on resume. An empty
// secret disables the check.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// KnowledgeConfig configures the vector knowledge store. An empty
// DatabaseURL disables retrieval.
type KnowledgeConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	APIKey         string `yaml:"api_key"`
	Dimensions     int    `yaml:"dimensions"`
}

// TemplatesConfig points at a directory of workflow templates loaded at
// startup in addition to the bundled ones.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// NotifyConfig lists where approval requests are announced. No targets
// disables notifications.
type NotifyConfig struct {
	Targets    []notify.Target `yaml:"targets"`
	TimeoutSec int             `yaml:"timeout_sec"`
}

func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database:  DatabaseConfig{},
		Providers: map[string]ProviderConfig{},
		Completion: CompletionConfig{
			Model:      "openai/gpt-4o-mini",
			TimeoutSec: 60,
			Retries:    2,
			BackoffMs:  500,
		},
		Engine: EngineConfig{
			MaxStepsPerMessage: 8,
		},
		Concurrency: ConcurrencyConfig{
			GlobalMax:  32,
			LockWaitMs: 2000,
		},
		Interrupts: InterruptConfig{
			TTLMinutes: 24 * 60,
			SweepCron:  "@every 5m",
		},
		Knowledge: KnowledgeConfig{
			EmbeddingModel: "text-embedding-004",
			Dimensions:     768,
		},
		Notify: NotifyConfig{
			TimeoutSec: 10,
		},
	}
}

// LoadEnv loads variables from a .env file in the working directory or its
// parent. A missing file is not an error.
func LoadEnv() {
	for _, path := range []string{".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Debug("loaded env file", "path", path)
			return
		}
	}
}

// Load reads a YAML configuration file at path and returns a Config.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Ensure Providers map is never nil even if YAML has "providers: {}" or omits it.
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Completion.TimeoutSec <= 0 {
		errs = append(errs, errors.New("completion.timeout_sec must be positive"))
	}
	if c.Completion.Retries < 0 {
		errs = append(errs, errors.New("completion.retries must not be negative"))
	}
	if c.Engine.MaxStepsPerMessage <= 0 {
		errs = append(errs, errors.New("engine.max_steps_per_message must be positive"))
	}
	if c.Concurrency.GlobalMax <= 0 {
		errs = append(errs, errors.New("concurrency.global_max must be positive"))
	}
	if c.Interrupts.TTLMinutes < 0 {
		errs = append(errs, errors.New("interrupts.ttl_minutes must not be negative"))
	}
	for i, t := range c.Notify.Targets {
		switch t.Type {
		case notify.TypeSlack, notify.TypeTelegram, notify.TypeSMTP:
		default:
			errs = append(errs, fmt.Errorf("notify.targets[%d]: unknown type %q", i, t.Type))
		}
	}
	if len(c.Notify.Targets) > 0 && c.Notify.TimeoutSec <= 0 {
		errs = append(errs, errors.New("notify.timeout_sec must be positive"))
	}
	return errors.Join(errs...)
}
