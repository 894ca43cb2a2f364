package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Config holds everything the binaries need to compose the app.
type Config struct {
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	GoogleSearch bool   `yaml:"google_search"`
	APIKey       string `yaml:"api_key"`
	// APIKeyParam names an SSM parameter holding the API key; used when
	// APIKey is empty.
	APIKeyParam string `yaml:"api_key_param"`

	TypingDelay       time.Duration `yaml:"typing_delay"`
	ReplayTypingDelay time.Duration `yaml:"replay_typing_delay"`
	SettleMargin      time.Duration `yaml:"settle_margin"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`

	Store      string `yaml:"store"`
	StorePath  string `yaml:"store_path"`
	StateTable string `yaml:"state_table"`
	StorageKey string `yaml:"storage_key"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model:             "gemini-2.5-flash",
		GoogleSearch:      true,
		TypingDelay:       50 * time.Millisecond,
		ReplayTypingDelay: 30 * time.Millisecond,
		SettleMargin:      100 * time.Millisecond,
		ResponseTimeout:   60 * time.Second,
		Store:             StoreFile,
		StorePath:         defaultStorePath(),
		StorageKey:        "phai_chat_sessions",
		LogLevel:          "info",
	}
}

// Headless returns the defaults for callers that wait for settled replies
// instead of watching them type: replies are revealed without delay and
// a slow backend answers before API Gateway's 29s integration limit.
func Headless() Config {
	cfg := Default()
	cfg.TypingDelay = 0
	cfg.ReplayTypingDelay = 0
	cfg.ResponseTimeout = 25 * time.Second
	return cfg
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".phai"
	}
	return dir + string(os.PathSeparator) + "phai"
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	return loadFrom(Default(), path, os.Getenv)
}

// LoadHeadless is Load starting from Headless. Typing delays set in the
// file or the environment still apply.
func LoadHeadless(path string) (Config, error) {
	return loadFrom(Headless(), path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	return loadFrom(Default(), path, getenv)
}

func loadFrom(cfg Config, path string, getenv func(string) string) (Config, error) {
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg, getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	envString(getenv, "PHAI_MODEL", &cfg.Model)
	envString(getenv, "PHAI_SYSTEM_PROMPT", &cfg.SystemPrompt)
	envString(getenv, "GEMINI_API_KEY", &cfg.APIKey)
	envString(getenv, "PHAI_API_KEY", &cfg.APIKey)
	envString(getenv, "PHAI_API_KEY_PARAM", &cfg.APIKeyParam)
	envString(getenv, "PHAI_STORE", &cfg.Store)
	envString(getenv, "PHAI_STORE_PATH", &cfg.StorePath)
	envString(getenv, "PHAI_STATE_TABLE", &cfg.StateTable)
	envString(getenv, "PHAI_STORAGE_KEY", &cfg.StorageKey)
	envString(getenv, "PHAI_LOG_LEVEL", &cfg.LogLevel)
	envString(getenv, "PHAI_LOG_FILE", &cfg.LogFile)
	cfg.GoogleSearch = envBool(getenv, "PHAI_GOOGLE_SEARCH", cfg.GoogleSearch)
	cfg.TypingDelay = envMillis(getenv, "PHAI_TYPING_DELAY_MS", cfg.TypingDelay)
	cfg.ReplayTypingDelay = envMillis(getenv, "PHAI_REPLAY_TYPING_DELAY_MS", cfg.ReplayTypingDelay)
	cfg.SettleMargin = envMillis(getenv, "PHAI_SETTLE_MARGIN_MS", cfg.SettleMargin)
	cfg.ResponseTimeout = envMillis(getenv, "PHAI_RESPONSE_TIMEOUT_MS", cfg.ResponseTimeout)
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}

func envMillis(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func envBool(getenv func(string) string, key string, def bool) bool {
	v := getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("config: store %q needs store_path", c.Store)
		}
	case StoreDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			return errors.New("config: store \"dynamodb\" needs state_table")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	for name, d := range map[string]time.Duration{
		"typing_delay":        c.TypingDelay,
		"replay_typing_delay": c.ReplayTypingDelay,
		"settle_margin":       c.SettleMargin,
		"response_timeout":    c.ResponseTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
