// Package config manages calai configuration: a TOML file
// (~/.config/calai/config.toml by default), an optional .env file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds every calai setting.
type Config struct {
	AI       AIConfig       `toml:"ai"`
	Session  SessionConfig  `toml:"session"`
	History  HistoryConfig  `toml:"history"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
	Profiles ProfilesConfig `toml:"profiles"`
}

// AIConfig selects and tunes the model backend.
type AIConfig struct {
	// Provider is auto, claude, openai or ollama.
	Provider         string   `toml:"provider"`
	AnthropicKey     string   `toml:"anthropic_key"`
	AnthropicBaseURL string   `toml:"anthropic_base_url"`
	ClaudeModel      string   `toml:"claude_model"`
	OpenAIKey        string   `toml:"openai_key"`
	OpenAIBaseURL    string   `toml:"openai_base_url"`
	OpenAIModel      string   `toml:"openai_model"`
	OllamaHost       string   `toml:"ollama_host"`
	OllamaModel      string   `toml:"ollama_model"`
	MaxTokens        int      `toml:"max_tokens"`
	Temperature      float64  `toml:"temperature"`
	Timeout          Duration `toml:"timeout"`
}

type SessionConfig struct {
	HistoryLimit       int    `toml:"history_limit"`
	PromptTurns        int    `toml:"prompt_turns"`
	RecentMeals        int    `toml:"recent_meals"`
	MaxInputChars      int    `toml:"max_input_chars"`
	HistoryTokenBudget int    `toml:"history_token_budget"`
	DefaultLanguage    string `toml:"default_language"`
}

type HistoryConfig struct {
	FallbackToRecent bool `toml:"fallback_to_recent"`
}

type ServerConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
	CORSOrigins  []string `toml:"cors_origins"`
}

type StorageConfig struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ProfilesConfig struct {
	// File is an optional TOML file of per-session profiles.
	File  string `toml:"file"`
	Watch bool   `toml:"watch"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		AI: AIConfig{
			Provider:    "auto",
			ClaudeModel: "claude-3-5-sonnet-20241022",
			OpenAIModel: "gpt-4",
			OllamaHost:  "http://localhost:11434",
			OllamaModel: "llama3.2",
			MaxTokens:   1500,
			Temperature: 0.7,
			Timeout:     Duration{30 * time.Second},
		},
		Session: SessionConfig{
			HistoryLimit:       10,
			PromptTurns:        5,
			RecentMeals:        3,
			MaxInputChars:      5000,
			HistoryTokenBudget: 800,
			DefaultLanguage:    "auto",
		},
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{60 * time.Second},
			CORSOrigins:  []string{"*"},
		},
		Storage: StorageConfig{
			Enabled: true,
			DBPath:  filepath.Join(DefaultDir(), "calai.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Profiles: ProfilesConfig{
			Watch: true,
		},
	}
}

// DefaultDir returns ~/.config/calai, or .calai when the home directory is
// unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".calai"
	}
	return filepath.Join(home, ".config", "calai")
}

// DefaultPath returns the path to the default config file.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the config file at path (DefaultPath when empty), applying
// defaults for missing values and environment overrides on top. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: load %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv lets env vars override the file.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AI.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIKey = v
	}
	if v := os.Getenv("CALAI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.AI.OllamaHost = v
	}
	if v := os.Getenv("CALAI_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CALAI_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CALAI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CALAI_HISTORY_FALLBACK_TO_RECENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CALAI_HISTORY_FALLBACK_TO_RECENT: %w", err)
		}
		cfg.History.FallbackToRecent = b
	}
	return nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch c.AI.Provider {
	case "", "auto", "claude", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown ai.provider %q; valid providers: auto, claude, openai, ollama", c.AI.Provider)
	}
	if c.Session.MaxInputChars < 0 {
		return fmt.Errorf("config: session.max_input_chars must not be negative")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("config: ai.temperature %.2f out of range [0, 2]", c.AI.Temperature)
	}
	return nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
