package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chatsync "github.com/chatsync-dev/chatsync-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the CLI configuration stored in ~/.chatsync/config.toml.
// Environment variables with the CHATSYNC_ prefix override file values.
type Config struct {
	Default ConfigDefault `toml:"default"`
}

// ConfigDefault holds connection and identity settings.
type ConfigDefault struct {
	Token       string `toml:"token" envconfig:"TOKEN"`
	BaseURL     string `toml:"base_url" envconfig:"BASE_URL"`
	UserID      string `toml:"user_id" envconfig:"USER_ID"`
	DisplayName string `toml:"display_name" envconfig:"DISPLAY_NAME"`
	LogLevel    string `toml:"log_level" envconfig:"LOG_LEVEL"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chatsync, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file and applies CHATSYNC_* env overrides.
// A missing file yields a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if err := envconfig.Process("chatsync", &cfg.Default); err != nil {
		return nil, fmt.Errorf("cannot apply env overrides: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.token)")
	}
	section, field := parts[0], parts[1]

	if section != "default" {
		return fmt.Errorf("unknown section %q", section)
	}
	switch field {
	case "token":
		cfg.Default.Token = value
	case "base_url":
		cfg.Default.BaseURL = value
	case "user_id":
		cfg.Default.UserID = value
	case "display_name":
		cfg.Default.DisplayName = value
	case "log_level":
		cfg.Default.LogLevel = value
	default:
		return fmt.Errorf("unknown field %q in section [default]", field)
	}
	return nil
}

// ============================================================================
// Client helpers
// ============================================================================

func newLogger(level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// getClient builds the API client from the resolved config.
func getClient(cfg *Config) *chatsync.Client {
	opts := []chatsync.ClientOption{
		chatsync.WithLogger(newLogger(cfg.Default.LogLevel)),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatsync.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatsync.NewClient(cfg.Default.Token, opts...)
}

// selfUser builds the local-user identity from config.
func selfUser(cfg *Config) chatsync.User {
	return chatsync.User{ID: cfg.Default.UserID, DisplayName: cfg.Default.DisplayName}
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Realtime chat synchronization CLI",
	Long:  "chatsync keeps a conversation timeline in sync across history pages, live push events, and local sends.",
}

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
