package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag, e.g.
// CHAT_EXTRACT_LOG_LEVEL for --log-level.
const EnvPrefix = "CHAT_EXTRACT"

// Config captures all command-line options required to run the extractor.
type Config struct {
	ArchivePattern    string
	OutputDir         string
	ExportAttachments bool
	Workers           int
	StateDir          string
	DryRun            bool
	LogLevel          string
	LogDir            string
	IncludeSender     []string
	IncludeContent    []string
	ExcludeSender     []string
	ExcludeContent    []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("config", "", "Optional YAML config file providing defaults for any flag")
	flags.String("archive", "", "Path or glob (** supported) of the chat archive(s) to extract")
	flags.String("output", ".", "Output directory for messages.csv and attachments/")
	flags.Bool("export-attachments", false, "Write attachments to <output>/attachments")
	flags.Int("workers", runtime.NumCPU(), "Number of entries extracted in parallel")
	flags.String("state-dir", defaultStateDir, "Directory for the attachment ledger used to skip already written files")
	flags.Bool("dry-run", false, "Extract and report statistics without writing any output")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("include-sender", nil, "Regex allow-list applied to message senders (mutually exclusive with exclude flags)")
	flags.StringArray("include-content", nil, "Regex allow-list applied to message content (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-sender", nil, "Regex block-list applied to message senders (mutually exclusive with include flags)")
	flags.StringArray("exclude-content", nil, "Regex block-list applied to message content (mutually exclusive with include flags)")

	return nil
}

// LoadConfig merges flags, CHAT_EXTRACT_* environment variables and the
// optional config file (in that order of precedence) into a validated Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	stateDir := v.GetString("state-dir")
	if stateDir == "" {
		var err error
		stateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		ArchivePattern:    strings.TrimSpace(v.GetString("archive")),
		OutputDir:         filepath.Clean(v.GetString("output")),
		ExportAttachments: v.GetBool("export-attachments"),
		Workers:           v.GetInt("workers"),
		StateDir:          filepath.Clean(stateDir),
		DryRun:            v.GetBool("dry-run"),
		LogLevel:          logLevel,
		LogDir:            v.GetString("log-dir"),
		IncludeSender:     v.GetStringSlice("include-sender"),
		IncludeContent:    v.GetStringSlice("include-content"),
		ExcludeSender:     v.GetStringSlice("exclude-sender"),
		ExcludeContent:    v.GetStringSlice("exclude-content"),
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ArchivePattern == "" {
		return fmt.Errorf("--archive is required")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	includeActive := len(cfg.IncludeSender) > 0 || len(cfg.IncludeContent) > 0
	excludeActive := len(cfg.ExcludeSender) > 0 || len(cfg.ExcludeContent) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chat-archive-extract", "state"), nil
}
