// Package cmd provides the command-line interface for jobforge.
// It handles command parsing, configuration loading, and stage execution.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/jobforge/internal/config"
)

var (
	cfgFile   string
	envFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobforge",
	Short: "A staged job-posting cleaning and analysis pipeline",
	Long: `jobforge turns raw job-board scrapes into canonical, deduplicated and
AI-enriched job records.

Records move through four stages: raw -> cleaned -> pre-analyzed -> analyzed.
Each stage command processes one batch and prints its result as JSON.`,
	SilenceUsage: true,
	RunE:         runRoot,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// flagBindings maps command-line flags to configuration keys. A flag is
// bound only on the commands that define it.
var flagBindings = []struct {
	viperKey string
	flagName string
}{
	{"database_path", "database"},
	{"redis_url", "redis-url"},
	{"log.level", "log-level"},
	{"log.file", "log-file"},
	{"batch.clean_size", "clean-size"},
	{"batch.transfer_size", "transfer-size"},
	{"batch.queue_size", "queue-size"},
	{"analyzer.model", "model"},
	{"schedule", "schedule"},
	{"stale_queue_timeout", "stale-timeout"},
}

func init() {
	defaults := config.DefaultConfig()

	// Configuration file flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./jobforge.yml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	// Configuration management flags
	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Shared flags
	rootCmd.PersistentFlags().StringP("database", "d", defaults.DatabasePath, "Path to SQLite database file")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis URL for cross-process stage locks (default: in-process locks)")
	rootCmd.PersistentFlags().String("log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated by size")

	// Batch sizing flags
	rootCmd.PersistentFlags().Int("clean-size", defaults.Batch.CleanSize, "Raw scrapes per clean batch")
	rootCmd.PersistentFlags().Int("transfer-size", defaults.Batch.TransferSize, "Cleaned rows per transfer batch")
	rootCmd.PersistentFlags().Int("queue-size", defaults.Batch.QueueSize, "Rows sent to the analyzer per run")

	addCommands(rootCmd)
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// newViper builds the configuration source chain for cmd: flags, JF_
// environment variables, the config file, then defaults.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, config.DefaultConfig())

	if cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("jobforge")
	}

	v.SetEnvPrefix("JF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, bind := range flagBindings {
		flag := cmd.Flags().Lookup(bind.flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(bind.viperKey, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", bind.flagName, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// setDefaults registers every key so AutomaticEnv can reach nested keys
// during Unmarshal.
func setDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("batch.clean_size", d.Batch.CleanSize)
	v.SetDefault("batch.transfer_size", d.Batch.TransferSize)
	v.SetDefault("batch.queue_size", d.Batch.QueueSize)
	v.SetDefault("sanitizer.max_length", d.Sanitizer.MaxLength)
	v.SetDefault("normalizer.default_currency", d.Normalizer.DefaultCurrency)
	v.SetDefault("analyzer.provider", d.Analyzer.Provider)
	v.SetDefault("analyzer.api_key", d.Analyzer.APIKey)
	v.SetDefault("analyzer.api_key_env", d.Analyzer.APIKeyEnv)
	v.SetDefault("analyzer.model", d.Analyzer.Model)
	v.SetDefault("analyzer.max_tokens", d.Analyzer.MaxTokens)
	v.SetDefault("analyzer.timeout", d.Analyzer.Timeout)
	v.SetDefault("analyzer.requests_per_minute", d.Analyzer.RequestsPerMinute)
	v.SetDefault("redis_url", d.RedisURL)
	v.SetDefault("lock_ttl", d.LockTTL)
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("stale_queue_timeout", d.StaleQueueTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.console", d.Log.Console)
}

// loadConfig resolves the effective configuration for cmd without validating it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func showCurrentConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current jobforge configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./jobforge.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: JF_\n\n")

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (JF_ prefix, .env file included)\n")
	fmt.Fprintf(w, "# 3. Configuration file (jobforge.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

func runRoot(cmd *cobra.Command, _ []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")
	if !showConfig {
		return cmd.Help()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return showCurrentConfig(cmd.OutOrStdout(), cfg)
}
