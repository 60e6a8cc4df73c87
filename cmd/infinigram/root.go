package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/config"
	"github.com/allenai/infinigram-api/internal/slogutil"
	"github.com/allenai/infinigram-api/internal/version"
)

var (
	// configFile is the --config flag value
	configFile string
	// envFile is the --env-file flag value
	envFile string
	// logLevel overrides logging.level when set
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "infinigram",
	Short: "infinigram - n-gram attribution service",
	Long: `infinigram attributes model output to the documents of large text corpora.

It finds the spans of a response that occur rarely in an index, fetches the
documents containing them, and serves the result over HTTP with caching and
per-index worker pools.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("infinigram version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Config file (default: infinigram.{json,yaml,toml} in . or $HOME/.infinigram)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig loads configuration with command-line overrides applied.
// Precedence: flag > INFINIGRAM_* env > .env > config file > defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. The closer is nil unless a log file
// was opened.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return slogutil.New(slogutil.Options{
		Format:     slogutil.Format(cfg.Logging.Format),
		Level:      slogutil.LevelFromString(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSize:    slogutil.ParseSize(cfg.Logging.MaxSize),
		MaxBackups: cfg.Logging.MaxBackups,
	})
}
