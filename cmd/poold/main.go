/**
 * @description
 * This is the main entry point for poold. It exposes the `serve` and `migrate`
 * commands, loads configuration and sets up logging before either runs.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command line handling.
 * - github.com/joho/godotenv: Loads a local .env into the process environment.
 * - github.com/rs/zerolog: Structured logging.
 */

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Pool-labs/Pool/internal/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "poold",
		Short:         "poold - shared pools, cards and member onboarding",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory holding the optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and configures the global logger.
func bootstrap() (config.Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return config.Config{}, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}

	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
