// Package commands implements the gapfill command line.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/aristath/gapfill/internal/config"
	"github.com/aristath/gapfill/internal/process"
	"github.com/aristath/gapfill/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	logFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gapfill",
	Short: "Background market data gap filler",
	Long: `gapfill keeps a local market dataset complete by detecting missing data
and filling it from a metered primary provider and a free fallback provider.

The scheduler runs three periodic jobs:
• daily refresh of the last week of prices
• catch-up passes over detected and retry-ready gaps
• health checks reporting gap counts and host resources`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stdout")
}

// setup loads configuration and builds the logger.
func setup() (*config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}

	var output io.Writer
	closer := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		closer = func() { _ = f.Close() }
	}

	log := logger.New(logger.Config{Level: level, Pretty: cfg.LogPretty, Output: output})
	logger.SetGlobalLogger(log)
	return cfg, log, closer, nil
}

// newDaemon builds the process controller that relaunches this binary with "run".
func newDaemon(cfg *config.Config, log zerolog.Logger) *process.Daemon {
	return process.NewDaemon(cfg.PIDPath(), cfg.LogPath(), []string{"run", "--log-file", cfg.LogPath()}, log)
}
