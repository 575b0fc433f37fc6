package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/gapfill/internal/di"
	"github.com/aristath/gapfill/internal/server"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler in the foreground",
	Long: `Run the scheduler loop in the foreground until interrupted.

On startup a gap check runs immediately and, if anything is missing, one
catch-up pass runs before the loop begins. Set STATUS_PORT to also serve
the read-only inspection API.`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	daemon := newDaemon(cfg, log)
	if err := daemon.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := daemon.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release pid file")
		}
	}()

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	sched, err := di.NewScheduler(cfg, jobs, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusPort > 0 {
		srv := server.New(server.Config{
			Log:        log,
			Port:       cfg.StatusPort,
			StatusPath: cfg.StatusPath(),
			Usage:      container.Governor,
			Throttle:   container.Tracker,
			Gaps:       container.Ledger,
		})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
			}
		}()
	}

	log.Info().
		Int("pid", os.Getpid()).
		Str("data_dir", cfg.DataDir).
		Strs("symbols", cfg.Symbols).
		Msg("Starting gapfill scheduler")

	sched.Bootstrap(ctx, container.Detector, jobs.CatchUp)
	return sched.Run(ctx)
}
