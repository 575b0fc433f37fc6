package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aristath/gapfill/internal/process"
	"github.com/aristath/gapfill/internal/scheduler"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		if err := newDaemon(cfg, log).Start(withContext(cmd)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "gapfill started, logging to %s\n", cfg.LogPath())
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		if err := newDaemon(cfg, log).Stop(withContext(cmd)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "gapfill stopped")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		if err := newDaemon(cfg, log).Restart(withContext(cmd)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "gapfill restarted")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler process and job status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		proc, err := newDaemon(cfg, log).Status()
		if err != nil {
			return err
		}
		st, err := scheduler.LoadStatus(cfg.StatusPath())
		if err != nil {
			return err
		}

		printStatus(cmd.OutOrStdout(), proc, st, time.Now())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd)
}

// withContext gives commands run outside cobra's ExecuteContext a background context.
func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printStatus(w io.Writer, proc process.Status, st *scheduler.Status, now time.Time) {
	switch {
	case proc.Running:
		fmt.Fprintf(w, "Process:               running (pid %d)\n", proc.PID)
	case proc.Stale:
		fmt.Fprintf(w, "Process:               not running (stale pid file for pid %d)\n", proc.PID)
	default:
		fmt.Fprintln(w, "Process:               not running")
	}

	if st == nil {
		fmt.Fprintln(w, "Scheduler status:      never written")
		return
	}

	fmt.Fprintf(w, "Last success:          %s\n", formatTime(st.LastSuccessfulUpdate, now))
	fmt.Fprintf(w, "Next scheduled run:    %s\n", formatTime(st.NextScheduledRun, now))
	fmt.Fprintf(w, "Consecutive failures:  %d\n", st.ConsecutiveFailures)
	if st.CatchUpPausedUntil != nil && st.CatchUpPausedUntil.After(now) {
		fmt.Fprintf(w, "Catch-up paused until: %s\n", formatTime(st.CatchUpPausedUntil, now))
	}
	if st.LastHealthCheck != nil {
		fmt.Fprintf(w, "Open gaps:             %d (checked %s)\n",
			st.LastHealthCheck.TotalGaps, formatTime(&st.LastHealthCheck.CheckedAt, now))
	}

	for _, name := range []string{"daily_refresh", "catchup", "health_check"} {
		js, ok := st.Jobs[name]
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-14s next %s, runs %d, failures %d", name, formatTime(js.NextRun, now), js.Runs, js.Failures)
		if js.LastError != "" {
			line += ", last error: " + js.LastError
		}
		fmt.Fprintln(w, line)
	}
}

func formatTime(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	local := t.Local().Format("2006-01-02 15:04:05")
	if t.After(now) {
		return fmt.Sprintf("%s (in %s)", local, t.Sub(now).Round(time.Second))
	}
	return fmt.Sprintf("%s (%s ago)", local, now.Sub(*t).Round(time.Second))
}
