package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/gapfill/internal/catchup"
	"github.com/aristath/gapfill/internal/di"
	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Run one catch-up pass now",
	Long: `Run a single catch-up pass in the foreground and print its outcome.

Refuses to run while the scheduler is running, since both would write the
same ledger. A breaker pause recorded by the scheduler is honoured.`,
	RunE: runCatchUp,
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Show detected gaps and ledger state",
	RunE:  runGaps,
}

func init() {
	rootCmd.AddCommand(catchupCmd, gapsCmd)
}

func runCatchUp(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	daemon := newDaemon(cfg, log)
	if err := daemon.Acquire(); err != nil {
		return err
	}
	defer daemon.Release()

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(withContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := scheduler.NewStatusStore(cfg.StatusPath())
	result, err := catchUpOnce(ctx, store, container.Orchestrator, log)
	if err != nil {
		return err
	}

	printPass(cmd.OutOrStdout(), result)
	return nil
}

// catchUpOnce runs one pass the way the scheduler's catch-up job does and
// writes the outcome and any breaker pause back to the status file.
func catchUpOnce(ctx context.Context, store *scheduler.StatusStore, orch scheduler.Catcher, log zerolog.Logger) (catchup.PassResult, error) {
	st, err := store.Load()
	if err != nil {
		return catchup.PassResult{}, err
	}
	if st == nil {
		st = scheduler.NewStatus()
	}

	job := scheduler.NewCatchUpJob(orch)
	job.SetLogger(log)
	job.Restore(st)

	runErr := job.Run(ctx, st)
	st.LastUpdated = time.Now()
	if err := store.Save(st); err != nil {
		return catchup.PassResult{}, err
	}
	if runErr != nil {
		return catchup.PassResult{}, runErr
	}
	return *st.LastCatchUp, nil
}

func printPass(w io.Writer, r catchup.PassResult) {
	if r.Skipped {
		fmt.Fprintf(w, "Skipped: breaker pause active until %s\n", r.PausedUntil.Local().Format("2006-01-02 15:04:05"))
		return
	}
	fmt.Fprintf(w, "Queued:       %d\n", r.Queued)
	fmt.Fprintf(w, "Attempted:    %d\n", r.Attempted)
	fmt.Fprintf(w, "Filled:       %d\n", r.Filled)
	fmt.Fprintf(w, "Unavailable:  %d\n", r.Unavailable)
	fmt.Fprintf(w, "Rate limited: %d\n", r.RateLimited)
	fmt.Fprintf(w, "Errors:       %d\n", r.Errors)
	if r.Tripped {
		fmt.Fprintf(w, "Breaker tripped, paused until %s\n", r.PausedUntil.Local().Format("2006-01-02 15:04:05"))
	}
	if r.Cancelled {
		fmt.Fprintln(w, "Pass interrupted")
	}
}

func runGaps(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := setup()
	if err != nil {
		return err
	}
	defer closeLog()

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	ctx := withContext(cmd)
	detected, err := container.Detector.DetectAllGaps(ctx)
	if err != nil {
		return err
	}
	counts, err := container.Ledger.Counts(ctx)
	if err != nil {
		return err
	}
	waiting, err := container.Ledger.GetWaiting(ctx)
	if err != nil {
		return err
	}

	printGaps(cmd.OutOrStdout(), detected, counts, waiting)
	return nil
}

func printGaps(w io.Writer, detected domain.GapsByType, counts map[string]int, waiting []domain.GapRecord) {
	fmt.Fprintf(w, "Detected gaps: %d\n", detected.Total())
	byType := detected.Counts()
	for _, t := range domain.AllGapTypes {
		fmt.Fprintf(w, "  %-24s %d\n", t, byType[string(t)])
	}

	fmt.Fprintf(w, "Ledger: %d pending, %d data unavailable\n",
		counts[string(domain.StatusPending)], counts[string(domain.StatusDataUnavailable)])

	if len(waiting) == 0 {
		return
	}
	fmt.Fprintln(w, "Waiting for retry:")
	for _, rec := range waiting {
		next := "unknown"
		if rec.NextRetry != nil {
			next = rec.NextRetry.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "  %-8s %-24s next %s  %s\n", rec.Symbol, rec.Type, next, rec.ErrorMessage)
	}
}
