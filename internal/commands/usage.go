package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aristath/gapfill/internal/budget"
	"github.com/aristath/gapfill/internal/ratelimit"
	"github.com/spf13/cobra"
)

var usageJSON bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show primary provider request usage and cooldowns",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		summary := budget.NewGovernor(cfg.UsagePath(), cfg.FMPDailyLimit, log).Summary()
		throttle := ratelimit.NewTracker(cfg.RateLimitPath(), log).Status()

		if usageJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"usage":       summary,
				"rate_limits": throttle,
			})
		}

		printUsage(cmd.OutOrStdout(), summary, throttle, cfg.HasPrimaryCredential())
		return nil
	},
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "print machine-readable JSON")
	rootCmd.AddCommand(usageCmd)
}

func printUsage(w io.Writer, s budget.Summary, throttle ratelimit.Status, hasCredential bool) {
	if !hasCredential {
		fmt.Fprintln(w, "Primary provider:  not configured (FMP_API_KEY unset), fallback only")
	}
	fmt.Fprintf(w, "Date:              %s\n", s.Date)
	fmt.Fprintf(w, "Requests today:    %d / %d (%.1f%%)\n", s.Today, s.DailyLimit, s.PercentUsed)
	fmt.Fprintf(w, "Remaining:         %d\n", s.Remaining)
	fmt.Fprintf(w, "Weekly average:    %.1f per day\n", s.WeeklyAverage)
	fmt.Fprintf(w, "Total requests:    %d\n", s.TotalRequests)
	fmt.Fprintf(w, "Recommendation:    %s\n", s.Recommendation)

	if !throttle.RateLimited {
		fmt.Fprintln(w, "Rate limited:      no")
		return
	}
	fmt.Fprintf(w, "Rate limited:      yes, until %s\n", throttle.NextAvailable.Local().Format("2006-01-02 15:04:05"))
	for _, e := range throttle.Entries {
		if e.Active {
			fmt.Fprintf(w, "  %-30s since %s\n", e.Key, e.LimitedAt.Local().Format("15:04:05"))
		}
	}
}
