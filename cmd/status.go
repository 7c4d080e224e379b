package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/store"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show quota usage, seen count, and the last run summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	counters, err := stores.Quota.Counts(ctx, store.DayKey(now), store.WeekKey(now))
	if err != nil {
		return fmt.Errorf("read quota: %w", err)
	}
	seenCount, err := stores.Seen.Count(ctx)
	if err != nil {
		return fmt.Errorf("count seen: %w", err)
	}

	printRow("Daily quota", fmt.Sprintf("%d / %d", counters.Day, cfg.Run.DailyQuota))
	printRow("Weekly quota", fmt.Sprintf("%d / %d", counters.Week, cfg.Run.WeeklyQuota))
	printRow("Seen profiles", fmt.Sprintf("%d", seenCount))

	recs, err := events.LastRun(cfg.EventLogPath())
	if err != nil || len(recs) == 0 {
		printRow("Last run", "none")
		return nil
	}

	fmt.Println()
	printRow("Last run", recs[0].RunID)
	printRow("Started", recs[0].TS.Local().Format(time.RFC3339))

	for _, r := range recs {
		if r.Event != "run_complete" {
			continue
		}
		// The run_complete record nests the metrics counters.
		c, _ := r.Fields["counters"].(map[string]interface{})
		printRow("Finished", r.TS.Local().Format(time.RFC3339))
		printRow("Reason", str(r.Fields["reason"]))
		printRow("Sent", str(c["sent"]))
		printRow("Send failed", str(c["send_failed"]))
		printRow("Decisions", fmt.Sprintf("yes %s / no %s / error %s",
			str(c["decisions_yes"]), str(c["decisions_no"]), str(c["decisions_error"])))
		printRow("Duplicates", str(c["duplicates"]))
		return nil
	}

	printRow("Finished", "no (run in progress or aborted)")
	return nil
}

const labelWidth = 16

func printRow(label, value string) {
	fmt.Printf("  %s %s\n", runewidth.FillRight(label+":", labelWidth), value)
}

// str renders an event field for display; JSON numbers decode as float64.
func str(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return "-"
	case float64:
		return fmt.Sprintf("%d", int64(n))
	default:
		return fmt.Sprintf("%v", v)
	}
}
