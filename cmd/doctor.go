package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"

	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("matchpilot doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — run: matchpilot setup)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Run inputs:")
	checkSet("Self profile", cfg.Run.SelfProfile)
	checkSet("Criteria", cfg.Run.Criteria)
	checkSet("Template", cfg.Run.Template)
	checkSet("Listing URL", cfg.Browser.ListingURL)

	fmt.Println()
	fmt.Println("  Provider:")
	checkSecret("API key", cfg.Provider.APIKey, "MATCHPILOT_OPENAI_API_KEY")
	fmt.Printf("    %-14s %s / %s\n", "Models:", cfg.Provider.DecisionModel, cfg.Provider.CUAModel)

	fmt.Println()
	fmt.Println("  Browser:")
	if cfg.Browser.DebuggerURL != "" {
		fmt.Printf("    %-14s attach to %s\n", "Mode:", cfg.Browser.DebuggerURL)
	} else if bin, has := launcher.LookPath(); has {
		fmt.Printf("    %-14s %s\n", "Binary:", bin)
	} else {
		fmt.Printf("    %-14s NOT FOUND (rod will download one on first run)\n", "Binary:")
	}
	checkSecret("Credentials", cfg.Browser.Credentials.Username, "MATCHPILOT_SITE_USERNAME")

	fmt.Println()
	fmt.Println("  Store:")
	fmt.Printf("    %-14s %s\n", "Backend:", cfg.Store.Backend)
	stores, err := openStores(cfg)
	if err != nil {
		fmt.Printf("    %-14s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		defer stores.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if n, err := stores.Seen.Count(ctx); err != nil {
			fmt.Printf("    %-14s count failed (%s)\n", "Seen:", err)
		} else {
			fmt.Printf("    %-14s %d profiles\n", "Seen:", n)
		}
		now := time.Now()
		if c, err := stores.Quota.Counts(ctx, store.DayKey(now), store.WeekKey(now)); err != nil {
			fmt.Printf("    %-14s read failed (%s)\n", "Quota:", err)
		} else {
			fmt.Printf("    %-14s %d/%d today, %d/%d this week\n", "Quota:",
				c.Day, cfg.Run.DailyQuota, c.Week, cfg.Run.WeeklyQuota)
		}
	}

	fmt.Println()
	fmt.Println("  Safety:")
	if _, err := os.Stat(cfg.StopFilePath()); err == nil {
		fmt.Printf("    %-14s PRESENT — runs stop immediately (rm %s)\n", "Stop file:", cfg.StopFilePath())
	} else {
		fmt.Printf("    %-14s absent\n", "Stop file:")
	}
	fmt.Printf("    %-14s shadow=%v auto_send=%v\n", "Modes:", cfg.Run.Shadow, cfg.Run.AutoSend)

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-14s %s:%d\n", "Address:", cfg.Gateway.Host, cfg.Gateway.Port)
	checkSecret("Token", cfg.Gateway.Token, "MATCHPILOT_GATEWAY_TOKEN")
}

func checkSet(name, value string) {
	if value == "" {
		fmt.Printf("    %-14s MISSING\n", name+":")
	} else {
		fmt.Printf("    %-14s set (%d chars)\n", name+":", len(value))
	}
}

func checkSecret(name, value, envVar string) {
	if value == "" {
		fmt.Printf("    %-14s not set (%s)\n", name+":", envVar)
	} else {
		fmt.Printf("    %-14s set\n", name+":")
	}
}
