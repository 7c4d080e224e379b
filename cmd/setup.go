package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/matchpilot/matchpilot/internal/config"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively create or update the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup()
		},
	}
}

func runSetup() error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load existing config: %w", err)
	}

	limit := strconv.Itoa(cfg.Run.ProfileLimit)
	pace := strconv.Itoa(cfg.Run.PaceSeconds)
	daily := strconv.Itoa(cfg.Run.DailyQuota)
	weekly := strconv.Itoa(cfg.Run.WeeklyQuota)

	positiveInt := func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("enter a positive number")
		}
		return nil
	}
	nonNegativeInt := func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return fmt.Errorf("enter a non-negative number")
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Your profile").
				Description("Who you are: background, skills, what you bring.").
				Value(&cfg.Run.SelfProfile),
			huh.NewText().
				Title("Match criteria").
				Description("What you look for in a co-founder.").
				Value(&cfg.Run.Criteria),
			huh.NewText().
				Title("Message template").
				Description("Slots: {name} {why_match} {draft} {cta}").
				Value(&cfg.Run.Template),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Listing URL").
				Description("The candidate listing to browse.").
				Value(&cfg.Browser.ListingURL),
			huh.NewInput().Title("Profile limit per run").Value(&limit).Validate(positiveInt),
			huh.NewInput().Title("Seconds between sends").Value(&pace).Validate(nonNegativeInt),
			huh.NewInput().Title("Daily send quota").Value(&daily).Validate(positiveInt),
			huh.NewInput().Title("Weekly send quota").Value(&weekly).Validate(positiveInt),
			huh.NewConfirm().
				Title("Auto-send approved drafts?").
				Description("Off means drafts wait for approval and are never submitted.").
				Value(&cfg.Run.AutoSend),
			huh.NewConfirm().
				Title("Shadow mode?").
				Description("Full pipeline, but the reply widget is never touched.").
				Value(&cfg.Run.Shadow),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}

	cfg.Run.ProfileLimit, _ = strconv.Atoi(limit)
	cfg.Run.PaceSeconds, _ = strconv.Atoi(pace)
	cfg.Run.DailyQuota, _ = strconv.Atoi(daily)
	cfg.Run.WeeklyQuota, _ = strconv.Atoi(weekly)

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Secrets never reach the file; they stay env-only.
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("config written to %s\n", path)
	fmt.Println("remember to export MATCHPILOT_OPENAI_API_KEY (and optionally MATCHPILOT_SITE_USERNAME / MATCHPILOT_SITE_PASSWORD)")
	return nil
}
