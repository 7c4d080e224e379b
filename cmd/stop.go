package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matchpilot/matchpilot/internal/stop"
)

func stopCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Create the stop file so the active run halts at its next checkpoint",
		Long: "Touches the stop file in the data dir. A running pipeline checks it " +
			"before every profile and before every irreversible send step. A new run " +
			"clears a stale stop file at start, so only a touch during the run stops it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.StopFilePath()

			if clear {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove stop file: %w", err)
				}
				fmt.Printf("stop file cleared: %s\n", path)
				return nil
			}

			if err := stop.Touch(path); err != nil {
				return fmt.Errorf("create stop file: %w", err)
			}
			fmt.Printf("stop file created: %s\n", path)
			fmt.Println("the active run will halt at its next checkpoint; clear with: matchpilot stop --clear")
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "remove the stop file instead of creating it")
	return cmd
}
