package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate astroreg configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv("ASTROREG_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/astroreg/config.json"
			}
			fmt.Printf("Config file: %s\n", cfgPath)
			fmt.Printf("\nProcessing:\n")
			fmt.Printf("  Parallel frames: %d\n", root.cfg.Processing.ParallelFrames)
			fmt.Printf("  Temp directory: %s\n", root.cfg.Processing.TempDir)
			fmt.Printf("\nRegistration:\n")
			fmt.Printf("  Default method: %s\n", root.cfg.Registration.DefaultMethod)
			fmt.Printf("  Layer: %d\n", root.cfg.Registration.Layer)
			fmt.Printf("  Stop on error: %t\n", root.cfg.Registration.StopOnError)
			fmt.Printf("  Frame extensions: %s\n", strings.Join(root.cfg.Registration.Sequence.Extensions, ", "))
			fmt.Printf("\nEnabled methods:\n")
			if root.cfg.Registration.Comet.Enabled {
				fmt.Printf("  - comet\n")
			}
			if root.cfg.Registration.Star.Enabled {
				fmt.Printf("  - star\n")
			}
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Database path: %s\n", root.cfg.Paths.DatabasePath)
			fmt.Printf("\nLogging:\n")
			fmt.Printf("  Level: %s\n", root.cfg.Logging.Level)
			fmt.Printf("  Format: %s\n", root.cfg.Logging.Format)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !root.cfg.Registration.Comet.Enabled && !root.cfg.Registration.Star.Enabled {
				return fmt.Errorf("no registration methods enabled")
			}
			if root.cfg.Registration.PSF.SigmaThreshold <= 0 {
				return fmt.Errorf("psf sigma_threshold must be positive")
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}
