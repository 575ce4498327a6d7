package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/order-robot/internal/preflight"
)

var checkConfigPath string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the orders URL, browser, output directory and database",
	Long:  `Runs the preflight probes concurrently and reports pass/fail for each. Exits non-zero when any probe fails.`,
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkConfigPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(checkConfigPath, nil)
	if err != nil {
		return err
	}

	probes := []preflight.Probe{
		preflight.OrdersURL(cfg.OrdersURL, nil),
		preflight.Browser(cfg.Browser.ExecPath),
		preflight.OutputDir(cfg.OutputDir),
	}
	if cfg.DatabaseURL != "" {
		probes = append(probes, preflight.Database(cfg.DatabaseURL))
	}

	ctx := cmd.Context()
	results := preflight.Run(ctx, probes, preflight.DefaultProbeTimeout)
	return preflight.Report(cmd.OutOrStdout(), results)
}
