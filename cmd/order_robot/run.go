package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/config"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Submit every order and archive the receipts",
	Long: `Downloads the orders file, submits each order through the web form, stores a receipt PDF with the robot preview embedded for each confirmed order and writes the receipts archive.

Configuration can be loaded from a JSON or YAML file using --config. Command-line arguments override config file values.`,
	RunE: runRobotCmd,
}

var (
	runConfigPath  string
	runOrdersURL   string
	runOrdersFile  string
	runOutputDir   string
	runRetries     int
	runTimeoutMS   int
	runDriver      string
	runHeadless    bool
	runDatabaseURL string
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to a JSON or YAML config file (values can be overridden by other flags)")

	runCommand.Flags().StringVar(&runOrdersURL, "orders-url", "", "URL of the orders CSV (defaults to ORDERS_URL env var)")
	runCommand.Flags().StringVar(&runOrdersFile, "orders-file", "", "Read orders from a local CSV instead of downloading")
	runCommand.Flags().StringVarP(&runOutputDir, "output", "o", "", "Output directory for receipts, screenshots and the archive")
	runCommand.Flags().IntVar(&runRetries, "retries", 0, "Attempts per wait on the order page")
	runCommand.Flags().IntVar(&runTimeoutMS, "timeout-ms", 0, "Per-attempt timeout in milliseconds")
	runCommand.Flags().StringVar(&runDriver, "driver", "", "Browser driver: chromedp or rod")
	runCommand.Flags().BoolVar(&runHeadless, "headless", true, "Run the browser without a window")

	// Database URL for the run ledger
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(runCommand)
}

// runOverrides applies only the flags that were explicitly set.
func runOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("orders-url") {
			cfg.OrdersURL = runOrdersURL
		}
		if flags.Changed("output") {
			cfg.OutputDir = runOutputDir
		}
		if flags.Changed("retries") {
			cfg.Waiter.Retries = runRetries
		}
		if flags.Changed("timeout-ms") {
			cfg.Waiter.TimeoutMS = runTimeoutMS
		}
		if flags.Changed("driver") {
			cfg.Browser.Driver = runDriver
		}
		if flags.Changed("headless") {
			headless := runHeadless
			cfg.Browser.Headless = &headless
		}
		if flags.Changed("db-url") {
			cfg.DatabaseURL = runDatabaseURL
		}
		if flags.Changed("verbose") {
			cfg.Verbose = rootVerbose
		}
	}
}

func runRobotCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(runConfigPath, runOverrides(cmd))
	if err != nil {
		return err
	}
	if cfg.Verbose && runConfigPath != "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded config from: %s\n", runConfigPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &robot{cfg: cfg, ordersFile: runOrdersFile, logger: logger, out: cmd.OutOrStdout()}
	if database := openLedger(ctx, cfg.DatabaseURL, logger); database != nil {
		defer database.Close()
		r.ledger = database
	}

	result, err := r.run(ctx, uuid.New(), nil)
	if err != nil {
		return err
	}

	logger.Info("run finished",
		zap.String("run_id", result.RunID.String()),
		zap.Int("rows", result.Rows),
		zap.Int("receipts", result.Manifest.Len()),
		zap.Ints("timed_out_rows", result.TimedOutRows),
	)
	if result.Archive != nil {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Archive: %s (%d receipts)\n", result.Archive.Path, len(result.Archive.Entries))
	}
	return nil
}
