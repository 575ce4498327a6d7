// Package main provides the order_robot command line: the robot itself, the
// secure asset store, preflight checks and the HTTP control surface.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/logging"
)

var (
	rootVerbose bool
	logger      = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "order_robot",
	Short:         "Robot order automation",
	Long:          "order_robot downloads an orders file, submits every order through the web form, stores a PDF receipt with a robot preview per order and bundles the receipts into a zip archive.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		l, err := logging.New(logging.Options{Verbose: rootVerbose, Console: true})
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Debug logging and run summaries")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
