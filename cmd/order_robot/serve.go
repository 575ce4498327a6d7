package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/order-robot/internal/config"
	"github.com/jonathan/order-robot/internal/server"
)

var (
	servePort       int
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface",
	Long: `Start an HTTP server that starts runs, streams their progress and serves the receipts archive.

Requires JWT_SECRET. Operators sign in at POST /auth/token with OPERATOR_USERNAME and the password hashed into OPERATOR_PASSWORD_HASH (see hash-password).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a JSON or YAML config file used for every run")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath, func(c *config.Config) {
		if cmd.Flags().Changed("verbose") {
			c.Verbose = rootVerbose
		}
	})
	if err != nil {
		return err
	}

	auth, err := config.LoadAuthConfig()
	if err != nil {
		return fmt.Errorf("failed to load auth config: %w", err)
	}
	if !auth.LoginEnabled() {
		logger.Warn("OPERATOR_PASSWORD_HASH is not set; POST /auth/token is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Progress reaches clients through the event stream instead of step lines.
	r := &robot{cfg: cfg, logger: logger, out: io.Discard, perRun: true}
	srvCfg := server.Config{
		Port:   servePort,
		Auth:   auth,
		Runner: r.run,
		Logger: logger,
	}
	if database := openLedger(ctx, cfg.DatabaseURL, logger); database != nil {
		defer database.Close()
		r.ledger = database
		srvCfg.Lookup = database
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}
