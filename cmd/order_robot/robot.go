package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/browser"
	"github.com/jonathan/order-robot/internal/config"
	"github.com/jonathan/order-robot/internal/db"
	"github.com/jonathan/order-robot/internal/orders"
	"github.com/jonathan/order-robot/internal/pipeline"
	"github.com/jonathan/order-robot/internal/receipts"
	"github.com/jonathan/order-robot/internal/vault"
)

// robot wires a browser session, the receipt composer and the pipeline for one configuration.
type robot struct {
	cfg        config.Config
	ordersFile string // local CSV instead of downloading
	ledger     pipeline.Ledger
	logger     *zap.Logger
	out        io.Writer
	perRun     bool // write each run under <output>/runs/<run id>
}

// runConfig returns the configuration for one run.
func (r *robot) runConfig(runID uuid.UUID) config.Config {
	if r.perRun {
		return r.cfg.ForRun(runID.String())
	}
	return r.cfg
}

func (r *robot) loadOrders(ctx context.Context) (*orders.Table, error) {
	if r.ordersFile != "" {
		r.logger.Info("reading orders file", zap.String("path", r.ordersFile))
		return orders.ReadFile(r.ordersFile)
	}
	return orders.NewSource(r.cfg.OrdersURL, r.cfg.OrdersCache, r.logger).Fetch(ctx)
}

// run loads the orders and performs one full run.
func (r *robot) run(ctx context.Context, runID uuid.UUID, onProgress pipeline.ProgressCallback) (*pipeline.RunResult, error) {
	r.checkVault(ctx)

	table, err := r.loadOrders(ctx)
	if err != nil {
		return nil, err
	}
	cfg := r.runConfig(runID)

	session, err := browser.Launch(ctx, cfg.BrowserOptions(), r.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("failed to close browser", zap.Error(err))
		}
	}()

	composer := receipts.NewComposer(cfg.ReceiptsDir(), cfg.ScreenshotsDir(), session, receipts.NewWatermarkMerger(), r.logger)

	p, err := pipeline.New(session, composer, pipeline.Options{
		RunID:       runID,
		OrdersURL:   cfg.OrdersURL,
		ArchivePath: cfg.ArchivePath(),
		Waiter:      cfg.WaiterSettings(),
		Ledger:      r.ledger,
		Logger:      r.logger,
		Out:         r.out,
		Verbose:     cfg.Verbose,
		OnProgress:  onProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p.Run(ctx, table)
}

// checkVault reads the configured vault record when VAULT_PASSPHRASE is set.
// The outcome is reported; it never stops the run.
func (r *robot) checkVault(ctx context.Context) {
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return
	}
	name := r.cfg.Vault.AssetName

	v, release, err := openVault(ctx, r.cfg, passphrase)
	if err != nil {
		r.logger.Warn("vault unavailable", zap.Error(err))
		_, _ = fmt.Fprintf(r.out, "Vault: unavailable: %v\n", err)
		return
	}
	defer release()

	var record map[string]any
	err = v.Get(ctx, name, &record)
	var authErr *vault.AuthenticationError
	switch {
	case errors.Is(err, vault.ErrNotFound):
		r.logger.Info("no vault record stored", zap.String("name", name))
		_, _ = fmt.Fprintf(r.out, "Vault: no %s record\n", name)
	case errors.As(err, &authErr):
		r.logger.Warn("vault record could not be decrypted", zap.String("name", name), zap.Error(err))
		_, _ = fmt.Fprintf(r.out, "Vault: %s could not be decrypted\n", name)
	case err != nil:
		r.logger.Warn("failed to read vault record", zap.String("name", name), zap.Error(err))
		_, _ = fmt.Fprintf(r.out, "Vault: failed to read %s: %v\n", name, err)
	default:
		r.logger.Info("vault record loaded", zap.String("name", name), zap.Int("fields", len(record)))
		_, _ = fmt.Fprintf(r.out, "Vault: loaded %s (%d fields)\n", name, len(record))
	}
}

// openLedger connects to PostgreSQL when a URL is configured.
// A database that cannot be reached is logged and the robot continues without one.
func openLedger(ctx context.Context, databaseURL string, logger *zap.Logger) *db.DB {
	if databaseURL == "" {
		return nil
	}
	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		logger.Warn("continuing without run ledger", zap.Error(err))
		return nil
	}
	if err := database.EnsureSchema(ctx); err != nil {
		logger.Warn("continuing without run ledger", zap.Error(err))
		database.Close()
		return nil
	}
	return database
}
