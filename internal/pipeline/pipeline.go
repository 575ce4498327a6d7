// Package pipeline drives the order form once per order row and bundles the receipts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/archive"
	"github.com/jonathan/order-robot/internal/db"
	"github.com/jonathan/order-robot/internal/observability"
	"github.com/jonathan/order-robot/internal/orders"
	"github.com/jonathan/order-robot/internal/receipts"
	"github.com/jonathan/order-robot/internal/types"
	"github.com/jonathan/order-robot/internal/waiter"
)

// Form is the part of the browser session the pipeline drives.
type Form interface {
	receipts.View

	Open(ctx context.Context) error
	ConfirmModal(ctx context.Context) error
	ModalDismissed(ctx context.Context) (bool, error)
	Fill(ctx context.Context, row types.OrderRow) error
	Preview(ctx context.Context) error
	Submit(ctx context.Context) error
	ReceiptVisible(ctx context.Context) (bool, error)
	OrderID(ctx context.Context) (string, error)
	OrderAnother(ctx context.Context) error
}

// Composer turns the confirmed order on screen into a receipt artifact.
type Composer interface {
	Compose(ctx context.Context, orderID string, row int, view receipts.View) (types.ReceiptArtifact, error)
}

// Ledger persists runs and receipts. *db.DB satisfies it.
type Ledger interface {
	CreateRun(ctx context.Context, runID uuid.UUID, ordersURL string) error
	SaveReceipt(ctx context.Context, runID uuid.UUID, artifact types.ReceiptArtifact) error
	CompleteRun(ctx context.Context, runID uuid.UUID, summary db.RunSummary) error
}

// ArchiveFunc bundles the manifest into dest.
type ArchiveFunc func(manifest *types.Manifest, dest string) (*types.ArchiveResult, error)

// Options configures a Pipeline.
type Options struct {
	RunID       uuid.UUID // generated when zero
	OrdersURL   string    // recorded in the ledger
	ArchivePath string
	Waiter      waiter.Config
	Ledger      Ledger // optional
	Archive     ArchiveFunc
	Logger      *zap.Logger
	Out         io.Writer // step lines; defaults to stdout
	Verbose     bool
	OnProgress  ProgressCallback
}

// RunResult summarises a run.
type RunResult struct {
	RunID         uuid.UUID            `json:"run_id"`
	Rows          int                  `json:"rows"`
	Manifest      *types.Manifest      `json:"manifest"`
	TimedOutRows  []int                `json:"timed_out_rows"`
	ModalTimeouts int                  `json:"modal_timeouts"`
	Archive       *types.ArchiveResult `json:"archive,omitempty"`
	Elapsed       time.Duration        `json:"elapsed"`
}

// Pipeline submits every order of a table through a Form.
type Pipeline struct {
	form     Form
	composer Composer
	waiter   *waiter.Waiter
	opts     Options
	logger   *zap.Logger
	printer  *observability.Printer

	stems map[string]string // receipt file stem -> order id, per run
}

// New validates opts and builds a pipeline.
func New(form Form, composer Composer, opts Options) (*Pipeline, error) {
	if form == nil {
		return nil, errors.New("pipeline requires a form")
	}
	if composer == nil {
		return nil, errors.New("pipeline requires a composer")
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	if opts.ArchivePath == "" {
		opts.ArchivePath = archive.DefaultName
	}
	if opts.Archive == nil {
		opts.Archive = archive.Archive
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", opts.RunID.String()))

	w, err := waiter.New(opts.Waiter, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		form:     form,
		composer: composer,
		waiter:   w,
		opts:     opts,
		logger:   logger,
		printer:  observability.NewPrinter(opts.Out),
	}, nil
}

// RunID returns the id of the run this pipeline performs.
func (p *Pipeline) RunID() uuid.UUID {
	return p.opts.RunID
}

// Run submits every row of table in order and archives the receipts produced.
//
// A receipt that never appears or a modal that never closes is logged and the
// run moves on. Any other failure aborts the remaining rows; the partial result
// is returned with the error.
func (p *Pipeline) Run(ctx context.Context, table *orders.Table) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		RunID:        p.opts.RunID,
		Rows:         table.Len(),
		Manifest:     &types.Manifest{},
		TimedOutRows: []int{},
	}
	p.stems = make(map[string]string)

	if p.opts.Ledger != nil {
		if err := p.opts.Ledger.CreateRun(ctx, p.opts.RunID, p.opts.OrdersURL); err != nil {
			p.logger.Warn("failed to record run, continuing without ledger", zap.Error(err))
			p.opts.Ledger = nil
		}
	}
	p.emit(ProgressEvent{Step: StepRunStarted, Message: fmt.Sprintf("Processing %d orders", table.Len())})

	err := p.run(ctx, table, result)
	result.Elapsed = time.Since(start)
	p.complete(ctx, result, err)

	if err != nil {
		p.emit(ProgressEvent{Step: StepRunFailed, Message: err.Error()})
		return result, err
	}

	p.emit(ProgressEvent{
		Step:    StepRunCompleted,
		Message: fmt.Sprintf("Archived %d receipts", result.Manifest.Len()),
		Content: result.Archive,
	})
	if p.opts.Verbose {
		p.printer.PrintRunSummary(p.summary(result))
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, table *orders.Table, result *RunResult) error {
	p.step("Step 1/3: Opening order page...")
	if err := p.openOrderPage(ctx, result); err != nil {
		return err
	}

	p.step("Step 2/3: Submitting %d orders...", table.Len())
	for i, row := range table.All() {
		if err := p.submit(ctx, i, table.Len(), row, result); err != nil {
			return err
		}
	}

	p.step("Step 3/3: Archiving %d receipts...", result.Manifest.Len())
	archived, err := p.opts.Archive(result.Manifest, p.opts.ArchivePath)
	if err != nil {
		return fmt.Errorf("archiving receipts failed: %w", err)
	}
	result.Archive = archived
	p.emit(ProgressEvent{Step: StepArchive, Message: fmt.Sprintf("Wrote %s", archived.Path), Content: archived})
	return nil
}

func (p *Pipeline) openOrderPage(ctx context.Context, result *RunResult) error {
	if err := p.form.Open(ctx); err != nil {
		return fmt.Errorf("opening order page failed: %w", err)
	}
	return p.dismissModal(ctx, result)
}

// dismissModal clicks the confirm button until the modal is gone. Running out
// of attempts is logged and tolerated.
func (p *Pipeline) dismissModal(ctx context.Context, result *RunResult) error {
	res, err := p.waiter.Do(ctx, "modal dismissed", p.form.ConfirmModal, p.form.ModalDismissed)
	if err != nil {
		return fmt.Errorf("dismissing modal failed: %w", err)
	}
	if !res.Succeeded() {
		result.ModalTimeouts++
		p.logger.Warn("modal still present, continuing", zap.Int("attempts", res.Attempts))
		p.emit(ProgressEvent{Step: StepModal, Message: "Modal still present after retries"})
	}
	return nil
}

func (p *Pipeline) submit(ctx context.Context, index, total int, row types.OrderRow, result *RunResult) error {
	logger := p.logger.With(zap.Int("row", row.Number))
	p.step("  [%d/%d] %s", index+1, total, row)
	p.emit(ProgressEvent{Step: StepOrderStarted, Row: row.Number, Message: row.String()})

	if err := p.form.Fill(ctx, row); err != nil {
		return &RowError{Row: row.Number, Stage: "fill", Cause: err}
	}
	if err := p.form.Preview(ctx); err != nil {
		return &RowError{Row: row.Number, Stage: "preview", Cause: err}
	}

	res, err := p.waiter.Do(ctx, "receipt visible", p.form.Submit, p.form.ReceiptVisible)
	if err != nil {
		return &RowError{Row: row.Number, Stage: "submit", Cause: err}
	}

	if !res.Succeeded() {
		result.TimedOutRows = append(result.TimedOutRows, row.Number)
		logger.Warn("receipt never appeared", zap.Int("attempts", res.Attempts))
		p.step("        receipt did not appear in time, skipping")
		p.emit(ProgressEvent{Step: StepReceiptTimeout, Row: row.Number, Message: "Receipt did not appear in time"})

		// No receipt means no "order another" button; reload the page instead.
		if err := p.openOrderPage(ctx, result); err != nil {
			return &RowError{Row: row.Number, Stage: "reload", Cause: err}
		}
		return nil
	}

	if err := p.saveReceipt(ctx, row, result, logger); err != nil {
		return err
	}

	if err := p.form.OrderAnother(ctx); err != nil {
		return &RowError{Row: row.Number, Stage: "order another", Cause: err}
	}
	if err := p.dismissModal(ctx, result); err != nil {
		return &RowError{Row: row.Number, Stage: "modal", Cause: err}
	}
	return nil
}

func (p *Pipeline) saveReceipt(ctx context.Context, row types.OrderRow, result *RunResult, logger *zap.Logger) error {
	orderID, err := p.form.OrderID(ctx)
	if err != nil {
		return &RowError{Row: row.Number, Stage: "read order id", Cause: err}
	}
	if result.Manifest.Has(orderID) {
		return &DuplicateOrderError{OrderID: orderID, Row: row.Number}
	}
	stem, err := receipts.FileStem(orderID)
	if err != nil {
		return &RowError{Row: row.Number, Stage: "compose receipt", Cause: err}
	}
	if existing, ok := p.stems[stem]; ok {
		return &FileNameCollisionError{OrderID: orderID, Existing: existing, Stem: stem, Row: row.Number}
	}

	artifact, err := p.composer.Compose(ctx, orderID, row.Number, p.form)
	if err != nil {
		return &RowError{Row: row.Number, Stage: "compose receipt", Cause: err}
	}
	result.Manifest.Add(artifact)
	p.stems[stem] = orderID

	logger.Info("receipt saved", zap.String("order_id", orderID), zap.String("pdf", artifact.PDFPath))
	p.step("        receipt %s saved", orderID)
	p.emit(ProgressEvent{Step: StepReceiptSaved, Row: row.Number, OrderID: orderID, Message: artifact.PDFPath, Content: artifact})

	if p.opts.Ledger != nil {
		if err := p.opts.Ledger.SaveReceipt(ctx, p.opts.RunID, artifact); err != nil {
			logger.Warn("failed to record receipt", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) complete(ctx context.Context, result *RunResult, runErr error) {
	if p.opts.Ledger == nil {
		return
	}
	summary := db.RunSummary{
		Status:   db.RunStatusCompleted,
		Rows:     result.Rows,
		Receipts: result.Manifest.Len(),
		TimedOut: len(result.TimedOutRows),
	}
	if result.Archive != nil {
		summary.ArchivePath = result.Archive.Path
	}
	if runErr != nil {
		summary.Status = db.RunStatusFailed
		summary.Error = runErr.Error()
	}
	// Written even when the run context was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.opts.Ledger.CompleteRun(ctx, p.opts.RunID, summary); err != nil {
		p.logger.Warn("failed to complete run record", zap.Error(err))
	}
}

func (p *Pipeline) summary(result *RunResult) observability.RunSummary {
	s := observability.RunSummary{
		RunID:         result.RunID.String(),
		Rows:          result.Rows,
		TimedOutRows:  result.TimedOutRows,
		ModalTimeouts: result.ModalTimeouts,
		Elapsed:       result.Elapsed,
	}
	for _, a := range result.Manifest.Artifacts {
		s.OrderIDs = append(s.OrderIDs, a.OrderID)
	}
	if result.Archive != nil {
		s.ArchivePath = result.Archive.Path
	}
	return s
}

//nolint:errcheck // progress lines are best effort
func (p *Pipeline) step(format string, args ...any) {
	fmt.Fprintf(p.opts.Out, format+"\n", args...)
}
