package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/types"
)

// ChromeSession drives the order page through chromedp.
type ChromeSession struct {
	opts   Options
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewChromeSession starts a Chrome instance and opens a tab.
// Requires Chrome/Chromium to be installed on the system.
func NewChromeSession(ctx context.Context, opts Options, logger *zap.Logger) (*ChromeSession, error) {
	opts = opts.normalized()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 1024),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives individual calls, so it hangs off a detached context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// First Run starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	logger.Info("browser started", zap.String("driver", DriverChromedp), zap.Bool("headless", opts.Headless))

	return &ChromeSession{
		opts:        opts,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// run executes actions on the tab, bounded by ctx and timeout.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func by(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *ChromeSession) click(ctx context.Context, selector string) error {
	return s.run(ctx, s.opts.ActionTimeout, chromedp.Click(selector, by(selector), chromedp.NodeVisible))
}

// pollVisibility waits until the visibility of selector equals want. The wait
// ends with ctx; a deadline surfaces as context.DeadlineExceeded.
func (s *ChromeSession) pollVisibility(ctx context.Context, selector string, want bool) (bool, error) {
	var ok bool
	err := s.run(ctx, 0, chromedp.PollFunction(visibilityFunc, &ok,
		chromedp.WithPollingArgs(selector, want),
		chromedp.WithPollingInterval(50*time.Millisecond),
	))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Open navigates to the order page.
func (s *ChromeSession) Open(ctx context.Context) error {
	s.logger.Info("opening order page", zap.String("url", s.opts.OrderURL))
	return s.run(ctx, s.opts.ActionTimeout,
		chromedp.Navigate(s.opts.OrderURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// ConfirmModal clicks the modal's confirm button.
func (s *ChromeSession) ConfirmModal(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.ModalConfirm)
}

// ModalDismissed reports whether the modal is gone.
func (s *ChromeSession) ModalDismissed(ctx context.Context) (bool, error) {
	return s.pollVisibility(ctx, s.opts.Selectors.ModalMarker, false)
}

// Fill enters an order into the form.
func (s *ChromeSession) Fill(ctx context.Context, row types.OrderRow) error {
	sel := s.opts.Selectors
	script, err := selectScript(sel.Head, row.Head)
	if err != nil {
		return err
	}

	var selected bool
	err = s.run(ctx, s.opts.ActionTimeout,
		chromedp.WaitVisible(sel.Head, by(sel.Head)),
		chromedp.Evaluate(script, &selected),
		chromedp.Click(sel.Body(row.Body), by(sel.Body(row.Body)), chromedp.NodeVisible),
		chromedp.SendKeys(sel.Legs, row.Legs, by(sel.Legs)),
		chromedp.SendKeys(sel.Address, row.Address, by(sel.Address)),
	)
	if err != nil {
		return fmt.Errorf("failed to fill %s: %w", row, err)
	}
	if !selected {
		return fmt.Errorf("failed to fill %s: head option %q not available", row, row.Head)
	}
	return nil
}

// Preview renders the robot preview.
func (s *ChromeSession) Preview(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.Preview)
}

// Submit clicks the order button.
func (s *ChromeSession) Submit(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.Order)
}

// ReceiptVisible reports whether the receipt heading is shown.
func (s *ChromeSession) ReceiptVisible(ctx context.Context) (bool, error) {
	return s.pollVisibility(ctx, s.opts.Selectors.ReceiptHeading, true)
}

// OrderID reads the badge of the confirmed order.
func (s *ChromeSession) OrderID(ctx context.Context) (string, error) {
	var text string
	sel := s.opts.Selectors.Badge
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.Text(sel, &text, by(sel), chromedp.NodeVisible)); err != nil {
		return "", fmt.Errorf("failed to read order badge: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ReceiptHTML returns the markup of the receipt view.
func (s *ChromeSession) ReceiptHTML(ctx context.Context) (string, error) {
	var html string
	sel := s.opts.Selectors.Receipt
	if err := s.run(ctx, s.opts.ActionTimeout, chromedp.InnerHTML(sel, &html, by(sel))); err != nil {
		return "", err
	}
	return html, nil
}

// PreviewScreenshot captures the robot preview as PNG.
func (s *ChromeSession) PreviewScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	sel := s.opts.Selectors.PreviewImage
	if err := s.run(ctx, s.opts.ActionTimeout,
		chromedp.WaitVisible(sel, by(sel)),
		chromedp.Screenshot(sel, &buf, by(sel), chromedp.NodeVisible),
	); err != nil {
		return nil, err
	}
	return buf, nil
}

// OrderAnother starts a new order.
func (s *ChromeSession) OrderAnother(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.OrderAnother)
}

// RenderPDF prints html to PDF in a scratch tab of the same browser.
func (s *ChromeSession) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	scratchCtx, closeTab := chromedp.NewContext(s.tabCtx)
	defer closeTab()
	// Allocate the tab on the undecorated context; a cancelled child would close it.
	if err := chromedp.Run(scratchCtx); err != nil {
		return nil, fmt.Errorf("failed to open scratch tab: %w", err)
	}

	var pdf []byte
	err := s.runIn(ctx, scratchCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// runIn is run against an explicit chromedp context.
func (s *ChromeSession) runIn(ctx, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(target, s.opts.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close shuts the browser down.
func (s *ChromeSession) Close() error {
	s.tabCancel()
	s.allocCancel()
	s.logger.Debug("browser closed", zap.String("driver", DriverChromedp))
	return nil
}
