package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/types"
)

// RodSession drives the order page through go-rod.
type RodSession struct {
	opts     Options
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewRodSession launches Chrome through the rod launcher and opens a blank page.
func NewRodSession(ctx context.Context, opts Options, logger *zap.Logger) (*RodSession, error) {
	opts = opts.normalized()

	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		NoSandbox(true)
	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	logger.Info("browser started", zap.String("driver", DriverRod), zap.Bool("headless", opts.Headless))

	return &RodSession{opts: opts, logger: logger, launcher: l, browser: b, page: p}, nil
}

// bound returns the page bound to ctx with an optional extra timeout.
func (s *RodSession) bound(ctx context.Context, timeout time.Duration) *rod.Page {
	p := s.page.Context(ctx)
	if timeout > 0 {
		p = p.Timeout(timeout)
	}
	return p
}

func (s *RodSession) element(ctx context.Context, selector string) (*rod.Element, error) {
	p := s.bound(ctx, s.opts.ActionTimeout)
	if isXPath(selector) {
		return p.ElementX(selector)
	}
	return p.Element(selector)
}

func (s *RodSession) click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// waitVisibility polls until the visibility of selector equals want.
func (s *RodSession) waitVisibility(ctx context.Context, selector string, want bool) (bool, error) {
	p := s.bound(ctx, 0)
	for {
		res, err := p.Eval(visibilityFunc, selector, want)
		if err != nil {
			return false, err
		}
		if res.Value.Bool() {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Open navigates to the order page.
func (s *RodSession) Open(ctx context.Context) error {
	s.logger.Info("opening order page", zap.String("url", s.opts.OrderURL))
	p := s.bound(ctx, s.opts.ActionTimeout)
	if err := p.Navigate(s.opts.OrderURL); err != nil {
		return err
	}
	return p.WaitLoad()
}

// ConfirmModal clicks the modal's confirm button.
func (s *RodSession) ConfirmModal(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.ModalConfirm)
}

// ModalDismissed reports whether the modal is gone.
func (s *RodSession) ModalDismissed(ctx context.Context) (bool, error) {
	return s.waitVisibility(ctx, s.opts.Selectors.ModalMarker, false)
}

// Fill enters an order into the form.
func (s *RodSession) Fill(ctx context.Context, row types.OrderRow) error {
	sel := s.opts.Selectors

	head, err := s.element(ctx, sel.Head)
	if err != nil {
		return fmt.Errorf("failed to fill %s: %w", row, err)
	}
	if err := head.Select([]string{fmt.Sprintf(`[value="%s"]`, row.Head)}, true, rod.SelectorTypeCSSSector); err != nil {
		return fmt.Errorf("failed to fill %s: head option %q: %w", row, row.Head, err)
	}

	if err := s.click(ctx, sel.Body(row.Body)); err != nil {
		return fmt.Errorf("failed to fill %s: %w", row, err)
	}

	for _, field := range []struct{ selector, value string }{
		{sel.Legs, row.Legs},
		{sel.Address, row.Address},
	} {
		el, err := s.element(ctx, field.selector)
		if err != nil {
			return fmt.Errorf("failed to fill %s: %w", row, err)
		}
		if err := el.Input(field.value); err != nil {
			return fmt.Errorf("failed to fill %s: %w", row, err)
		}
	}
	return nil
}

// Preview renders the robot preview.
func (s *RodSession) Preview(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.Preview)
}

// Submit clicks the order button.
func (s *RodSession) Submit(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.Order)
}

// ReceiptVisible reports whether the receipt heading is shown.
func (s *RodSession) ReceiptVisible(ctx context.Context) (bool, error) {
	return s.waitVisibility(ctx, s.opts.Selectors.ReceiptHeading, true)
}

// OrderID reads the badge of the confirmed order.
func (s *RodSession) OrderID(ctx context.Context) (string, error) {
	el, err := s.element(ctx, s.opts.Selectors.Badge)
	if err != nil {
		return "", fmt.Errorf("failed to read order badge: %w", err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read order badge: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ReceiptHTML returns the markup of the receipt view.
func (s *RodSession) ReceiptHTML(ctx context.Context) (string, error) {
	el, err := s.element(ctx, s.opts.Selectors.Receipt)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(`() => this.innerHTML`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// PreviewScreenshot captures the robot preview as PNG.
func (s *RodSession) PreviewScreenshot(ctx context.Context) ([]byte, error) {
	el, err := s.element(ctx, s.opts.Selectors.PreviewImage)
	if err != nil {
		return nil, err
	}
	if err := el.WaitVisible(); err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

// OrderAnother starts a new order.
func (s *RodSession) OrderAnother(ctx context.Context) error {
	return s.click(ctx, s.opts.Selectors.OrderAnother)
}

// RenderPDF prints html to PDF in a scratch page.
func (s *RodSession) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	scratch, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch page: %w", err)
	}
	defer func() { _ = scratch.Close() }()

	p := scratch.Context(ctx).Timeout(s.opts.ActionTimeout)
	if err := p.SetDocumentContent(html); err != nil {
		return nil, err
	}
	stream, err := p.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, err
	}
	return io.ReadAll(stream)
}

// Close shuts the browser down.
func (s *RodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
