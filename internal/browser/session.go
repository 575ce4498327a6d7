package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/types"
)

// Session is a live order page plus a renderer for receipt PDFs.
type Session interface {
	// Open navigates to the order page.
	Open(ctx context.Context) error
	// ConfirmModal clicks the modal's confirm button.
	ConfirmModal(ctx context.Context) error
	// ModalDismissed reports whether the modal is gone.
	ModalDismissed(ctx context.Context) (bool, error)
	// Fill enters an order into the form.
	Fill(ctx context.Context, row types.OrderRow) error
	// Preview renders the robot preview.
	Preview(ctx context.Context) error
	// Submit clicks the order button.
	Submit(ctx context.Context) error
	// ReceiptVisible reports whether the receipt heading is shown.
	ReceiptVisible(ctx context.Context) (bool, error)
	// OrderID reads the badge of the confirmed order.
	OrderID(ctx context.Context) (string, error)
	// ReceiptHTML returns the markup of the receipt view.
	ReceiptHTML(ctx context.Context) (string, error)
	// PreviewScreenshot captures the robot preview as PNG.
	PreviewScreenshot(ctx context.Context) ([]byte, error)
	// OrderAnother starts a new order.
	OrderAnother(ctx context.Context) error
	// RenderPDF prints a standalone HTML document to PDF.
	RenderPDF(ctx context.Context, html string) ([]byte, error)
	// Close releases the browser.
	Close() error
}

// Launch starts a browser session using the configured driver.
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (Session, error) {
	opts = opts.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Driver {
	case DriverChromedp:
		return NewChromeSession(ctx, opts, logger)
	case DriverRod:
		return NewRodSession(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("unknown browser driver %q (want %q or %q)", opts.Driver, DriverChromedp, DriverRod)
	}
}
