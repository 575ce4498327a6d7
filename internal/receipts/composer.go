package receipts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/order-robot/internal/types"
)

// View is the confirmed order as shown in the browser.
type View interface {
	ReceiptHTML(ctx context.Context) (string, error)
	PreviewScreenshot(ctx context.Context) ([]byte, error)
}

// PDFRenderer prints a standalone HTML document to PDF.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Merger embeds an image into an existing PDF file in place.
type Merger interface {
	Merge(pdfPath, imagePath string) error
}

// Composer writes the receipt PDF and screenshot of an order and merges them.
type Composer struct {
	ReceiptsDir    string
	ScreenshotsDir string

	renderer PDFRenderer
	merger   Merger
	logger   *zap.Logger
	now      func() time.Time
}

// NewComposer creates a composer writing below the two directories.
func NewComposer(receiptsDir, screenshotsDir string, renderer PDFRenderer, merger Merger, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if merger == nil {
		merger = NewWatermarkMerger()
	}
	return &Composer{
		ReceiptsDir:    receiptsDir,
		ScreenshotsDir: screenshotsDir,
		renderer:       renderer,
		merger:         merger,
		logger:         logger,
		now:            time.Now,
	}
}

// Paths returns where the artifacts of orderID are written.
func (c *Composer) Paths(orderID string) (pdfPath, screenshotPath string, err error) {
	stem, err := FileStem(orderID)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(c.ReceiptsDir, stem+".pdf"), filepath.Join(c.ScreenshotsDir, stem+".png"), nil
}

// Compose produces the final receipt for orderID from view.
// Any failure is fatal for the order and is not retried.
func (c *Composer) Compose(ctx context.Context, orderID string, row int, view View) (types.ReceiptArtifact, error) {
	pdfPath, screenshotPath, err := c.Paths(orderID)
	if err != nil {
		return types.ReceiptArtifact{}, &RenderError{OrderID: orderID, Message: "invalid order id", Cause: err}
	}

	if err := c.storeReceiptPDF(ctx, orderID, pdfPath, view); err != nil {
		return types.ReceiptArtifact{}, err
	}
	if err := c.storeScreenshot(ctx, orderID, screenshotPath, view); err != nil {
		return types.ReceiptArtifact{}, err
	}
	if err := c.merger.Merge(pdfPath, screenshotPath); err != nil {
		return types.ReceiptArtifact{}, &MergeError{OrderID: orderID, Message: "failed to embed screenshot", Cause: err}
	}

	c.logger.Info("receipt stored",
		zap.String("order_id", orderID),
		zap.String("pdf", pdfPath),
		zap.String("screenshot", screenshotPath))

	return types.ReceiptArtifact{
		OrderID:        orderID,
		Row:            row,
		PDFPath:        pdfPath,
		ScreenshotPath: screenshotPath,
		CreatedAt:      c.now(),
	}, nil
}

func (c *Composer) storeReceiptPDF(ctx context.Context, orderID, path string, view View) error {
	fragment, err := view.ReceiptHTML(ctx)
	if err != nil {
		return &RenderError{OrderID: orderID, Message: "failed to read receipt markup", Cause: err}
	}
	doc, err := PrintableDocument(fragment, orderID)
	if err != nil {
		return &RenderError{OrderID: orderID, Message: "failed to build printable receipt", Cause: err}
	}
	pdf, err := c.renderer.RenderPDF(ctx, doc)
	if err != nil {
		return &RenderError{OrderID: orderID, Message: "HTML to PDF conversion failed", Cause: err}
	}
	if len(pdf) == 0 {
		return &RenderError{OrderID: orderID, Message: "renderer returned an empty PDF"}
	}
	if err := writeFile(path, pdf); err != nil {
		return &RenderError{OrderID: orderID, Message: "failed to write PDF", Cause: err}
	}
	return nil
}

func (c *Composer) storeScreenshot(ctx context.Context, orderID, path string, view View) error {
	png, err := view.PreviewScreenshot(ctx)
	if err != nil {
		return &CaptureError{OrderID: orderID, Message: "preview region not captured", Cause: err}
	}
	if len(png) == 0 {
		return &CaptureError{OrderID: orderID, Message: "empty screenshot"}
	}
	if err := writeFile(path, png); err != nil {
		return &CaptureError{OrderID: orderID, Message: "failed to write screenshot", Cause: err}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
