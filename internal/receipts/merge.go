package receipts

import (
	"fmt"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultWatermark places the screenshot at the bottom centre of every page.
const DefaultWatermark = "pos:bc, scalefactor:0.4, rotation:0, opacity:1, offset:0 40"

var disableConfigDir sync.Once

// WatermarkMerger stamps an image onto a PDF with pdfcpu.
type WatermarkMerger struct {
	Description string
	OnTop       bool
}

// NewWatermarkMerger returns a merger using DefaultWatermark, stamped above the page content.
func NewWatermarkMerger() *WatermarkMerger {
	return &WatermarkMerger{Description: DefaultWatermark, OnTop: true}
}

// Merge embeds imagePath into pdfPath in place.
func (m *WatermarkMerger) Merge(pdfPath, imagePath string) error {
	disableConfigDir.Do(api.DisableConfigDir)

	desc := m.Description
	if desc == "" {
		desc = DefaultWatermark
	}

	tmp := pdfPath + ".merging"
	if err := api.AddImageWatermarksFile(pdfPath, tmp, nil, m.OnTop, imagePath, desc, nil); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to add image watermark: %w", err)
	}
	if err := os.Rename(tmp, pdfPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace receipt: %w", err)
	}
	return nil
}
