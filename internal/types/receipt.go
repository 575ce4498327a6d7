package types

import "time"

// ReceiptArtifact is the PDF and screenshot pair produced for a submitted order.
type ReceiptArtifact struct {
	OrderID        string    `json:"order_id"`
	Row            int       `json:"row"`
	PDFPath        string    `json:"pdf_path"`
	ScreenshotPath string    `json:"screenshot_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manifest is the ordered list of artifacts produced during one run.
// The archiver bundles exactly these artifacts and nothing else.
type Manifest struct {
	Artifacts []ReceiptArtifact `json:"artifacts"`
	index     map[string]int
}

// Add records an artifact. It reports false when the order id is already present.
func (m *Manifest) Add(a ReceiptArtifact) bool {
	if m.index == nil {
		m.index = make(map[string]int, len(m.Artifacts))
		for i, existing := range m.Artifacts {
			m.index[existing.OrderID] = i
		}
	}
	if _, ok := m.index[a.OrderID]; ok {
		return false
	}
	m.index[a.OrderID] = len(m.Artifacts)
	m.Artifacts = append(m.Artifacts, a)
	return true
}

// Has reports whether the manifest already holds an artifact for orderID.
func (m *Manifest) Has(orderID string) bool {
	for _, a := range m.Artifacts {
		if a.OrderID == orderID {
			return true
		}
	}
	return false
}

// Len returns the number of artifacts.
func (m *Manifest) Len() int {
	return len(m.Artifacts)
}

// ArchiveResult describes the compressed bundle written at the end of a run.
type ArchiveResult struct {
	Path    string   `json:"path"`
	Entries []string `json:"entries"`
}
