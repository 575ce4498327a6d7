// Package browser drives the robot order form in a headless Chrome.
//
// Two backends are available: chromedp (default) and go-rod. Both expose the
// same Session surface so the pipeline does not care which one is running.
package browser

import (
	"fmt"
	"time"
)

// Driver names.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// DefaultOrderURL is the robot order page.
const DefaultOrderURL = "https://robotsparebinindustries.com/#/robot-order"

// DefaultActionTimeout bounds a single click, fill or read.
const DefaultActionTimeout = 30 * time.Second

// Selectors locate the elements of the order page. Values starting with "/"
// are XPath expressions, everything else is CSS.
type Selectors struct {
	ModalConfirm   string `json:"modal_confirm" yaml:"modal_confirm"`
	ModalMarker    string `json:"modal_marker" yaml:"modal_marker"`
	Head           string `json:"head" yaml:"head"`
	BodyPattern    string `json:"body_pattern" yaml:"body_pattern"` // fmt pattern taking the body id
	Legs           string `json:"legs" yaml:"legs"`
	Address        string `json:"address" yaml:"address"`
	Preview        string `json:"preview" yaml:"preview"`
	Order          string `json:"order" yaml:"order"`
	ReceiptHeading string `json:"receipt_heading" yaml:"receipt_heading"`
	Receipt        string `json:"receipt" yaml:"receipt"`
	Badge          string `json:"badge" yaml:"badge"`
	PreviewImage   string `json:"preview_image" yaml:"preview_image"`
	OrderAnother   string `json:"order_another" yaml:"order_another"`
}

// DefaultSelectors returns the selectors of the RobotSpareBin order page.
func DefaultSelectors() Selectors {
	return Selectors{
		ModalConfirm:   `//button[normalize-space()="OK"]`,
		ModalMarker:    `//button[normalize-space()="I guess so..."]`,
		Head:           "#head",
		BodyPattern:    "#id-body-%s",
		Legs:           `input[placeholder="Enter the part number for the legs"]`,
		Address:        "#address",
		Preview:        "#preview",
		Order:          "#order",
		ReceiptHeading: `//div[@id="receipt"]/h3[normalize-space()="Receipt"]`,
		Receipt:        "#receipt",
		Badge:          "p.badge",
		PreviewImage:   "#robot-preview-image",
		OrderAnother:   "#order-another",
	}
}

// MergeWithDefaults fills empty selectors from the defaults.
func (s Selectors) MergeWithDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.ModalConfirm, d.ModalConfirm)
	fill(&s.ModalMarker, d.ModalMarker)
	fill(&s.Head, d.Head)
	fill(&s.BodyPattern, d.BodyPattern)
	fill(&s.Legs, d.Legs)
	fill(&s.Address, d.Address)
	fill(&s.Preview, d.Preview)
	fill(&s.Order, d.Order)
	fill(&s.ReceiptHeading, d.ReceiptHeading)
	fill(&s.Receipt, d.Receipt)
	fill(&s.Badge, d.Badge)
	fill(&s.PreviewImage, d.PreviewImage)
	fill(&s.OrderAnother, d.OrderAnother)
	return s
}

// Body returns the selector of the body radio for id.
func (s Selectors) Body(id string) string {
	return fmt.Sprintf(s.BodyPattern, id)
}

// Options configures a browser session.
type Options struct {
	Driver        string
	OrderURL      string
	Headless      bool
	ExecPath      string // Chrome binary; empty means auto-detect
	ActionTimeout time.Duration
	Selectors     Selectors
}

// DefaultOptions returns headless chromedp settings for the order page.
func DefaultOptions() Options {
	return Options{
		Driver:        DriverChromedp,
		OrderURL:      DefaultOrderURL,
		Headless:      true,
		ActionTimeout: DefaultActionTimeout,
		Selectors:     DefaultSelectors(),
	}
}

func (o Options) normalized() Options {
	if o.Driver == "" {
		o.Driver = DriverChromedp
	}
	if o.OrderURL == "" {
		o.OrderURL = DefaultOrderURL
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	o.Selectors = o.Selectors.MergeWithDefaults()
	return o
}

func isXPath(selector string) bool {
	return len(selector) > 0 && (selector[0] == '/' || selector[0] == '(')
}
