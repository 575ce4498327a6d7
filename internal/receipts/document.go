package receipts

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const printStyle = `<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12pt; margin: 2cm; }
.badge { display: inline-block; padding: 2px 8px; border: 1px solid #333; border-radius: 4px; }
img { display: none; }
</style>`

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileStem turns an order id into a file name stem.
func FileStem(orderID string) (string, error) {
	stem := strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(orderID), "_"), "._")
	if stem == "" {
		return "", fmt.Errorf("order id %q has no usable characters", orderID)
	}
	return stem, nil
}

// PrintableDocument wraps the receipt fragment into a standalone HTML page
// suitable for printing. Scripts and interactive controls are dropped.
func PrintableDocument(fragment, orderID string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<!DOCTYPE html><html><head></head><body><div id=\"receipt\">" + fragment + "</div></body></html>"))
	if err != nil {
		return "", fmt.Errorf("failed to parse receipt HTML: %w", err)
	}

	doc.Find("script, noscript, iframe, button, form").Remove()
	if strings.TrimSpace(doc.Find("#receipt").Text()) == "" {
		return "", fmt.Errorf("receipt markup is empty")
	}

	doc.Find("head").AppendHtml(fmt.Sprintf(`<meta charset="utf-8"><title>%s</title>%s`,
		html.EscapeString(orderID), printStyle))

	out, err := goquery.OuterHtml(doc.Find("html"))
	if err != nil {
		return "", fmt.Errorf("failed to serialize receipt HTML: %w", err)
	}
	return "<!DOCTYPE html>" + out, nil
}
