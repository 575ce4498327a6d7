package browser

import (
	"encoding/json"
	"fmt"
)

// visibilityFunc resolves a CSS or XPath selector and reports whether its
// visibility equals want. Used with polling so a check resolves as soon as
// the page settles.
const visibilityFunc = `function(sel, want) {
	const el = (sel.startsWith("/") || sel.startsWith("("))
		? document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(sel);
	const visible = !!el && !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	return visible === want;
}`

// selectScript sets a <select> value the way a user would, so that
// framework change listeners fire.
func selectScript(selector, value string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", err
	}
	val, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { return false; }
	const setter = Object.getOwnPropertyDescriptor(HTMLSelectElement.prototype, "value").set;
	setter.call(el, %s);
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return el.value === %s;
})()`, sel, val, val), nil
}
