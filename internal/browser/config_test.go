package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSelectors(t *testing.T) {
	sel := DefaultSelectors()

	assert.Equal(t, "#id-body-3", sel.Body("3"))
	assert.True(t, isXPath(sel.ModalConfirm))
	assert.True(t, isXPath(sel.ReceiptHeading))
	assert.False(t, isXPath(sel.Head))
}

func TestSelectors_MergeWithDefaults(t *testing.T) {
	custom := Selectors{Head: "select[name=head]"}
	merged := custom.MergeWithDefaults()

	assert.Equal(t, "select[name=head]", merged.Head)
	assert.Equal(t, DefaultSelectors().Order, merged.Order)
	assert.Equal(t, DefaultSelectors().BodyPattern, merged.BodyPattern)
}

func TestOptions_Normalized(t *testing.T) {
	opts := Options{}.normalized()

	assert.Equal(t, DriverChromedp, opts.Driver)
	assert.Equal(t, DefaultOrderURL, opts.OrderURL)
	assert.Equal(t, DefaultActionTimeout, opts.ActionTimeout)
	assert.Equal(t, DefaultSelectors(), opts.Selectors)
}

func TestOptions_NormalizedKeepsValues(t *testing.T) {
	opts := Options{Driver: DriverRod, ActionTimeout: time.Second}.normalized()

	assert.Equal(t, DriverRod, opts.Driver)
	assert.Equal(t, time.Second, opts.ActionTimeout)
}

func TestLaunch_UnknownDriver(t *testing.T) {
	s, err := Launch(context.Background(), Options{Driver: "selenium"}, nil)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "unknown browser driver")
}

func TestSelectScript_QuotesArguments(t *testing.T) {
	script, err := selectScript(`#head`, `1"); alert("x`)
	require.NoError(t, err)

	assert.Contains(t, script, `document.querySelector("#head")`)
	assert.Contains(t, script, `"1\"); alert(\"x"`)
	assert.Contains(t, script, `dispatchEvent(new Event("change"`)
}

func TestIsXPath(t *testing.T) {
	assert.True(t, isXPath("//button"))
	assert.True(t, isXPath("(//button)[1]"))
	assert.False(t, isXPath("button.ok"))
	assert.False(t, isXPath(""))
}
