package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderRow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		row     OrderRow
		wantErr bool
	}{
		{name: "valid", row: OrderRow{Number: 1, Head: "1", Body: "2", Legs: "3", Address: "Address 123"}},
		{name: "missing address", row: OrderRow{Head: "1", Body: "2", Legs: "3"}, wantErr: true},
		{name: "non-numeric head", row: OrderRow{Head: "x", Body: "2", Legs: "3", Address: "a"}, wantErr: true},
		{name: "missing legs", row: OrderRow{Head: "1", Body: "2", Address: "a"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.row.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrderRow_String(t *testing.T) {
	row := OrderRow{Number: 4, Head: "1", Body: "2", Legs: "5", Address: "x"}
	assert.Equal(t, "order #4 (head=1 body=2 legs=5)", row.String())
}

func TestManifest_AddRejectsDuplicates(t *testing.T) {
	var m Manifest
	assert.True(t, m.Add(ReceiptArtifact{OrderID: "A", Row: 1}))
	assert.True(t, m.Add(ReceiptArtifact{OrderID: "B", Row: 2}))
	assert.False(t, m.Add(ReceiptArtifact{OrderID: "A", Row: 3}))

	require.Equal(t, 2, m.Len())
	assert.True(t, m.Has("B"))
	assert.False(t, m.Has("C"))
	assert.Equal(t, 1, m.Artifacts[0].Row)
}

func TestManifest_AddAfterLiteral(t *testing.T) {
	m := Manifest{Artifacts: []ReceiptArtifact{{OrderID: "A"}}}
	assert.False(t, m.Add(ReceiptArtifact{OrderID: "A"}))
	assert.True(t, m.Add(ReceiptArtifact{OrderID: "B"}))
	assert.Equal(t, 2, m.Len())
}
