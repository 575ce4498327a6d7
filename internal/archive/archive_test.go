package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/order-robot/internal/types"
)

func writePDF(t *testing.T, dir, id string) types.ReceiptArtifact {
	t.Helper()
	path := filepath.Join(dir, id+".pdf")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF "+id), 0o644))
	return types.ReceiptArtifact{OrderID: id, PDFPath: path, CreatedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	out := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func TestArchive_ManifestOnly(t *testing.T) {
	dir := t.TempDir()
	receipts := filepath.Join(dir, "receipts")

	manifest := &types.Manifest{}
	manifest.Add(writePDF(t, receipts, "ORDER-A"))
	manifest.Add(writePDF(t, receipts, "ORDER-B"))
	writePDF(t, receipts, "STALE-FROM-LAST-RUN")

	dest := filepath.Join(dir, DefaultName)
	result, err := Archive(manifest, dest)
	require.NoError(t, err)

	assert.Equal(t, dest, result.Path)
	assert.Equal(t, []string{"ORDER-A.pdf", "ORDER-B.pdf"}, result.Entries)

	entries := readZip(t, dest)
	assert.Equal(t, map[string]string{
		"ORDER-A.pdf": "%PDF ORDER-A",
		"ORDER-B.pdf": "%PDF ORDER-B",
	}, entries)
}

func TestArchive_EmptyManifest(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", DefaultName)

	result, err := Archive(&types.Manifest{}, dest)
	require.NoError(t, err)
	assert.Empty(t, result.Entries)

	assert.Empty(t, readZip(t, dest))
}

func TestArchive_NilManifest(t *testing.T) {
	dest := filepath.Join(t.TempDir(), DefaultName)

	result, err := Archive(nil, dest)
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
}

func TestArchive_MissingFileLeavesNoArchive(t *testing.T) {
	dir := t.TempDir()
	manifest := &types.Manifest{}
	manifest.Add(types.ReceiptArtifact{OrderID: "GONE", PDFPath: filepath.Join(dir, "GONE.pdf")})

	dest := filepath.Join(dir, DefaultName)
	_, err := Archive(manifest, dest)
	require.Error(t, err)

	var archiveErr *Error
	assert.ErrorAs(t, err, &archiveErr)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.part"))
	assert.Empty(t, leftovers)
}

func TestArchive_ReplacesPreviousArchive(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, DefaultName)
	require.NoError(t, os.WriteFile(dest, []byte("not a zip"), 0o644))

	manifest := &types.Manifest{}
	manifest.Add(writePDF(t, dir, "ORDER-C"))

	_, err := Archive(manifest, dest)
	require.NoError(t, err)
	assert.Len(t, readZip(t, dest), 1)
}

func TestManifestFromDir(t *testing.T) {
	dir := t.TempDir()
	writePDF(t, dir, "B")
	writePDF(t, dir, "A")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	manifest, err := ManifestFromDir(dir)
	require.NoError(t, err)
	require.Equal(t, 2, manifest.Len())
	assert.Equal(t, "A", manifest.Artifacts[0].OrderID)
	assert.Equal(t, "B", manifest.Artifacts[1].OrderID)
}

func TestManifestFromDir_Missing(t *testing.T) {
	_, err := ManifestFromDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
