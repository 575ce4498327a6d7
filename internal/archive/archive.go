// Package archive bundles the receipts of a run into a single zip file.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/order-robot/internal/types"
)

// DefaultName is the archive file name inside the output directory.
const DefaultName = "receipts_archive.zip"

// Error represents a failure writing the archive.
type Error struct {
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("archive error for %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("archive error for %s: %s", e.Path, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Archive writes a zip at dest holding exactly the PDFs of manifest, in
// manifest order, each stored under its base name. An empty manifest yields a
// valid archive with no entries. The file is replaced atomically.
func Archive(manifest *types.Manifest, dest string) (*types.ArchiveResult, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, &Error{Path: dest, Message: "failed to create output directory", Cause: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return nil, &Error{Path: dest, Message: "failed to create temp file", Cause: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	zw := zip.NewWriter(tmp)
	result := &types.ArchiveResult{Path: dest, Entries: []string{}}
	seen := make(map[string]bool)

	var artifacts []types.ReceiptArtifact
	if manifest != nil {
		artifacts = manifest.Artifacts
	}
	for _, artifact := range artifacts {
		name := filepath.Base(artifact.PDFPath)
		if seen[name] {
			cleanup()
			return nil, &Error{Path: dest, Message: fmt.Sprintf("duplicate entry %s", name)}
		}
		seen[name] = true

		if err := addFile(zw, artifact.PDFPath, name, artifact.CreatedAt); err != nil {
			cleanup()
			return nil, &Error{Path: dest, Message: fmt.Sprintf("failed to add %s", name), Cause: err}
		}
		result.Entries = append(result.Entries, name)
	}

	if err := zw.Close(); err != nil {
		cleanup()
		return nil, &Error{Path: dest, Message: "failed to finish archive", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, &Error{Path: dest, Message: "failed to close archive", Cause: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return nil, &Error{Path: dest, Message: "failed to move archive into place", Cause: err}
	}

	return result, nil
}

func addFile(zw *zip.Writer, path, name string, modified time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !modified.IsZero() {
		header.Modified = modified
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// ManifestFromDir builds a manifest from every PDF in dir, sorted by name.
// It is meant for rebuilding an archive outside a run; a run archives its own
// manifest so leftovers from earlier runs are never picked up.
func ManifestFromDir(dir string) (*types.Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Path: dir, Message: "failed to list receipts", Cause: err}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	manifest := &types.Manifest{}
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return nil, &Error{Path: dir, Message: "failed to stat " + name, Cause: err}
		}
		manifest.Add(types.ReceiptArtifact{
			OrderID:   strings.TrimSuffix(name, filepath.Ext(name)),
			PDFPath:   filepath.Join(dir, name),
			CreatedAt: info.ModTime(),
		})
	}
	return manifest, nil
}
