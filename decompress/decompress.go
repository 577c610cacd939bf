// Package decompress implements the Module Decompressor (§4.D): extracting
// a downloaded fragment ZIP and verifying the module.json hash it carries.
package decompress

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/hashtree"
	"github.com/flybywiresim/fragmenter/sink"
)

const osCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

func init() {
	// klauspost/compress/flate is a drop-in faster DEFLATE decompressor;
	// registering it here speeds up every archive/zip.Reader built in this
	// package without touching call sites.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// moduleManifest is the "{ hash }" shape written into a fragment's
// module.json (§4.D).
type moduleManifest struct {
	Hash string `json:"hash"`
}

// corruptionMarkers mirror ferrors.Classify's zip-specific substrings;
// archive/zip's own errors are plain strings, not typed, so they are
// matched here before falling through to the general classifier.
var corruptionMarkers = []string{
	"zip: not a valid zip file",
	"zip: checksum error",
	"unexpected EOF",
}

func reclassifyZipError(err error) error {
	msg := err.Error()
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return ferrors.New(ferrors.CorruptedZipFile, msg)
		}
	}
	return ferrors.Wrap(err, "open zip archive")
}

// Extract unpacks every entry in zipPath into destDir, emitting an
// UnzipProgress event per entry, then reads destDir/module.json and
// compares its hash to expectedHash.
func Extract(fsys afero.Fs, sinkOut sink.EventSink, moduleName, zipPath, destDir, expectedHash string) error {
	data, err := afero.ReadFile(fsys, zipPath)
	if err != nil {
		return ferrors.Wrap(err, "read "+zipPath)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return reclassifyZipError(err)
	}

	entryCount := len(reader.File)
	for i, entry := range reader.File {
		if err := extractEntry(fsys, destDir, entry); err != nil {
			return err
		}
		sinkOut.UnzipProgress(moduleName, sink.UnzipProgress{
			EntryIndex: i,
			EntryName:  entry.Name,
			EntryCount: entryCount,
		})
	}

	return verifyModuleJSON(fsys, destDir, expectedHash)
}

func extractEntry(fsys afero.Fs, destDir string, entry *zip.File) error {
	target := filepath.Join(destDir, filepath.FromSlash(entry.Name))

	if entry.FileInfo().IsDir() {
		if err := fsys.MkdirAll(target, 0o755); err != nil {
			return ferrors.Wrap(err, "mkdir "+target)
		}
		return nil
	}

	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ferrors.Wrap(err, "mkdir "+filepath.Dir(target))
	}

	src, err := entry.Open()
	if err != nil {
		return reclassifyZipError(err)
	}
	defer src.Close()

	dst, err := fsys.OpenFile(target, osCreateFlags, entry.Mode())
	if err != nil {
		return ferrors.Wrap(err, "create "+target)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return reclassifyZipError(err)
	}
	return dst.Close()
}

func verifyModuleJSON(fsys afero.Fs, destDir, expectedHash string) error {
	path := filepath.Join(destDir, hashtree.ModuleMetadataFile)
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return ferrors.New(ferrors.ModuleJsonInvalid, "missing module.json in "+destDir)
	}

	var m moduleManifest
	if err := json.Unmarshal(raw, &m); err != nil || m.Hash == "" {
		return ferrors.New(ferrors.ModuleJsonInvalid, "malformed module.json in "+destDir)
	}

	if m.Hash != expectedHash {
		return ferrors.New(ferrors.ModuleCrcMismatch, fmt.Sprintf("module.json hash %q does not match expected %q", m.Hash, expectedHash))
	}
	return nil
}
