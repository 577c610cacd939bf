// Package fragment implements the Module Downloader (§4.C): turning a
// DistributionManifest module plus a chosen alternative key into one
// downloaded (and, if split, reassembled) ZIP named "<moduleName>.zip".
package fragment

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/cancel"
	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/manifest"
	"github.com/flybywiresim/fragmenter/sink"
	"github.com/flybywiresim/fragmenter/transport"
)

// hashPrefixLen is how many hex characters of a hash the CDN URL decoration
// keeps (§4.C: "?moduleHash=<h[:8]>&fullHash=<fh[:8]>").
const hashPrefixLen = 8

const osCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// Request describes one module fetch.
type Request struct {
	BaseURL        string
	Module         manifest.Module
	ChosenKey      string // only meaningful for an AlternativesModule
	DestDir        string // directory the "<name>.zip" is written into
	RetryCount     int
	FullHash       string
	ForceCacheBust bool
}

// decorateURL appends the CDN cache-hinting query parameters. These are
// never parsed back by the client (§4.C).
func decorateURL(base string, moduleHash, fullHash string, retryCount int, forceCacheBust bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", ferrors.Wrap(err, "parse fragment URL "+base)
	}
	q := u.Query()
	q.Set("moduleHash", truncateHash(moduleHash))
	q.Set("fullHash", truncateHash(fullHash))
	if retryCount > 0 {
		q.Set("retry", strconv.Itoa(retryCount))
	}
	if forceCacheBust {
		q.Set("cache", strconv.FormatInt(rand.Int63(), 36))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncateHash(h string) string {
	if len(h) <= hashPrefixLen {
		return h
	}
	return h[:hashPrefixLen]
}

// partSuffix is the ".sf-part<NN>" suffix for the i'th (1-based) part of a
// splitFileCount-part fragment, zero-padded to splitFileCount's digit width
// (§4.C).
func partSuffix(part int, splitFileCount uint32) string {
	width := len(strconv.Itoa(int(splitFileCount)))
	return fmt.Sprintf(".sf-part%0*d", width, part)
}

// partURLFor appends the remote part suffix to a fragment's resolved base
// URL (§4.C: "<name>.zip.sf-part<NN>").
func partURLFor(resolvedBase string, part int, splitFileCount uint32) string {
	return resolvedBase + partSuffix(part, splitFileCount)
}

func tempPartName(moduleName string, part int, splitFileCount uint32) string {
	return fmt.Sprintf("%s.zip.fg-tmp%0*d", moduleName, len(strconv.Itoa(int(splitFileCount))), part)
}

// Download fetches req's resolved file and writes "<moduleName>.zip" under
// req.DestDir, handling both the single-file and split-part paths.
func Download(ctx context.Context, doer transport.Doer, tok *cancel.Token, fsys afero.Fs, sinkOut sink.EventSink, req Request) error {
	file, ok := manifest.ResolvedFile(req.Module, req.ChosenKey)
	if !ok || file == nil {
		if manifest.IsAlternatives(req.Module) {
			return ferrors.New(ferrors.InvalidParameters,
				fmt.Sprintf("module %q has no alternative for key %q", req.Module.ModuleName(), req.ChosenKey))
		}
		return ferrors.New(ferrors.InvalidParameters, fmt.Sprintf("module %q has no download file", req.Module.ModuleName()))
	}
	return DownloadFile(ctx, doer, tok, fsys, sinkOut, req, file, req.Module.ModuleName())
}

// DownloadFile fetches an already-resolved file under the given name,
// regardless of whether it belongs to a module, the base fragment, or the
// full fragment: all three share the same single/split-part shape (§4.C).
func DownloadFile(ctx context.Context, doer transport.Doer, tok *cancel.Token, fsys afero.Fs, sinkOut sink.EventSink, req Request, file *manifest.DownloadFile, name string) error {
	sinkOut.DownloadStarted(name)

	if file.SplitFileCount <= 1 {
		err := downloadSingle(ctx, doer, tok, fsys, sinkOut, req, file, name)
		if err != nil {
			sinkOut.DownloadInterrupted(name, false)
			return err
		}
		sinkOut.DownloadFinished(name)
		return nil
	}

	if err := downloadSplit(ctx, doer, tok, fsys, sinkOut, req, file, name); err != nil {
		sinkOut.DownloadInterrupted(name, false)
		return err
	}
	sinkOut.DownloadFinished(name)
	return nil
}

// resolveFragmentURL builds the URL for a module's fragment file. When the
// distribution manifest supplies an explicit path for the file, that is
// honored over the composed "<name>[/<altKey>].zip" shape (§9 open
// question).
func resolveFragmentURL(baseURL string, file *manifest.DownloadFile, moduleName, chosenKey string) string {
	if file.Path != "" {
		return baseURL + "/" + file.Path
	}
	if chosenKey != "" {
		return fmt.Sprintf("%s/%s/%s.zip", baseURL, moduleName, chosenKey)
	}
	return fmt.Sprintf("%s/%s.zip", baseURL, moduleName)
}

func downloadSingle(ctx context.Context, doer transport.Doer, tok *cancel.Token, fsys afero.Fs, sinkOut sink.EventSink, req Request, file *manifest.DownloadFile, name string) error {
	base := resolveFragmentURL(req.BaseURL, file, name, req.ChosenKey)
	fetchURL, err := decorateURL(base, file.Hash, req.FullHash, req.RetryCount, req.ForceCacheBust)
	if err != nil {
		return err
	}
	destPath := req.DestDir + "/" + name + ".zip"
	expected := int64(file.CompleteFileSize)

	_, err = transport.DownloadFile(ctx, doer, tok, fsys, fetchURL, destPath, expected,
		func(p transport.DownloadProgress) {
			sinkOut.DownloadProgress(name, sink.DownloadProgress{Loaded: p.Loaded, Total: p.Total})
		},
		func() { sinkOut.DownloadInterrupted(name, false) },
	)
	return err
}

func downloadSplit(ctx context.Context, doer transport.Doer, tok *cancel.Token, fsys afero.Fs, sinkOut sink.EventSink, req Request, file *manifest.DownloadFile, name string) error {
	numParts := int(file.SplitFileCount)
	totalSize := int64(file.CompleteFileSize)
	var totalLoaded int64

	finalPath := req.DestDir + "/" + name + ".zip"
	finalFile, err := fsys.OpenFile(finalPath, osCreateFlags, 0o644)
	if err != nil {
		return ferrors.Wrap(err, "create "+finalPath)
	}
	defer finalFile.Close()

	resolvedBase := resolveFragmentURL(req.BaseURL, file, name, req.ChosenKey)

	for part := 1; part <= numParts; part++ {
		if tok != nil {
			if err := tok.Check(); err != nil {
				return err
			}
		}

		partURL := partURLFor(resolvedBase, part, file.SplitFileCount)
		fetchURL, err := decorateURL(partURL, file.Hash, req.FullHash, req.RetryCount, req.ForceCacheBust)
		if err != nil {
			return err
		}

		tmpPath := req.DestDir + "/" + tempPartName(name, part, file.SplitFileCount)
		partIndex, partsCount := part, numParts

		loadedBefore := totalLoaded
		partBytes, err := transport.DownloadFile(ctx, doer, tok, fsys, fetchURL, tmpPath, 0,
			func(p transport.DownloadProgress) {
				sinkOut.DownloadProgress(name, sink.DownloadProgress{
					Loaded:     loadedBefore + p.Loaded,
					Total:      totalSize,
					PartIndex:  partIndex,
					NumParts:   partsCount,
					PartLoaded: p.Loaded,
					PartTotal:  p.Total,
				})
			},
			func() { sinkOut.DownloadInterrupted(name, false) },
		)
		if err != nil {
			return err
		}
		totalLoaded += partBytes

		if err := appendAndRemove(fsys, finalFile, tmpPath); err != nil {
			return err
		}
	}

	return nil
}

func appendAndRemove(fsys afero.Fs, dst afero.File, srcPath string) error {
	src, err := fsys.Open(srcPath)
	if err != nil {
		return ferrors.Wrap(err, "open part "+srcPath)
	}
	buf := make([]byte, 64*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				src.Close()
				return ferrors.Wrap(writeErr, "append part into final archive")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			src.Close()
			return ferrors.Wrap(readErr, "read part "+srcPath)
		}
	}
	src.Close()
	if err := fsys.Remove(srcPath); err != nil {
		return ferrors.Wrap(err, "remove part "+srcPath)
	}
	return nil
}
