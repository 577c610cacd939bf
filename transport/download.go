package transport

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/cancel"
	"github.com/flybywiresim/fragmenter/ferrors"
)

// MaxStreamRetries is the File Downloader's resume ceiling (§4.B step 2).
const MaxStreamRetries = 5

const osCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// Probe is what a HEAD request tells the File Downloader about a URL.
type Probe struct {
	ContentLength int64 // -1 when absent
	AcceptsRanges bool
}

// Head issues a HEAD request and extracts the fields the File Downloader
// needs to decide whether it can resume a partial download.
func Head(ctx context.Context, doer Doer, url string) (Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Probe{}, ferrors.Wrap(err, "build HEAD request for "+url)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return Probe{}, ferrors.Wrap(err, "HEAD "+url)
	}
	defer resp.Body.Close()

	p := Probe{ContentLength: -1}
	if resp.ContentLength >= 0 {
		p.ContentLength = resp.ContentLength
	}
	p.AcceptsRanges = resp.Header.Get("Accept-Ranges") == "bytes"
	return p, nil
}

// DownloadProgress mirrors sink.DownloadProgress's byte fields without
// importing sink, so transport stays a leaf package.
type DownloadProgress struct {
	Loaded int64
	Total  int64
}

type DownloadObserver func(p DownloadProgress)

// DownloadInterrupted is invoked each time the loop restarts a resume
// attempt (§4.B: "Emit downloadInterrupted(userAction=false) on each
// resume").
type DownloadInterrupted func()

// DownloadFile implements the File Downloader (§4.B): HEAD-probe, then a
// retry loop around Stream that resumes from the accumulated byte count
// when the server advertises range support, or restarts from zero
// otherwise. The expected total is the HEAD content-length when the server
// sends a non-zero one, falling back to expectedSize (the fragment's
// declared completeFileSize; pass 0 if unknown). It is reported as the
// progress total and decides whether the loop has finished; when neither is
// known, the loop finishes on the first attempt that returns no error.
func DownloadFile(ctx context.Context, doer Doer, tok *cancel.Token, fsys afero.Fs, url, destPath string, expectedSize int64, onProgress DownloadObserver, onInterrupted DownloadInterrupted) (int64, error) {
	probe, err := Head(ctx, doer, url)
	if err != nil {
		return 0, err
	}
	total := expectedSize
	if probe.ContentLength > 0 {
		total = probe.ContentLength
	}

	var buffers [][]byte
	var accumulated int64

	err = retry.Do(
		func() error {
			result, serr := Stream(ctx, doer, tok, url, accumulated, func(soFar int64) {
				if onProgress != nil {
					onProgress(DownloadProgress{Loaded: accumulated + soFar, Total: total})
				}
			})
			if result != nil {
				buffers = append(buffers, result.Buffers...)
				accumulated += result.BytesWritten
			}
			if serr != nil {
				return serr
			}
			if total > 0 && accumulated < total {
				return ferrors.New(ferrors.NetworkError, "stream ended before expected size was reached")
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(MaxStreamRetries+1)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !ferrors.IsUnrecoverableErr(err) && ferrors.CodeOf(err) != ferrors.UserAborted
		}),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			return backoffDelay(int(n) + 1)
		}),
		retry.OnRetry(func(n uint, err error) {
			if onInterrupted != nil {
				onInterrupted()
			}
			if !probe.AcceptsRanges {
				buffers = nil
				accumulated = 0
			}
			if tok != nil {
				_ = tok.Check()
			}
		}),
	)

	if err == nil {
		return accumulated, writeBuffers(fsys, destPath, buffers)
	}
	if ferrors.IsUnrecoverableErr(err) || ferrors.CodeOf(err) == ferrors.UserAborted {
		return accumulated, err
	}
	if ctx.Err() != nil {
		return accumulated, ferrors.New(ferrors.UserAborted, "download aborted during backoff")
	}
	return accumulated, ferrors.New(ferrors.MaxModuleRetries, "exhausted retries downloading "+url+": "+err.Error())
}

// backoffDelay is the File Downloader's per-retry wait (§4.B): doubling,
// starting at 2s for the first retry.
func backoffDelay(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * time.Second
}

func writeBuffers(fsys afero.Fs, destPath string, buffers [][]byte) error {
	f, err := fsys.OpenFile(destPath, osCreateFlags, 0o644)
	if err != nil {
		return ferrors.Wrap(err, "create "+destPath)
	}
	defer f.Close()
	for _, b := range buffers {
		if _, err := f.Write(b); err != nil {
			return ferrors.Wrap(err, "write "+destPath)
		}
	}
	return nil
}
