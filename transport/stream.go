package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/flybywiresim/fragmenter/cancel"
	"github.com/flybywiresim/fragmenter/ferrors"
)

const streamBufferSize = 64 * 1024

// StreamProgress is invoked after every buffer read, with cumulative bytes
// read during this single stream attempt.
type StreamProgress func(bytesSoFar int64)

// StreamResult is what a single Stream Downloader attempt produces (§4.A).
type StreamResult struct {
	Buffers      [][]byte
	BytesWritten int64
}

// Stream issues a single GET to url with `Range: bytes=offset-` (omitted
// when offset is 0), and reads the body to completion as a sequence of
// buffers, reporting progress as it goes. It never retries: that is the
// File Downloader's job. Cancellation via tok produces ferrors.UserAborted;
// any other failure is classified into a FragmenterError.
func Stream(ctx context.Context, doer Doer, tok *cancel.Token, url string, offset int64, onProgress StreamProgress) (*StreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ferrors.Wrap(err, "build request for "+url)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := doer.Do(req)
	if err != nil {
		if tok != nil && tok.Context().Err() != nil {
			return nil, ferrors.New(ferrors.UserAborted, "download aborted")
		}
		return nil, ferrors.Wrap(err, "GET "+url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, ferrors.New(ferrors.NetworkError, fmt.Sprintf("GET %s: HTTP %d", url, resp.StatusCode))
	}

	result := &StreamResult{}
	buf := make([]byte, streamBufferSize)
	for {
		if tok != nil {
			if err := tok.Check(); err != nil {
				return result, err
			}
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			result.Buffers = append(result.Buffers, chunk)
			result.BytesWritten += int64(n)
			if onProgress != nil {
				onProgress(result.BytesWritten)
			}
		}
		if readErr == io.EOF {
			return result, nil
		}
		if readErr != nil {
			if tok != nil && tok.Context().Err() != nil {
				return result, ferrors.New(ferrors.UserAborted, "download aborted")
			}
			return result, ferrors.Wrap(readErr, "read body from "+url)
		}
	}
}
