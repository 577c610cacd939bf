// Package transport implements the Stream Downloader (§4.A) and File
// Downloader (§4.B) external collaborators: a ranged HTTP GET that streams
// into an accumulator, and a resumable wrapper around it with retry/backoff.
package transport

import (
	"net/http"
	"runtime"
)

// Doer is the HTTP collaborator named in spec §6. *http.Client satisfies it
// directly; tests substitute a fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns an *http.Client tuned for many concurrent fragment
// downloads: connection reuse across workers, compression left to the
// server response (fragments are already-compressed ZIPs), HTTP/2 when the
// CDN supports it.
func NewClient() *http.Client {
	maxConns := min(runtime.NumCPU()*2, 16)
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: maxConns,
			DisableCompression:  true,
			ForceAttemptHTTP2:   true,
		},
	}
}
