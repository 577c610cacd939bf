package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestBackoffDelayDoublesPerRetry(t *testing.T) {
	cases := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	}
	for retry, want := range cases {
		if got := backoffDelay(retry); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", retry, got, want)
		}
	}
}

func TestDownloadFileSucceedsOnFirstAttempt(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "43")
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	fsys := afero.NewMemMapFs()
	n, err := DownloadFile(context.Background(), server.Client(), nil, fsys, server.URL, "/out.zip", 0, nil, nil)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if n != int64(len(body)) {
		t.Errorf("expected %d bytes, got %d", len(body), n)
	}
	data, err := afero.ReadFile(fsys, "/out.zip")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != string(body) {
		t.Errorf("expected written file to match body")
	}
}

func TestDownloadFileFailsOnPersistentServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "100")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fsys := afero.NewMemMapFs()
	_, err := DownloadFile(ctx, server.Client(), nil, fsys, server.URL, "/out.zip", 0, nil, nil)
	if err == nil {
		t.Fatal("expected error from a persistently failing server")
	}
}

func TestHeadReportsContentLengthAndRanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1234")
		w.Header().Set("Accept-Ranges", "bytes")
	}))
	defer server.Close()

	probe, err := Head(context.Background(), server.Client(), server.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if probe.ContentLength != 1234 {
		t.Errorf("expected content length 1234, got %d", probe.ContentLength)
	}
	if !probe.AcceptsRanges {
		t.Error("expected AcceptsRanges true")
	}
}

func TestDownloadFileReportsProgress(t *testing.T) {
	body := []byte("0123456789")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "10")
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	fsys := afero.NewMemMapFs()
	var lastLoaded, lastTotal int64
	_, err := DownloadFile(context.Background(), server.Client(), nil, fsys, server.URL, "/out.zip", 0, func(p DownloadProgress) {
		lastLoaded, lastTotal = p.Loaded, p.Total
	}, nil)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if lastLoaded != int64(len(body)) || lastTotal != 10 {
		t.Errorf("expected final progress loaded=%d total=10, got loaded=%d total=%d", len(body), lastLoaded, lastTotal)
	}
}
