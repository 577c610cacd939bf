// Package logger provides fragmenter's default console EventSink: colored,
// slog-backed logging plus human-readable progress/phase lines. Adapted
// from the teacher's hand-rolled ConsoleHandler into a sink.EventSink.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flybywiresim/fragmenter/sink"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
	colorGray   = "\033[90m"
)

// ConsoleHandler is a slog.Handler that prints colored, single-line records
// to an io.Writer.
type ConsoleHandler struct {
	output io.Writer
	level  slog.Level
	attrs  []slog.Attr
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var filename string
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		filename = filepath.Base(f.File)
	}

	var levelColor, levelLabel string
	switch r.Level {
	case slog.LevelDebug:
		levelColor, levelLabel = colorGray, "DEBUG"
	case slog.LevelInfo:
		levelColor, levelLabel = colorBlue, "INFO"
	case slog.LevelWarn:
		levelColor, levelLabel = colorYellow, "WARN"
	case slog.LevelError:
		levelColor, levelLabel = colorRed, "ERROR"
	default:
		levelColor, levelLabel = colorReset, "UNKNOWN"
	}

	var sb strings.Builder
	sb.WriteString(r.Message)

	first := true
	formatAttr := func(a slog.Attr) {
		if !first {
			sb.WriteString(" ")
		}
		first = false
		sb.WriteString(fmt.Sprintf("%s=%v", a.Key, a.Value.Any()))
	}
	for _, a := range h.attrs {
		formatAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		formatAttr(a)
		return true
	})

	if filename != "" {
		fmt.Fprintf(h.output, "%s[%s]%s %s: %s\n", levelColor, levelLabel, colorReset, filename, sb.String())
	} else {
		fmt.Fprintf(h.output, "%s[%s]%s %s\n", levelColor, levelLabel, colorReset, sb.String())
	}
	return nil
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	copy(merged[len(h.attrs):], attrs)
	return &ConsoleHandler{output: h.output, level: h.level, attrs: merged}
}

func (h *ConsoleHandler) WithGroup(_ string) slog.Handler { return h }

var levelOf = map[sink.LogLevel]slog.Level{
	sink.LogDebug: slog.LevelDebug,
	sink.LogInfo:  slog.LevelInfo,
	sink.LogWarn:  slog.LevelWarn,
	sink.LogError: slog.LevelError,
}

// Console is the default sink.EventSink: it logs phase/progress/error
// events through a colored slog handler and throttles progress lines so a
// byte-granular download doesn't flood the terminal.
type Console struct {
	logger *slog.Logger

	mu           sync.Mutex
	lastProgress map[string]time.Time
}

// New creates a Console sink writing to w at the given minimum level.
func New(w io.Writer, level slog.Level) *Console {
	handler := &ConsoleHandler{output: w, level: level}
	return &Console{
		logger:       slog.New(handler),
		lastProgress: make(map[string]time.Time),
	}
}

// NewDefault creates a Console sink writing to stderr at Info level.
func NewDefault() *Console {
	return New(os.Stderr, slog.LevelInfo)
}

func (c *Console) log(level slog.Level, msg string, args ...any) {
	if !c.logger.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = c.logger.Handler().Handle(context.Background(), r)
}

func (c *Console) Log(level sink.LogLevel, msg string, args ...any) {
	c.log(levelOf[level], msg, args...)
}

func (c *Console) Phase(e sink.PhaseEvent) {
	if e.Module != "" {
		c.log(slog.LevelInfo, "phase", "state", string(e.Phase), "module", e.Module, "index", e.ModuleIndex)
	} else {
		c.log(slog.LevelInfo, "phase", "state", string(e.Phase))
	}
}

func (c *Console) DownloadStarted(module string) {
	c.log(slog.LevelInfo, "download started", "module", module)
}

// throttle reports whether enough time has passed since the last progress
// line for key to justify printing another one.
func (c *Console) throttle(key string, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastProgress[key]
	now := time.Now()
	if ok && now.Sub(last) < interval {
		return false
	}
	c.lastProgress[key] = now
	return true
}

func (c *Console) DownloadProgress(module string, p sink.DownloadProgress) {
	if !c.throttle("download:"+module, 250*time.Millisecond) {
		return
	}
	if p.NumParts > 1 {
		c.log(slog.LevelDebug, "download progress",
			"module", module,
			"part", fmt.Sprintf("%d/%d", p.PartIndex, p.NumParts),
			"loaded", humanize.Bytes(uint64(p.Loaded)),
			"total", humanizeTotal(p.Total))
		return
	}
	c.log(slog.LevelDebug, "download progress",
		"module", module,
		"loaded", humanize.Bytes(uint64(p.Loaded)),
		"total", humanizeTotal(p.Total))
}

func humanizeTotal(total int64) string {
	if total <= 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(total))
}

func (c *Console) DownloadFinished(module string) {
	c.log(slog.LevelInfo, "download finished", "module", module)
}

func (c *Console) DownloadInterrupted(module string, userAction bool) {
	c.log(slog.LevelWarn, "download interrupted", "module", module, "userAction", userAction)
}

func (c *Console) UnzipStarted(module string) {
	c.log(slog.LevelInfo, "extracting", "module", module)
}

func (c *Console) UnzipProgress(module string, p sink.UnzipProgress) {
	if !c.throttle("unzip:"+module, 250*time.Millisecond) {
		return
	}
	c.log(slog.LevelDebug, "extract progress", "module", module, "entry", p.EntryName,
		"count", fmt.Sprintf("%d/%d", p.EntryIndex+1, p.EntryCount))
}

func (c *Console) UnzipFinished(module string) {
	c.log(slog.LevelInfo, "extracted", "module", module)
}

func (c *Console) CopyStarted(module string) {
	c.log(slog.LevelInfo, "copying into place", "module", module)
}

func (c *Console) CopyProgress(module string, p sink.CopyProgress) {
	if !c.throttle("copy:"+module, 250*time.Millisecond) {
		return
	}
	c.log(slog.LevelDebug, "copy progress", "module", module, "moved", fmt.Sprintf("%d/%d", p.Moved, p.Total))
}

func (c *Console) CopyFinished(module string) {
	c.log(slog.LevelInfo, "copied", "module", module)
}

func (c *Console) BackupStarted() {
	c.log(slog.LevelInfo, "backing up existing install")
}

func (c *Console) BackupFinished() {
	c.log(slog.LevelInfo, "backup complete")
}

func (c *Console) RetryScheduled(module string, retryCount int, waitSeconds int) {
	c.log(slog.LevelWarn, "retry scheduled", "module", module, "attempt", retryCount, "waitSeconds", waitSeconds)
}

func (c *Console) RetryStarted(module string, retryCount int) {
	c.log(slog.LevelInfo, "retrying", "module", module, "attempt", retryCount)
}

func (c *Console) Error(err error) {
	c.log(slog.LevelError, err.Error())
}

func (c *Console) Cancelled() {
	c.log(slog.LevelWarn, "cancelled")
}

var _ sink.EventSink = (*Console)(nil)
