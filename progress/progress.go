// Package progress renders fragmenter's event stream as terminal progress
// bars, one per in-flight module, using mpb.
package progress

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/flybywiresim/fragmenter/sink"
)

// Bars is a sink.EventSink that renders download progress as mpb bars, one
// per module name currently downloading, and passes every event (including
// unzip and copy progress, which get no bar) through to an underlying sink.
type Bars struct {
	progress *mpb.Progress
	wrapped  sink.EventSink

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

// New wraps next (use sink.Noop{} for none) with a bar renderer.
func New(next sink.EventSink) *Bars {
	if next == nil {
		next = sink.Noop{}
	}
	return &Bars{
		progress: mpb.New(mpb.WithWidth(48), mpb.WithRefreshRate(120*time.Millisecond)),
		wrapped:  next,
		bars:     make(map[string]*mpb.Bar),
	}
}

// Wait blocks until every bar has finished rendering. Call after Install
// returns.
func (b *Bars) Wait() {
	b.progress.Wait()
}

func (b *Bars) barFor(name string, total int64) *mpb.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar, ok := b.bars[name]; ok {
		return bar
	}
	bar := b.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name+" ", decor.WCSyncSpaceR),
			decor.CountersKiloByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	b.bars[name] = bar
	return bar
}

func (b *Bars) finish(name string) {
	b.mu.Lock()
	bar, ok := b.bars[name]
	delete(b.bars, name)
	b.mu.Unlock()
	if ok {
		bar.SetCurrent(bar.Current())
		bar.Abort(false)
	}
}

func (b *Bars) Phase(e sink.PhaseEvent) { b.wrapped.Phase(e) }

func (b *Bars) DownloadStarted(module string) {
	b.barFor(module, 0)
	b.wrapped.DownloadStarted(module)
}

func (b *Bars) DownloadProgress(module string, p sink.DownloadProgress) {
	bar := b.barFor(module, p.Total)
	if p.Total > 0 && bar.Current() == 0 {
		bar.SetTotal(p.Total, false)
	}
	bar.SetCurrent(p.Loaded)
	b.wrapped.DownloadProgress(module, p)
}

func (b *Bars) DownloadFinished(module string) {
	b.finish(module)
	b.wrapped.DownloadFinished(module)
}

func (b *Bars) DownloadInterrupted(module string, userAction bool) {
	b.finish(module)
	b.wrapped.DownloadInterrupted(module, userAction)
}

func (b *Bars) UnzipStarted(module string)                       { b.wrapped.UnzipStarted(module) }
func (b *Bars) UnzipProgress(module string, p sink.UnzipProgress) { b.wrapped.UnzipProgress(module, p) }
func (b *Bars) UnzipFinished(module string)                      { b.wrapped.UnzipFinished(module) }

func (b *Bars) CopyStarted(module string)                       { b.wrapped.CopyStarted(module) }
func (b *Bars) CopyProgress(module string, p sink.CopyProgress) { b.wrapped.CopyProgress(module, p) }
func (b *Bars) CopyFinished(module string)                      { b.wrapped.CopyFinished(module) }

func (b *Bars) BackupStarted()  { b.wrapped.BackupStarted() }
func (b *Bars) BackupFinished() { b.wrapped.BackupFinished() }

func (b *Bars) RetryScheduled(module string, retryCount int, waitSeconds int) {
	b.wrapped.RetryScheduled(module, retryCount, waitSeconds)
}
func (b *Bars) RetryStarted(module string, retryCount int) { b.wrapped.RetryStarted(module, retryCount) }

func (b *Bars) Error(err error) {
	b.mu.Lock()
	active := make([]*mpb.Bar, 0, len(b.bars))
	for name, bar := range b.bars {
		active = append(active, bar)
		delete(b.bars, name)
	}
	b.mu.Unlock()
	for _, bar := range active {
		bar.Abort(false)
	}
	b.wrapped.Error(err)
}
func (b *Bars) Cancelled() { b.wrapped.Cancelled() }

func (b *Bars) Log(level sink.LogLevel, msg string, args ...any) { b.wrapped.Log(level, msg, args...) }

// FormatBytes renders n in human units, used by the CLI's plan summary.
func FormatBytes(n uint64) string {
	return humanize.Bytes(n)
}

var _ sink.EventSink = (*Bars)(nil)
