package sink

// Noop is an EventSink that discards every event. Embed it to implement
// EventSink while overriding only the methods a caller cares about.
type Noop struct{}

func (Noop) Phase(PhaseEvent)                             {}
func (Noop) DownloadStarted(string)                       {}
func (Noop) DownloadProgress(string, DownloadProgress)    {}
func (Noop) DownloadFinished(string)                      {}
func (Noop) DownloadInterrupted(string, bool)             {}
func (Noop) UnzipStarted(string)                          {}
func (Noop) UnzipProgress(string, UnzipProgress)          {}
func (Noop) UnzipFinished(string)                         {}
func (Noop) CopyStarted(string)                           {}
func (Noop) CopyProgress(string, CopyProgress)            {}
func (Noop) CopyFinished(string)                          {}
func (Noop) BackupStarted()                               {}
func (Noop) BackupFinished()                               {}
func (Noop) RetryScheduled(string, int, int)              {}
func (Noop) RetryStarted(string, int)                     {}
func (Noop) Error(error)                                  {}
func (Noop) Cancelled()                                   {}
func (Noop) Log(LogLevel, string, ...any)                 {}

var _ EventSink = Noop{}
