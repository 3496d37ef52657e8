package display

import (
	"io"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	level "github.com/go-kit/kit/log/level"
)

// logfmtDisplay renders tasks as structured logfmt events, for runs where
// nobody is watching a terminal.
// Mutable
type logfmtDisplay struct {
	mu     sync.RWMutex
	base   kitlog.Logger
	logger kitlog.Logger
}

// NewLogfmt creates a Display that writes logfmt lines to w.
func NewLogfmt(w io.Writer) Display {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)

	d := &logfmtDisplay{base: base}
	d.SetVerbose(false)
	return d
}

func (d *logfmtDisplay) current() kitlog.Logger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logger
}

func (d *logfmtDisplay) StartTask(name string) Task {
	logger := kitlog.With(d.current(), "task", name)
	level.Info(logger).Log("event", "task.start")
	return &logfmtTask{logger: logger, percent: -1}
}

func (d *logfmtDisplay) Log(msg string) {
	level.Debug(d.current()).Log("msg", msg)
}

func (d *logfmtDisplay) Print(msg string) {
	level.Info(d.current()).Log("msg", msg)
}

func (d *logfmtDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v {
		d.logger = level.NewFilter(d.base, level.AllowDebug())
	} else {
		d.logger = level.NewFilter(d.base, level.AllowInfo())
	}
}

func (d *logfmtDisplay) Close() {}

// Mutable
type logfmtTask struct {
	logger  kitlog.Logger
	percent int
}

func (t *logfmtTask) Log(msg string) {
	level.Debug(t.logger).Log("msg", msg)
}

func (t *logfmtTask) SetStage(name string, target string) {
	t.percent = -1
	level.Info(t.logger).Log("event", "task.stage", "stage", name, "target", target)
}

// Progress only logs when the percentage moves, otherwise a large transfer
// would emit one line per read.
func (t *logfmtTask) Progress(percent int, message string) {
	if percent == t.percent {
		return
	}
	t.percent = percent
	level.Debug(t.logger).Log("event", "task.progress", "percent", percent, "msg", message)
}

func (t *logfmtTask) Done() {
	level.Info(t.logger).Log("event", "task.done")
}
