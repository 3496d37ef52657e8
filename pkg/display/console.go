// Package display implementation for terminal-based output.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const clearLine = "\x1b[1A\x1b[2K"

// consoleDisplay handles terminal output. Active tasks are kept at the bottom
// of the output and redrawn in place whenever something changes.
// Mutable
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	theme   *Theme
	verbose bool
	tasks   []*consoleTask
	drawn   int
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out:   w,
		theme: DefaultTheme(),
	}
}

func (d *consoleDisplay) StartTask(name string) Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := &consoleTask{display: d, name: name}
	d.clearLocked()
	d.tasks = append(d.tasks, t)
	d.drawLocked()
	return t
}

func (d *consoleDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.verbose {
		return
	}
	d.clearLocked()
	fmt.Fprintln(d.out, d.theme.Styled(d.theme.Dim, msg))
	d.drawLocked()
}

// Print writes msg as a line of its own above the active tasks.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clearLocked()
	fmt.Fprintln(d.out, msg)
	d.drawLocked()
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = v
}

func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clearLocked()
	d.tasks = nil
}

func (d *consoleDisplay) clearLocked() {
	fmt.Fprint(d.out, strings.Repeat(clearLine, d.drawn))
	d.drawn = 0
}

func (d *consoleDisplay) drawLocked() {
	for _, t := range d.tasks {
		fmt.Fprintln(d.out, t.line())
		d.drawn++
	}
}

func (d *consoleDisplay) removeLocked(t *consoleTask) {
	for i, curr := range d.tasks {
		if curr == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			return
		}
	}
}

// Mutable, guarded by the owning display's mutex.
type consoleTask struct {
	display *consoleDisplay
	name    string
	stage   string
	target  string
	percent int
	message string
}

func (t *consoleTask) line() string {
	th := t.display.theme
	var sb strings.Builder
	sb.WriteString(th.Styled(th.Cyan, "["+t.name+"]"))
	if t.stage != "" {
		sb.WriteString(" " + th.Styled(th.Bold, t.stage))
	}
	if t.target != "" {
		sb.WriteString(" " + th.Styled(th.Dim, t.target))
	}
	fmt.Fprintf(&sb, " %d%%", t.percent)
	if t.message != "" {
		sb.WriteString(" " + t.message)
	}
	return sb.String()
}

func (t *consoleTask) Log(msg string) {
	d := t.display
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.verbose {
		return
	}
	d.clearLocked()
	fmt.Fprintf(d.out, "%s %s\n", d.theme.Styled(d.theme.Dim, "["+t.name+"]"), msg)
	d.drawLocked()
}

func (t *consoleTask) SetStage(name string, target string) {
	d := t.display
	d.mu.Lock()
	defer d.mu.Unlock()

	t.stage = name
	t.target = target
	t.percent = 0
	t.message = ""
	d.clearLocked()
	d.drawLocked()
}

func (t *consoleTask) Progress(percent int, message string) {
	d := t.display
	d.mu.Lock()
	defer d.mu.Unlock()

	t.percent = percent
	t.message = message
	d.clearLocked()
	d.drawLocked()
}

func (t *consoleTask) Done() {
	d := t.display
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clearLocked()
	d.removeLocked(t)
	fmt.Fprintf(d.out, "%s %s Done\n", d.theme.Styled(d.theme.Green, d.theme.Check), d.theme.Styled(d.theme.Cyan, "["+t.name+"]"))
	d.drawLocked()
}
