// Package display reports pipeline progress and log messages to the user.
package display

// Task represents a unit of work that can be monitored.
type Task interface {
	// Log adds a log message associated with this task.
	Log(msg string)
	// SetStage updates the current stage of the task (e.g. "Fetch", "Write")
	// and the target URI or file being worked on.
	SetStage(name string, target string)
	// Progress updates the completion percentage (0-100) and status message.
	Progress(percent int, message string)
	// Done marks the task as completed and removes it from the display.
	// It is the responsibility of the caller who created the task via StartTask.
	Done()
}

// Display handles the visualization of tasks and logs.
type Display interface {
	// StartTask creates and returns a new tracked Task.
	StartTask(name string) Task
	// Log adds a direct log message to the display. Shown only when verbose.
	Log(msg string)
	// Print adds a primary output message (e.g. a summary line) to the display.
	Print(msg string)
	// SetVerbose enables or disables verbose logging.
	SetVerbose(v bool)
	// Close cleans up any resources and ensures final output is rendered.
	Close()
}

// Discard returns a Display that drops everything.
func Discard() Display {
	return discard{}
}

// Immutable
type discard struct{}

func (discard) StartTask(string) Task   { return discard{} }
func (discard) Log(string)              {}
func (discard) Print(string)            {}
func (discard) SetVerbose(bool)         {}
func (discard) Close()                  {}
func (discard) SetStage(string, string) {}
func (discard) Progress(int, string)    {}
func (discard) Done()                   {}
