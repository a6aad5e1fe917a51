package session

import "fmt"

// ExecutionState of the target as seen by the console.
type ExecutionState int

const (
	NotStarted ExecutionState = iota
	Running
	Stopped
	Terminated
)

func (s ExecutionState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("ExecutionState(%d)", int(s))
}

// Location is a stop location. Filename is the target's path, Display the
// path shown to the user.
type Location struct {
	Filename string
	Display  string
	LineNum  uint32
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Display, l.LineNum)
}
