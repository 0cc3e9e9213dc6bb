package session

// State is the state of a Session.
type State uint8

const (
	// Idle sessions have no target bound.
	Idle State = iota
	// Attached sessions have a target but no live process.
	Attached
	// Running sessions have a target and a live process.
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Attached:
		return "Attached"
	case Running:
		return "Running"
	}
	return "Unknown"
}

// Status is the outcome of a session operation, as reported to the
// presentation layer.
type Status uint8

const (
	StatusAttached Status = iota
	StatusReattached
	StatusInvalidExecutable
	StatusEngineAttachFailed
	StatusRunning
	StatusRestarted
	StatusStopped
	StatusNoTarget
	StatusInvalidLineNumber
	StatusUnresolvedLocation
	StatusBreakpointSet
	StatusEngineError
)

var statusNames = [...]string{
	StatusAttached:           "Attached",
	StatusReattached:         "Reattached",
	StatusInvalidExecutable:  "InvalidExecutable",
	StatusEngineAttachFailed: "EngineAttachFailed",
	StatusRunning:            "Running",
	StatusRestarted:          "Restarted",
	StatusStopped:            "Stopped",
	StatusNoTarget:           "NoTarget",
	StatusInvalidLineNumber:  "InvalidLineNumber",
	StatusUnresolvedLocation: "UnresolvedLocation",
	StatusBreakpointSet:      "BreakpointSet",
	StatusEngineError:        "EngineError",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// Failed returns true if s reports a failed operation.
func (s Status) Failed() bool {
	switch s {
	case StatusInvalidExecutable, StatusEngineAttachFailed, StatusNoTarget,
		StatusInvalidLineNumber, StatusUnresolvedLocation, StatusEngineError:
		return true
	}
	return false
}

// BreakpointRow is one row of the breakpoint table.
type BreakpointRow struct {
	ID   int
	Kind Kind
	// Location is the location as requested, a function name or file:line.
	Location string
	// Resolved is the location as resolved by the engine.
	Resolved  string
	Locations int
	HitCount  int
	// Target is the name of the target the breakpoint was created on.
	Target string
}

// Update is delivered to every observer after each session operation,
// successful or not.
type Update struct {
	Status         Status
	Message        string
	State          State
	ExecutablePath string
	Breakpoints    []BreakpointRow
}

// TargetBound returns true if breakpoint creation and launching are
// possible.
func (u Update) TargetBound() bool {
	return u.State != Idle
}
