// Package engine describes the native debugging engine a session drives.
//
// The engine is a process wide resource: it is created once at startup,
// before any session exists, and every session references it without
// owning it.
package engine

import "fmt"

// Arch selects the architecture of a created target.
type Arch string

// ArchDefault lets the engine pick the architecture of the executable.
const ArchDefault Arch = ""

// Engine is the capability surface of a native debugger.
type Engine interface {
	// CreateTarget loads the executable at path. A nil Target with a nil
	// error means the engine could not produce a usable target.
	CreateTarget(path string, arch Arch) (Target, error)
	// CreateBreakpointByName sets a breakpoint on the entry of function,
	// looked up only in the module named module.
	CreateBreakpointByName(t Target, function, module string) (Breakpoint, error)
	// CreateBreakpointByLocation sets a breakpoint on file:line. A nil
	// Breakpoint with a nil error means the location could not be resolved
	// and nothing was left behind in the engine.
	CreateBreakpointByLocation(t Target, file string, line int) (Breakpoint, error)
	// LaunchSimple starts a new process from t.
	LaunchSimple(t Target, args, env []string, wd string) (Process, error)
	// DestroyProcess tears p down. Destroying a nil or already exited
	// process succeeds.
	DestroyProcess(p Process) error
}

// Target is a loaded, not yet running, executable image.
type Target interface {
	// Name is the name of the executable module of the target.
	Name() string
	// Path is the path the target was created from.
	Path() string
}

// Breakpoint is a breakpoint known to the engine.
type Breakpoint interface {
	ID() int
	// Location describes where the engine resolved the breakpoint, empty
	// while it is pending.
	Location() string
	NumLocations() int
	HitCount() int
}

// ProcessState is the execution state of a process as last reported by
// the engine.
type ProcessState uint8

const (
	StateLaunching ProcessState = iota
	StateRunning
	StateStopped
	StateExited
)

func (s ProcessState) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	}
	return fmt.Sprintf("ProcessState(%d)", uint8(s))
}

// Process is a running instance of a Target.
type Process interface {
	PID() int
	State() ProcessState
}
