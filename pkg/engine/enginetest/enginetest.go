// Package enginetest provides an in memory engine.Engine that records
// every call made to it.
package enginetest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-delve/dbgctl/pkg/engine"
)

// Engine is a fake engine.Engine. The zero value is not usable, use New.
type Engine struct {
	// Calls lists every call received, oldest first, formatted as
	// "Method arg...".
	Calls []string

	// RejectTargets makes CreateTarget return no target for every path.
	RejectTargets bool
	// TargetErr, if set, is returned by CreateTarget.
	TargetErr error
	// Unresolved lists "file:line" locations that do not resolve.
	Unresolved map[string]bool
	// BreakpointErr, if set, is returned by both breakpoint constructors.
	BreakpointErr error
	// LaunchErr, if set, is returned by LaunchSimple together with
	// LaunchProcess (which may be nil).
	LaunchErr     error
	LaunchProcess *Process
	// DestroyErr, if set, is returned by DestroyProcess for live processes.
	DestroyErr error

	Breakpoints []*Breakpoint
	Processes   []*Process

	nextBreakpointID int
	nextPID          int
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{
		Unresolved:       make(map[string]bool),
		nextBreakpointID: 1,
		nextPID:          1000,
	}
}

// Target is the fake engine.Target.
type Target struct {
	path string
	arch engine.Arch
}

func (t *Target) Name() string { return filepath.Base(t.path) }
func (t *Target) Path() string { return t.path }

// Breakpoint is the fake engine.Breakpoint.
type Breakpoint struct {
	Id        int
	Loc       string
	Locations int
	Hits      int
}

func (bp *Breakpoint) ID() int           { return bp.Id }
func (bp *Breakpoint) Location() string  { return bp.Loc }
func (bp *Breakpoint) NumLocations() int { return bp.Locations }
func (bp *Breakpoint) HitCount() int     { return bp.Hits }

// Process is the fake engine.Process.
type Process struct {
	Pid    int
	Status engine.ProcessState
}

func (p *Process) PID() int                   { return p.Pid }
func (p *Process) State() engine.ProcessState { return p.Status }

func (e *Engine) record(format string, args ...interface{}) {
	e.Calls = append(e.Calls, fmt.Sprintf(format, args...))
}

// Reset forgets the calls recorded so far.
func (e *Engine) Reset() {
	e.Calls = e.Calls[:0]
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (e *Engine) CallsWithPrefix(prefix string) []string {
	var r []string
	for _, c := range e.Calls {
		if strings.HasPrefix(c, prefix) {
			r = append(r, c)
		}
	}
	return r
}

func (e *Engine) CreateTarget(path string, arch engine.Arch) (engine.Target, error) {
	e.record("CreateTarget %s %q", path, arch)
	if e.TargetErr != nil {
		return nil, e.TargetErr
	}
	if e.RejectTargets {
		return nil, nil
	}
	return &Target{path: path, arch: arch}, nil
}

func (e *Engine) CreateBreakpointByName(t engine.Target, function, module string) (engine.Breakpoint, error) {
	e.record("CreateBreakpointByName %s %s", function, module)
	if e.BreakpointErr != nil {
		return nil, e.BreakpointErr
	}
	return e.newBreakpoint(fmt.Sprintf("%s`%s", module, function)), nil
}

func (e *Engine) CreateBreakpointByLocation(t engine.Target, file string, line int) (engine.Breakpoint, error) {
	loc := fmt.Sprintf("%s:%d", file, line)
	e.record("CreateBreakpointByLocation %s", loc)
	if e.BreakpointErr != nil {
		return nil, e.BreakpointErr
	}
	if e.Unresolved[loc] {
		return nil, nil
	}
	return e.newBreakpoint(t.Name() + "`" + loc), nil
}

func (e *Engine) newBreakpoint(loc string) *Breakpoint {
	bp := &Breakpoint{Id: e.nextBreakpointID, Loc: loc, Locations: 1}
	e.nextBreakpointID++
	e.Breakpoints = append(e.Breakpoints, bp)
	return bp
}

func (e *Engine) LaunchSimple(t engine.Target, args, env []string, wd string) (engine.Process, error) {
	e.record("LaunchSimple %s args=%d env=%d wd=%s", t.Path(), len(args), len(env), wd)
	if e.LaunchErr != nil {
		if e.LaunchProcess == nil {
			return nil, e.LaunchErr
		}
		return e.LaunchProcess, e.LaunchErr
	}
	p := &Process{Pid: e.nextPID, Status: engine.StateRunning}
	e.nextPID++
	e.Processes = append(e.Processes, p)
	return p, nil
}

func (e *Engine) DestroyProcess(p engine.Process) error {
	fp, _ := p.(*Process)
	if fp == nil {
		e.record("DestroyProcess <nil>")
		return nil
	}
	e.record("DestroyProcess %d", fp.Pid)
	if fp.Status == engine.StateExited {
		return nil
	}
	if e.DestroyErr != nil {
		return e.DestroyErr
	}
	fp.Status = engine.StateExited
	return nil
}

// Live returns the processes that have not been destroyed.
func (e *Engine) Live() []*Process {
	var r []*Process
	for _, p := range e.Processes {
		if p.Status != engine.StateExited {
			r = append(r, p)
		}
	}
	return r
}
