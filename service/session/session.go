// Package session implements the debug session controller: it binds a
// target, keeps the breakpoints created against it and owns the single
// process launched from it.
//
// A Session moves between three states:
//
//	Idle      no target is bound
//	Attached  a target is bound, no process is live
//	Running   a target is bound and a process is live
//
// Every operation reports a Status and delivers an Update to the
// observers registered with Subscribe, whether it succeeds or not. None of
// the errors returned by a Session are fatal.
package session

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-delve/dbgctl/pkg/engine"
	"github.com/go-delve/dbgctl/pkg/logflags"
)

// Config is the configuration of a Session.
type Config struct {
	// WorkingDir is the working directory of launched processes. If empty
	// the current directory at launch time is used.
	WorkingDir string
	// Arch is the architecture selector passed to the engine when creating
	// targets.
	Arch engine.Arch
}

// Session is a debug session over an engine. The engine is shared, the
// Session never releases it.
type Session struct {
	config *Config
	eng    engine.Engine
	log    logflags.Logger

	mu        sync.Mutex
	state     State
	binding   binding
	registry  registry
	lifecycle lifecycle

	observersMu sync.Mutex
	observers   []func(Update)
}

// New creates an Idle session driving eng.
func New(eng engine.Engine, config *Config) *Session {
	if config == nil {
		config = &Config{}
	}
	return &Session{
		config: config,
		eng:    eng,
		log:    logflags.SessionLogger(),
	}
}

// Subscribe registers fn to be called with an Update after every
// operation. Observers are called synchronously, without any session lock
// held, in the order they subscribed.
func (s *Session) Subscribe(fn func(Update)) {
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

func (s *Session) notify(u Update) {
	s.observersMu.Lock()
	obs := make([]func(Update), len(s.observers))
	copy(obs, s.observers)
	s.observersMu.Unlock()
	for _, fn := range obs {
		fn(u)
	}
}

// updateLocked builds the Update for an operation that ended with st.
// Must be called with s.mu held.
func (s *Session) updateLocked(st Status, msg string, err error) Update {
	if err != nil {
		msg = err.Error()
		s.log.WithField("status", st.String()).Debugf("%v", err)
	} else {
		s.log.WithField("status", st.String()).Debug(msg)
	}
	return Update{
		Status:         st,
		Message:        msg,
		State:          s.state,
		ExecutablePath: s.binding.path,
		Breakpoints:    s.registry.rows(),
	}
}

// reapLocked moves a Running session back to Attached once its process
// has exited. Must be called with s.mu held.
func (s *Session) reapLocked() {
	if s.state != Running {
		return
	}
	if pid := s.lifecycle.reap(); pid != 0 {
		s.log.Debugf("process %d exited", pid)
		s.state = Attached
	}
}

// State returns the current state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return s.state
}

// ExecutablePath returns the path of the bound executable, or the empty
// string when the session is Idle.
func (s *Session) ExecutablePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding.path
}

// TargetName returns the name of the bound target.
func (s *Session) TargetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding.targetName()
}

// PID returns the pid of the live process, zero if there is none.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return s.lifecycle.pid()
}

// Bind resolves base and exec into an executable path and binds a target
// created from it. On failure the session is left exactly as it was.
// Binding while Running tears the live process down.
func (s *Session) Bind(base, exec string) (Status, error) {
	s.mu.Lock()
	st, msg, err := s.bind(base, exec)
	u := s.updateLocked(st, msg, err)
	s.mu.Unlock()
	s.notify(u)
	return st, err
}

func (s *Session) bind(base, exec string) (Status, string, error) {
	s.reapLocked()
	path := JoinExecutablePath(base, exec)
	if err := checkExecutable(path); err != nil {
		return StatusInvalidExecutable, "", err
	}
	t, err := s.binding.resolve(s.eng, path, s.config.Arch)
	if err != nil {
		return StatusEngineAttachFailed, "", err
	}
	if s.lifecycle.live() {
		if err := s.lifecycle.teardown(s.eng); err != nil {
			s.log.Warnf("rebinding to %s: %v", path, err)
		}
	}
	rebind := s.binding.replace(t, path, base, exec)
	s.state = Attached
	if rebind {
		return StatusReattached, fmt.Sprintf("reattached to %s", path), nil
	}
	return StatusAttached, fmt.Sprintf("attached to %s", path), nil
}

// Launch starts a process from the bound target. A live process is torn
// down first, in which case the status is StatusRestarted. A failed
// teardown is logged and the launch goes ahead.
func (s *Session) Launch() (Status, error) {
	s.mu.Lock()
	st, msg, err := s.launch()
	u := s.updateLocked(st, msg, err)
	s.mu.Unlock()
	s.notify(u)
	return st, err
}

func (s *Session) launch() (Status, string, error) {
	if s.state == Idle {
		return StatusNoTarget, "", fmt.Errorf("%w: attach to an executable before running it", ErrNoTarget)
	}
	s.reapLocked()
	restart := s.state == Running
	if err := s.lifecycle.teardown(s.eng); err != nil {
		s.log.Warnf("launching %s: %v", s.binding.path, err)
	}
	s.state = Attached
	wd := s.config.WorkingDir
	if wd == "" {
		var err error
		wd, err = os.Getwd()
		if err != nil {
			return StatusEngineError, "", fmt.Errorf("%w: %v", ErrEngine, err)
		}
	}
	err := s.lifecycle.launch(s.eng, s.binding.target, wd)
	if s.lifecycle.live() {
		s.state = Running
	}
	if err != nil {
		return StatusEngineError, "", err
	}
	if restart {
		return StatusRestarted, fmt.Sprintf("restarted %s, pid %d", s.binding.path, s.lifecycle.pid()), nil
	}
	return StatusRunning, fmt.Sprintf("launched %s, pid %d", s.binding.path, s.lifecycle.pid()), nil
}

// Stop tears down the live process. Stopping with no live process is not
// an error.
func (s *Session) Stop() (Status, error) {
	s.mu.Lock()
	st, msg, err := s.stop()
	u := s.updateLocked(st, msg, err)
	s.mu.Unlock()
	s.notify(u)
	return st, err
}

func (s *Session) stop() (Status, string, error) {
	if s.state == Idle {
		return StatusStopped, "nothing to stop", nil
	}
	s.reapLocked()
	pid := s.lifecycle.pid()
	err := s.lifecycle.teardown(s.eng)
	s.state = Attached
	if err != nil {
		return StatusEngineError, "", err
	}
	if pid == 0 {
		return StatusStopped, "nothing to stop", nil
	}
	return StatusStopped, fmt.Sprintf("process %d stopped", pid), nil
}

// CreateByName creates a breakpoint on function, looked up in the module
// of the bound target.
func (s *Session) CreateByName(function string) (*Breakpoint, error) {
	s.mu.Lock()
	bp, st, err := s.createByName(function)
	msg := ""
	if bp != nil {
		msg = fmt.Sprintf("breakpoint %d set at %s", bp.ID, bp.Descriptor())
	}
	u := s.updateLocked(st, msg, err)
	s.mu.Unlock()
	s.notify(u)
	return bp, err
}

func (s *Session) createByName(function string) (*Breakpoint, Status, error) {
	if s.state == Idle {
		return nil, StatusNoTarget, fmt.Errorf("%w: cannot set breakpoint on %s", ErrNoTarget, function)
	}
	module := s.binding.targetName()
	ebp, err := s.eng.CreateBreakpointByName(s.binding.target, function, module)
	if err != nil {
		return nil, StatusEngineError, fmt.Errorf("%w: could not set breakpoint on %s: %v", ErrEngine, function, err)
	}
	if ebp == nil {
		return nil, StatusEngineError, fmt.Errorf("%w: no breakpoint returned for %s", ErrEngine, function)
	}
	bp := &Breakpoint{
		ID:           ebp.ID(),
		Kind:         ByName,
		FunctionName: function,
		Target:       module,
		eng:          ebp,
	}
	s.registry.add(bp)
	return bp, StatusBreakpointSet, nil
}

// CreateByLocation creates a breakpoint at file:line. The line is parsed
// with ParseLineNumber. Nothing is added to the registry unless the engine
// resolves the location.
func (s *Session) CreateByLocation(file, line string) (*Breakpoint, error) {
	s.mu.Lock()
	bp, st, err := s.createByLocation(file, line)
	msg := ""
	if bp != nil {
		msg = fmt.Sprintf("breakpoint %d set at %s", bp.ID, bp.Descriptor())
	}
	u := s.updateLocked(st, msg, err)
	s.mu.Unlock()
	s.notify(u)
	return bp, err
}

func (s *Session) createByLocation(file, line string) (*Breakpoint, Status, error) {
	if s.state == Idle {
		return nil, StatusNoTarget, fmt.Errorf("%w: cannot set breakpoint at %s:%s", ErrNoTarget, file, line)
	}
	n, err := ParseLineNumber(line)
	if err != nil {
		return nil, StatusInvalidLineNumber, err
	}
	ebp, err := s.eng.CreateBreakpointByLocation(s.binding.target, file, n)
	if err != nil {
		return nil, StatusEngineError, fmt.Errorf("%w: could not set breakpoint at %s:%d: %v", ErrEngine, file, n, err)
	}
	if ebp == nil {
		return nil, StatusUnresolvedLocation, fmt.Errorf("%w: %s:%d", ErrUnresolvedLocation, file, n)
	}
	bp := &Breakpoint{
		ID:     ebp.ID(),
		Kind:   ByLocation,
		File:   file,
		Line:   n,
		Target: s.binding.targetName(),
		eng:    ebp,
	}
	s.registry.add(bp)
	return bp, StatusBreakpointSet, nil
}

// List returns the breakpoints in the order they were created.
func (s *Session) List() []*Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.list()
}

// Rows returns the breakpoint table, one row per breakpoint in List order.
func (s *Session) Rows() []BreakpointRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.rows()
}

// FunctionBreakpoint returns the breakpoint on function, or nil.
func (s *Session) FunctionBreakpoint(function string) *Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.findName(function)
}

// LocationBreakpoint returns the breakpoint at file:line, or nil.
func (s *Session) LocationBreakpoint(file string, line int) *Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.findLocation(file, line)
}
