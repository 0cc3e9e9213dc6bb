// Package lldbcli implements engine.Engine by driving the lldb command
// line debugger.
//
// lldb runs on a pseudo terminal with a prompt installed at startup so
// that the end of every answer can be recognized. Commands and answers
// are logged by the lldbwire log component.
package lldbcli

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-delve/dbgctl/pkg/engine"
	"github.com/go-delve/dbgctl/pkg/logflags"
)

// ErrUnsupportedPlatform is returned by Launch where lldb can not be
// started on a pseudo terminal.
var ErrUnsupportedPlatform = errors.New("lldb engine not supported on this platform")

// Config configures the lldb engine.
type Config struct {
	// Path of the lldb executable, looked up in PATH if empty.
	Path string
	// Timeout bounds each command round trip, zero waits forever.
	Timeout time.Duration
}

// Engine drives one lldb process.
type Engine struct {
	mu   sync.Mutex
	conn *conn
	log  logflags.Logger

	closer io.Closer
	cmd    *exec.Cmd

	// ntargets is the number of targets lldb holds, the index of the next
	// target created. unsynced is set when lldb may have created or
	// selected a target without the engine knowing.
	ntargets int
	unsynced bool
	selected int
	procs    map[int]*process
}

var _ engine.Engine = (*Engine)(nil)

type target struct {
	e     *Engine
	index int
	path  string
	arch  string
	proc  *process
}

func (t *target) Name() string { return filepath.Base(t.path) }
func (t *target) Path() string { return t.path }

type breakpoint struct {
	e         *Engine
	t         *target
	id        int
	location  string
	locations int
	hits      int
}

func (bp *breakpoint) ID() int          { return bp.id }
func (bp *breakpoint) Location() string { return bp.location }

func (bp *breakpoint) NumLocations() int {
	bp.e.mu.Lock()
	defer bp.e.mu.Unlock()
	return bp.locations
}

// HitCount asks lldb for the current hit count. If lldb can not answer the
// last known count is returned.
func (bp *breakpoint) HitCount() int {
	bp.e.mu.Lock()
	defer bp.e.mu.Unlock()
	bp.e.refresh(bp)
	return bp.hits
}

type process struct {
	e      *Engine
	t      *target
	pid    int
	state  engine.ProcessState
	status int
}

func (p *process) PID() int { return p.pid }

func (p *process) State() engine.ProcessState {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.state
}

// LookPath returns the lldb executable to run.
func LookPath(path string) (string, error) {
	if path == "" {
		path = "lldb"
	}
	p, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("could not find lldb: %w", err)
	}
	return p, nil
}

// New returns an engine talking to an lldb already running on the other
// side of rwc, which is closed by Close. New waits for the first prompt.
func New(rwc io.ReadWriteCloser, timeout time.Duration) (*Engine, error) {
	e := &Engine{
		closer:   rwc,
		log:      logflags.EngineLogger(),
		selected: -1,
		procs:    make(map[int]*process),
	}
	e.conn = newConn(rwc, timeout)
	e.conn.events = e.processEvents
	if err := e.conn.handshake(); err != nil {
		rwc.Close()
		e.conn.close()
		return nil, err
	}
	go e.watch()
	return e, nil
}

// watch dispatches the output lldb prints while the engine is idle, so
// that process state changes are seen without a command being sent.
func (e *Engine) watch() {
	for {
		select {
		case <-e.conn.done:
			return
		case <-e.conn.wake:
		}
		e.mu.Lock()
		e.conn.drain()
		e.mu.Unlock()
	}
}

// Close asks lldb to quit and releases the command channel.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	io.WriteString(e.conn.w, "quit\n")
	err := e.closer.Close()
	e.conn.close()
	if e.cmd != nil {
		done := make(chan error, 1)
		go func() { done <- e.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			e.cmd.Process.Kill()
			<-done
		}
	}
	return err
}

// processEvents updates tracked processes from lldb output. Called with
// e.mu held, from conn.exec or conn.drain.
func (e *Engine) processEvents(out string) {
	for _, ev := range parseProcessEvents(out) {
		p := e.procs[ev.pid]
		if p == nil {
			continue
		}
		if p.state != ev.state {
			e.log.Debugf("process %d: %v -> %v", p.pid, p.state, ev.state)
		}
		p.state = ev.state
		if ev.state == engine.StateExited {
			p.status = ev.status
			if p.t.proc == p {
				p.t.proc = nil
			}
		}
	}
}

func (e *Engine) exec(format string, args ...interface{}) (string, error) {
	return e.conn.exec(fmt.Sprintf(format, args...))
}

func (e *Engine) selectTarget(t *target) error {
	if e.selected == t.index {
		return nil
	}
	out, err := e.exec("target select %d", t.index)
	if err != nil {
		e.selected = -1
		return err
	}
	if msg, ok := lldbError(out); ok {
		return fmt.Errorf("target select %d: %s", t.index, msg)
	}
	e.selected = t.index
	return nil
}

// syncTargets reads the number of targets and the selected one back from
// lldb.
func (e *Engine) syncTargets() error {
	out, err := e.exec("target list")
	if err != nil {
		return err
	}
	if msg, ok := lldbError(out); ok {
		return errors.New(msg)
	}
	n, selected, ok := parseTargetList(out)
	if !ok {
		return fmt.Errorf("unexpected answer to target list: %q", out)
	}
	e.log.Debugf("lldb holds %d targets, %d selected", n, selected)
	e.ntargets = n
	e.selected = selected
	e.unsynced = false
	return nil
}

// desync forgets which target lldb has selected and how many it holds.
func (e *Engine) desync() {
	e.unsynced = true
	e.selected = -1
}

func (e *Engine) target(t engine.Target) (*target, error) {
	lt, ok := t.(*target)
	if !ok || lt == nil || lt.e != e {
		return nil, fmt.Errorf("target %v does not belong to this engine", t)
	}
	return lt, nil
}

// CreateTarget runs "target create". A target lldb refuses to create is
// reported as an error carrying lldb's message.
func (e *Engine) CreateTarget(path string, arch engine.Arch) (engine.Target, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsynced {
		if err := e.syncTargets(); err != nil {
			return nil, fmt.Errorf("could not list lldb targets: %w", err)
		}
	}
	cmd := "target create "
	if arch != engine.ArchDefault {
		cmd += "--arch " + quote(string(arch)) + " "
	}
	out, err := e.exec("%s%s", cmd, quote(path))
	if err != nil {
		// lldb may still create and select the target.
		e.desync()
		return nil, err
	}
	if msg, ok := lldbError(out); ok {
		return nil, errors.New(msg)
	}
	info, ok := parseTargetCreate(out)
	if !ok {
		e.log.Warnf("unexpected answer to target create: %q", out)
		e.desync()
		return nil, nil
	}
	t := &target{e: e, index: e.ntargets, path: path, arch: info.arch}
	e.ntargets++
	// lldb selects newly created targets.
	e.selected = t.index
	e.log.Debugf("created target %d for %s (%s)", t.index, info.path, info.arch)
	return t, nil
}

func (e *Engine) setBreakpoint(t *target, args string) (*breakpoint, bool, error) {
	if err := e.selectTarget(t); err != nil {
		return nil, false, err
	}
	out, err := e.exec("breakpoint set %s", args)
	if err != nil {
		return nil, false, err
	}
	if msg, ok := lldbError(out); ok {
		return nil, false, errors.New(msg)
	}
	info, ok := parseBreakpointSet(out)
	if !ok {
		return nil, false, fmt.Errorf("unexpected answer to breakpoint set: %q", out)
	}
	bp := &breakpoint{e: e, t: t, id: info.id, location: info.location, locations: info.locations}
	return bp, info.pending, nil
}

// CreateBreakpointByName sets a breakpoint on function in module. Pending
// breakpoints are kept, lldb resolves them when the module is loaded.
func (e *Engine) CreateBreakpointByName(t engine.Target, function, module string) (engine.Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lt, err := e.target(t)
	if err != nil {
		return nil, err
	}
	args := "--name " + quote(function)
	if module != "" {
		args += " --shlib " + quote(module)
	}
	bp, pending, err := e.setBreakpoint(lt, args)
	if err != nil {
		return nil, err
	}
	if pending {
		bp.location = module + "`" + function
	}
	return bp, nil
}

// CreateBreakpointByLocation sets a breakpoint at file:line. If lldb finds
// no location the breakpoint is deleted again and nil is returned.
func (e *Engine) CreateBreakpointByLocation(t engine.Target, file string, line int) (engine.Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lt, err := e.target(t)
	if err != nil {
		return nil, err
	}
	bp, pending, err := e.setBreakpoint(lt, fmt.Sprintf("--file %s --line %d", quote(file), line))
	if err != nil {
		return nil, err
	}
	if pending {
		if _, err := e.exec("breakpoint delete %d", bp.id); err != nil {
			e.log.Warnf("could not delete unresolved breakpoint %d: %v", bp.id, err)
		}
		return nil, nil
	}
	return bp, nil
}

// refresh updates the hit count of bp. Called with e.mu held.
func (e *Engine) refresh(bp *breakpoint) {
	if err := e.selectTarget(bp.t); err != nil {
		e.log.Warnf("breakpoint %d: %v", bp.id, err)
		return
	}
	out, err := e.exec("breakpoint list %d", bp.id)
	if err != nil {
		e.log.Warnf("breakpoint %d: %v", bp.id, err)
		return
	}
	st, ok := parseBreakpointList(out)
	if !ok {
		return
	}
	bp.hits = st.hits
	bp.locations = st.locations
}

// LaunchSimple runs "process launch" on t. lldb replaces any process
// already running for t.
func (e *Engine) LaunchSimple(t engine.Target, args, env []string, wd string) (engine.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lt, err := e.target(t)
	if err != nil {
		return nil, err
	}
	if err := e.selectTarget(lt); err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("process launch")
	if wd != "" {
		b.WriteString(" --working-dir " + quote(wd))
	}
	for _, kv := range env {
		b.WriteString(" -E " + quote(kv))
	}
	if len(args) > 0 {
		b.WriteString(" --")
		for _, arg := range args {
			b.WriteString(" " + quote(arg))
		}
	}
	out, err := e.exec("%s", b.String())
	if err != nil {
		return nil, err
	}
	if msg, ok := lldbError(out); ok {
		return nil, errors.New(msg)
	}
	m := processLaunchRx.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("unexpected answer to process launch: %q", out)
	}
	pid, _ := strconv.Atoi(m[1])
	p := e.procs[pid]
	if p == nil {
		p = &process{e: e, t: lt, pid: pid, state: engine.StateRunning}
		e.procs[pid] = p
	}
	if lt.proc != nil && lt.proc != p {
		lt.proc.state = engine.StateExited
	}
	lt.proc = p
	// Events in the same answer, a stop at a breakpoint for example,
	// were dispatched before p was tracked.
	for _, ev := range parseProcessEvents(out) {
		if ev.pid == pid {
			p.state = ev.state
			p.status = ev.status
		}
	}
	if p.state == engine.StateExited {
		lt.proc = nil
	}
	e.log.Debugf("launched %s, pid %d", lt.path, pid)
	return p, nil
}

// DestroyProcess kills p. Processes that already exited and nil are
// ignored.
func (e *Engine) DestroyProcess(p engine.Process) error {
	lp, _ := p.(*process)
	if lp == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if lp.e != e {
		return fmt.Errorf("process %d does not belong to this engine", lp.pid)
	}
	if lp.state == engine.StateExited || lp.t.proc != lp {
		return nil
	}
	if err := e.selectTarget(lp.t); err != nil {
		return err
	}
	out, err := e.exec("process kill")
	if err != nil {
		return err
	}
	lp.state = engine.StateExited
	lp.t.proc = nil
	if msg, ok := lldbError(out); ok && !strings.Contains(msg, "no process") && !strings.Contains(msg, "must be launched") {
		return fmt.Errorf("process kill: %s", msg)
	}
	return nil
}
