package session

import (
	"fmt"

	"github.com/go-delve/dbgctl/pkg/engine"
)

// lifecycle owns the process slot of a session. At most one process is
// live at a time.
type lifecycle struct {
	proc engine.Process
}

func (l *lifecycle) live() bool {
	return l.proc != nil
}

// reap empties the slot if its process exited on its own and returns the
// pid it held.
func (l *lifecycle) reap() int {
	if l.proc == nil || l.proc.State() != engine.StateExited {
		return 0
	}
	pid := l.proc.PID()
	l.proc = nil
	return pid
}

// teardown destroys the current process, if any. The slot is empty
// afterwards even if the engine reports an error.
func (l *lifecycle) teardown(e engine.Engine) error {
	p := l.proc
	l.proc = nil
	if err := e.DestroyProcess(p); err != nil {
		return fmt.Errorf("%w: could not destroy process: %v", ErrEngine, err)
	}
	return nil
}

// launch starts a new process from t. The slot must be empty. Whatever
// process the engine returns replaces the slot, even with an error.
func (l *lifecycle) launch(e engine.Engine, t engine.Target, wd string) error {
	p, err := e.LaunchSimple(t, nil, nil, wd)
	if p != nil {
		l.proc = p
	}
	if err != nil {
		return fmt.Errorf("%w: could not launch %s: %v", ErrEngine, t.Path(), err)
	}
	if p == nil {
		return fmt.Errorf("%w: no process launched for %s", ErrEngine, t.Path())
	}
	return nil
}

func (l *lifecycle) pid() int {
	if l.proc == nil {
		return 0
	}
	return l.proc.PID()
}
