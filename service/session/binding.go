package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-delve/dbgctl/pkg/engine"
)

// JoinExecutablePath joins a base directory and an executable path. A
// separator is inserted only when base is not empty and does not already
// end with one.
func JoinExecutablePath(base, exec string) string {
	if base != "" && !strings.HasSuffix(base, "/") && !strings.HasSuffix(base, `\`) {
		base += string(os.PathSeparator)
	}
	return base + exec
}

// binding holds the target bound to a session.
type binding struct {
	target engine.Target
	path   string
	base   string
	exec   string
	// count is the number of successful binds so far.
	count int
}

func (b *binding) bound() bool {
	return b.target != nil
}

func (b *binding) targetName() string {
	if b.target == nil {
		return ""
	}
	return b.target.Name()
}

// checkExecutable verifies that path names a regular file.
func checkExecutable(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidExecutable)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrInvalidExecutable, path)
	}
	return nil
}

// resolve asks the engine for a target without touching b.
func (b *binding) resolve(e engine.Engine, path string, arch engine.Arch) (engine.Target, error) {
	t, err := e.CreateTarget(path, arch)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrEngineAttachFailed, path, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w for %s", ErrEngineAttachFailed, path)
	}
	return t, nil
}

// replace binds t, returning true if a target was already bound before.
func (b *binding) replace(t engine.Target, path, base, exec string) bool {
	rebind := b.count > 0
	b.target = t
	b.path = path
	b.base = base
	b.exec = exec
	b.count++
	return rebind
}
