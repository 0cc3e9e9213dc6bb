//go:build linux || darwin
// +build linux darwin

package lldbcli

import (
	"fmt"
	"os/exec"

	"github.com/creack/pty"
)

// Launch starts lldb on a pseudo terminal and returns an engine driving
// it.
func Launch(cfg Config) (*Engine, error) {
	path, err := LookPath(cfg.Path)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, "--no-lldbinit", "--no-use-colors",
		"-o", "settings set prompt "+quote(prompt),
		"-o", "settings set auto-confirm true")
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("could not start %s: %w", path, err)
	}
	if err := disableEcho(f); err != nil {
		f.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("could not configure lldb terminal: %w", err)
	}
	e, err := New(f, cfg.Timeout)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("lldb did not start: %w", err)
	}
	e.cmd = cmd
	e.log.Debugf("started %s, pid %d", path, cmd.Process.Pid)
	return e, nil
}
