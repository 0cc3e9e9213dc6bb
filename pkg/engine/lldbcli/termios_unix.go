//go:build linux || darwin
// +build linux darwin

package lldbcli

import (
	"os"

	"golang.org/x/sys/unix"
)

// disableEcho turns off echo on the terminal f, lldb would otherwise
// repeat every command back.
func disableEcho(f *os.File) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return err
	}
	t.Lflag &^= unix.ECHO | unix.ECHONL
	return unix.IoctlSetTermios(fd, ioctlWriteTermios, t)
}
