//go:build !linux && !darwin
// +build !linux,!darwin

package lldbcli

// Launch starts lldb on a pseudo terminal and returns an engine driving
// it.
func Launch(cfg Config) (*Engine, error) {
	return nil, ErrUnsupportedPlatform
}
