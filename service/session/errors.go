package session

import "errors"

var (
	// ErrInvalidExecutable is returned by Bind when the executable path does
	// not name a regular file.
	ErrInvalidExecutable = errors.New("not an executable file")
	// ErrEngineAttachFailed is returned by Bind when the engine could not
	// create a target.
	ErrEngineAttachFailed = errors.New("could not create target")
	// ErrNoTarget is returned by operations that need a bound target.
	ErrNoTarget = errors.New("no target")
	// ErrInvalidLineNumber is returned by CreateByLocation when the line is
	// not a positive integer.
	ErrInvalidLineNumber = errors.New("invalid line number")
	// ErrUnresolvedLocation is returned by CreateByLocation when the engine
	// could not resolve the location.
	ErrUnresolvedLocation = errors.New("location could not be resolved")
	// ErrEngine wraps failures reported by the engine itself.
	ErrEngine = errors.New("debugger engine error")
)

var errorStatus = []struct {
	err    error
	status Status
}{
	{ErrInvalidExecutable, StatusInvalidExecutable},
	{ErrEngineAttachFailed, StatusEngineAttachFailed},
	{ErrNoTarget, StatusNoTarget},
	{ErrInvalidLineNumber, StatusInvalidLineNumber},
	{ErrUnresolvedLocation, StatusUnresolvedLocation},
	{ErrEngine, StatusEngineError},
}

// StatusOf returns the status reported for err. Errors not produced by
// this package map to StatusEngineError.
func StatusOf(err error) Status {
	for _, es := range errorStatus {
		if errors.Is(err, es.err) {
			return es.status
		}
	}
	return StatusEngineError
}
