package dap

// Unique identifiers for messages returned for errors from requests.
// These values are not mandated by DAP (other than the uniqueness
// requirement), so each implementation is free to choose their own.
const (
	UnsupportedCommand int = 9999
	InternalError      int = 8888

	// Values below are inspired by the vscode-go debug adaptor.
	FailedToLaunch            = 3000
	UnableToSetBreakpoints    = 2002
	UnableToRestart           = 3002
	UnableToStop              = 3003
	UnableToDecodeLaunchInput = 3004
)
