package dap

import (
	"encoding/json"
	"fmt"
)

// LaunchConfig is the collection of launch request attributes recognized
// by the dbgctl DAP server.
type LaunchConfig struct {
	// Path to the program to debug. Required.
	Program string `json:"program,omitempty"`
	// BaseDir is prefixed to Program, with a separator when needed.
	BaseDir string `json:"baseDir,omitempty"`
}

// unmarshalLaunchArgs wraps unmarshalling of the launch request's
// arguments attribute. Upon unmarshal failure, it returns an error massaged
// to be suitable for end-users.
func unmarshalLaunchArgs(input json.RawMessage, config *LaunchConfig) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// "json: cannot unmarshal number into Go struct field LaunchConfig.program of type string"
			//   => "cannot unmarshal number into "program" of type string"
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, uerr.Type.String())
		}
		return err
	}
	return nil
}
