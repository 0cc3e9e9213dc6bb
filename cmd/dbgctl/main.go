package main

import (
	"os"

	"github.com/go-delve/dbgctl/cmd/dbgctl/cmds"
	"github.com/go-delve/dbgctl/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.DbgctlVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
