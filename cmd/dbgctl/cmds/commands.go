package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/dbgctl/pkg/config"
	"github.com/go-delve/dbgctl/pkg/engine"
	"github.com/go-delve/dbgctl/pkg/engine/lldbcli"
	"github.com/go-delve/dbgctl/pkg/logflags"
	"github.com/go-delve/dbgctl/pkg/terminal"
	"github.com/go-delve/dbgctl/pkg/version"
	"github.com/go-delve/dbgctl/service/dap"
	"github.com/go-delve/dbgctl/service/session"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the DAP server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// workingDir is the working directory for running the program.
	workingDir string
	// baseDir is prefixed to executable paths.
	baseDir string
	// lldbPath is the lldb executable to drive.
	lldbPath string
	// verbose selects the long output of the version command.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

// closingEngine is a debugger engine owning an external process.
type closingEngine interface {
	engine.Engine
	Close() error
}

// newEngine starts the debugger engine described by c.
var newEngine = func(c *config.Config) (closingEngine, error) {
	e, err := lldbcli.Launch(lldbcli.Config{Path: c.LLDBPath, Timeout: c.Timeout()})
	if err != nil {
		return nil, err
	}
	return e, nil
}

const dbgctlCommandLongDesc = `dbgctl is a controller for native debug sessions.

dbgctl binds an executable, sets breakpoints on functions or source lines,
and launches, restarts and kills a single process from it. The debugging
itself is done by lldb, driven over its command line interface.

Use the interactive terminal (the default), or serve the Debug Adapter
Protocol to an editor with 'dbgctl dap'.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main dbgctl root command.
	rootCommand = &cobra.Command{
		Use:   "dbgctl",
		Short: "dbgctl controls native debug sessions.",
		Long:  dbgctlCommandLongDesc,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(""))
		},
	}

	addLogFlags(rootCommand.PersistentFlags())
	addSessionFlags(rootCommand.PersistentFlags())

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <path/to/binary>",
		Short: "Bind a precompiled binary, and begin a debug session.",
		Long: `Bind a precompiled binary and begin a debug session.

The binary is bound but not started, set breakpoints and use 'run' to start
it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(args[0]))
		},
	}
	rootCommand.AddCommand(execCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server supports launch requests naming a precompiled binary with the
'program' attribute, optionally prefixed by 'baseDir'. Breakpoints are
added on setBreakpoints and setFunctionBreakpoints requests, the process is
started on configurationDone. The server does not accept multiple client
connections.`,
		Args: cobra.NoArgs,
		Run:  dapCmd,
	}
	dapCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Debugging server listen address.")
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbgctl\n%s\n", version.DbgctlVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	session		Log session operations and their status
	engine		Log debugger engine calls
	lldbwire	Log the command channel with lldb
	lldbout		Copy output from lldb to standard output
	dap		Log all DAP messages

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "DAP server listening at" message in dap
mode.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func addLogFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&log, "log", "", false, "Enable logging.")
	fs.StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dbgctl help log')`)
	fs.StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dbgctl help log').")
}

// addSessionFlags adds the flags overriding the configuration file.
func addSessionFlags(fs *pflag.FlagSet) {
	fs.StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	fs.StringVar(&workingDir, "wd", "", "Working directory for running the program.")
	fs.StringVar(&baseDir, "base", "", "Directory prefixed to executable paths.")
	fs.StringVar(&lldbPath, "lldb", "", "Path of the lldb executable.")
}

// applyFlags overrides the configuration file with the command line.
func applyFlags(c *config.Config) {
	if lldbPath != "" {
		c.LLDBPath = lldbPath
	}
	if workingDir != "" {
		c.WorkingDir = workingDir
	}
	if baseDir != "" {
		c.BaseDir = baseDir
	}
}

// start sets up logging and the engine, then builds a session over it. The
// returned cleanup function must be called when the session is done.
func start() (*session.Session, func(), error) {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return nil, nil, err
	}
	applyFlags(conf)
	eng, err := newEngine(conf)
	if err != nil {
		logflags.Close()
		return nil, nil, fmt.Errorf("could not start debugger engine: %v", err)
	}
	sess := session.New(eng, &session.Config{
		WorkingDir: conf.WorkingDir,
		Arch:       engine.Arch(conf.Arch),
	})
	cleanup := func() {
		if err := eng.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing debugger engine: %v\n", err)
		}
		logflags.Close()
	}
	return sess, cleanup, nil
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}
		sess, cleanup, err := start()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer cleanup()

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&dap.Config{
			Listener:       listener,
			DisconnectChan: disconnectChan,
		}, sess)
		defer server.Stop()

		server.Run()
		fmt.Fprintf(logflags.Writer(), "DAP server listening at: %s\n", listener.Addr())
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal or the disconnect channel to be closed.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func execute(execFile string) int {
	sess, cleanup, err := start()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cleanup()

	term := terminal.New(sess, conf)
	term.InitFile = initFile
	if execFile != "" {
		sess.Bind(conf.BaseDir, execFile)
	}

	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
