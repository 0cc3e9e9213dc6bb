// Package terminal implements functions for responding to user
// input and dispatching to appropriate session operations.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/dbgctl/service/session"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc

	// needsTarget commands are only completed once an executable is bound.
	needsTarget bool
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the dbgctl terminal.
type Commands struct {
	cmds []command
	// names indexes every alias, for completion. Rebuilt when commands or
	// aliases change.
	names *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"attach", "a"}, group: runCmds, cmdFn: attach, helpMsg: `Binds an executable.

	attach [base] <executable>

The executable path is base and executable joined with a path separator.
When base is omitted the base-dir of the configuration file is used.
Quote paths containing spaces. Attaching while a process is running kills
the process.`},
		{aliases: []string{"run", "r", "restart"}, group: runCmds, needsTarget: true, cmdFn: run, helpMsg: `Launches the bound executable.

	run

A running process is killed first and the executable is started again.`},
		{aliases: []string{"stop", "kill"}, group: runCmds, needsTarget: true, cmdFn: stop, helpMsg: `Kills the running process.

	stop

The executable stays bound, use "run" to start it again.`},
		{aliases: []string{"break", "b"}, group: breakCmds, needsTarget: true, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <function>
	break <file>:<line>
	break <file> <line>

Function breakpoints are looked up in the bound executable. Breakpoints on
a file location are only kept when the location resolves.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"status"}, cmdFn: status, helpMsg: "Prints the session state, the bound executable and the running process."},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of dbgctl commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit

The running process, if any, is killed.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.index()
	return c
}

func (c *Commands) index() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, nil)
		}
	}
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

func (c *Commands) needsTarget(cmdstr string) bool {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.needsTarget
		}
	}
	return false
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.index()
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.index()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	// argv wraps the backtick error in its own message.
	var backtickErr error
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			backtickErr = fmt.Errorf("backtick not supported in '%s'", s)
			return "", backtickErr
		},
		nil)
	if backtickErr != nil {
		return nil, backtickErr
	}
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// Session operations report their outcome through the status line printed
// for every update, the commands below only return usage errors.

func attach(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	base, exec := t.conf.BaseDir, ""
	switch len(v) {
	case 1:
		exec = v[0]
	case 2:
		base, exec = v[0], v[1]
	default:
		return errors.New("wrong number of arguments: attach [base] <executable>")
	}
	t.sess.Bind(base, exec)
	return nil
}

func run(t *Term, args string) error {
	if args != "" {
		return errors.New("run does not take arguments")
	}
	t.sess.Launch()
	return nil
}

func stop(t *Term, args string) error {
	if args != "" {
		return errors.New("stop does not take arguments")
	}
	t.sess.Stop()
	return nil
}

var errBreakUsage = errors.New("wrong number of arguments: break <function> | <file>:<line> | <file> <line>")

func breakpoint(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	switch len(v) {
	case 1:
		if file, line, ok := splitLocation(v[0]); ok {
			t.sess.CreateByLocation(file, line)
		} else {
			t.sess.CreateByName(v[0])
		}
	case 2:
		t.sess.CreateByLocation(v[0], v[1])
	default:
		return errBreakUsage
	}
	return nil
}

// splitLocation splits a file:line location at its last colon. Qualified
// function names such as ns::fn are not locations.
func splitLocation(s string) (file, line string, ok bool) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || s[idx-1] == ':' {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func breakpoints(t *Term, args string) error {
	rows := t.sess.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints.")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "Id\tLocation\tHit Count\tTarget")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.ID, r.Location, r.HitCount, r.Target)
	}
	return w.Flush()
}

func status(t *Term, args string) error {
	state := t.sess.State()
	t.Println("State: ", state.String())
	if state == session.Idle {
		return nil
	}
	t.Println("Executable: ", t.sess.ExecutablePath())
	if pid := t.sess.PID(); pid != 0 {
		t.Println("Process: ", fmt.Sprintf("%d", pid))
	}
	t.Println("Breakpoints: ", fmt.Sprintf("%d", len(t.sess.List())))
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

// ExitRequestError is returned when the user
// exits dbgctl.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
