package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/go-delve/dbgctl/pkg/config"
	"github.com/go-delve/dbgctl/pkg/terminal/starbind"
	"github.com/go-delve/dbgctl/service/session"
)

const (
	historyFile                 string = ".dbgctl_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed   = 31
	ansiGreen = 32
	ansiBlue  = 34
)

// Term represents the terminal running dbgctl.
type Term struct {
	sess   *session.Session
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout io.Writer
	// colors is set when stdout is a terminal able to render escape codes.
	colors   bool
	InitFile string
	// bound tracks whether the last session update had a target bound.
	bound bool

	starlarkEnv *starbind.Env
}

// New returns a new Term driving sess. Every session update is printed as
// a status line.
func New(sess *session.Session, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	var out io.Writer = os.Stdout
	colors := false
	if !dumb {
		out, colors = getColorableWriter()
	}

	t := &Term{
		sess:   sess,
		conf:   conf,
		prompt: "(dbgctl) ",
		cmds:   cmds,
		dumb:   dumb,
		stdout: out,
		colors: colors,
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t)
	sess.Subscribe(t.printUpdate)
	return t
}

// Write writes p to the terminal output.
func (t *Term) Write(p []byte) (int, error) {
	return t.stdout.Write(p)
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(t.stdout, "received SIGINT, type 'stop' to kill the process or 'exit' to quit\n")
	}
}

// Run begins running dbgctl in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stdout, "Unable to load history file: %v.\n", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stdout, "Unable to open history file: %v. History will not be saved for this session.\n", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			if err == liner.ErrPromptAborted {
				continue
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal, with prefix highlighted.
func (t *Term) Println(prefix, str string) {
	t.printColored(ansiBlue, prefix, str)
}

func (t *Term) printColored(color int, prefix, str string) {
	if t.colors {
		prefix = fmt.Sprintf(terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode, color, prefix)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// printUpdate prints the status line of a session update, green for
// successful operations and red for failed ones.
func (t *Term) printUpdate(u session.Update) {
	t.bound = u.TargetBound()
	color := ansiGreen
	if u.Status.Failed() {
		color = ansiRed
	}
	t.printColored(color, u.Status.String()+": ", u.Message)
}

// complete completes command names. Commands acting on the bound
// executable are left out while none is bound.
func (t *Term) complete(line string) []string {
	names := t.cmds.complete(line)
	if t.bound {
		return names
	}
	r := names[:0]
	for _, name := range names {
		if !t.cmds.needsTarget(name) {
			r = append(r, name)
		}
	}
	return r
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// handleExit saves the command history and kills the live process, if
// there is one.
func (t *Term) handleExit() (int, error) {
	t.saveHistory()

	if t.sess.State() == session.Running {
		if _, err := t.sess.Stop(); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

func (t *Term) saveHistory() {
	if t.line == nil {
		return
	}
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(t.stdout, "Error saving history file:", err)
		return
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
		if _, err := t.line.WriteHistory(f); err != nil {
			fmt.Fprintln(t.stdout, "readline history error:", err)
		}
		f.Close()
	}
}
