package lldbcli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-delve/dbgctl/pkg/logflags"
)

// prompt is installed as the lldb prompt at startup, every response ends
// with it.
const prompt = "(dbgctl-lldb) "

const wireMaxLen = 120

// ErrTimeout is returned when lldb does not answer a command in time.
var ErrTimeout = errors.New("timed out waiting for lldb")

var errClosed = errors.New("lldb connection closed")

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// conn is the command channel to an lldb process. Commands are sent one
// line at a time and their output is everything lldb prints before the
// next prompt.
type conn struct {
	w io.Writer

	// mu guards the output read by readLoop and not yet consumed.
	mu      sync.Mutex
	pending []byte
	readErr error
	// ready and wake are signalled after every read, ready for a command
	// waiting on its answer, wake for the engine watcher.
	ready chan struct{}
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	// exited is closed when readLoop returns.
	exited chan struct{}

	buf []byte

	timeout time.Duration
	// stale counts prompts still owed by commands that timed out.
	stale int

	// events is called with every block of output read, including output
	// that is not the answer to any command.
	events func(string)

	echo io.Writer
	log  logflags.Logger
}

func newConn(rw io.ReadWriter, timeout time.Duration) *conn {
	c := &conn{
		w:       rw,
		ready:   make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		timeout: timeout,
		log:     logflags.LLDBWireLogger(),
	}
	if logflags.LLDBOutput() {
		c.echo = os.Stdout
	}
	go c.readLoop(rw)
	return c
}

// readLoop reads lldb output until the channel is closed. It never waits
// for the output to be consumed.
func (c *conn) readLoop(r io.Reader) {
	defer close(c.exited)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if c.echo != nil {
				c.echo.Write(buf[:n])
			}
			c.mu.Lock()
			c.pending = append(c.pending, buf[:n]...)
			c.mu.Unlock()
			c.signal()
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			c.signal()
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *conn) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// close stops readLoop and the engine watcher.
func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// take moves the output read so far into c.buf. It returns the read error
// once all output before it was taken.
func (c *conn) take() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		c.buf = append(c.buf, c.pending...)
		c.pending = nil
	}
	return c.readErr
}

// promptIndex returns the index of the first prompt in buf that starts a
// line, or -1.
func promptIndex(buf []byte) int {
	off := 0
	for {
		i := bytes.Index(buf[off:], []byte(prompt))
		if i < 0 {
			return -1
		}
		i += off
		if i == 0 || buf[i-1] == '\n' || buf[i-1] == '\r' {
			return i
		}
		off = i + 1
	}
}

// readPrompt returns everything up to the next prompt.
func (c *conn) readPrompt() (string, error) {
	var deadline <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		readErr := c.take()
		if i := promptIndex(c.buf); i >= 0 {
			out := string(c.buf[:i])
			c.buf = c.buf[i+len(prompt):]
			return out, nil
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", readErr
		}
		select {
		case <-c.ready:
		case <-deadline:
			return "", ErrTimeout
		case <-c.done:
			return "", errClosed
		}
	}
}

// drain consumes output lldb printed while no command was in flight, such
// as process state changes and program output, without waiting. Late
// answers to timed out commands are dropped.
func (c *conn) drain() {
	c.take()
	for {
		i := promptIndex(c.buf)
		if i < 0 {
			break
		}
		out := string(c.buf[:i])
		c.buf = c.buf[i+len(prompt):]
		if c.stale > 0 {
			c.stale--
			continue
		}
		c.dispatch(clean(out, ""))
	}
	if c.stale > 0 {
		return
	}
	// Complete lines can not be the start of a prompt.
	if i := bytes.LastIndexByte(c.buf, '\n'); i >= 0 {
		out := string(c.buf[:i+1])
		c.buf = c.buf[i+1:]
		c.dispatch(clean(out, ""))
	}
}

func (c *conn) dispatch(out string) {
	if c.events != nil && out != "" {
		c.events(out)
	}
}

// handshake waits for the first prompt.
func (c *conn) handshake() error {
	out, err := c.readPrompt()
	if err != nil {
		return fmt.Errorf("waiting for lldb prompt: %w", err)
	}
	c.dispatch(clean(out, ""))
	return nil
}

// exec sends cmd and returns its cleaned output.
func (c *conn) exec(cmd string) (string, error) {
	for c.stale > 0 {
		if _, err := c.readPrompt(); err != nil {
			return "", fmt.Errorf("lldb did not answer a previous command: %w", err)
		}
		c.stale--
	}
	c.drain()
	if logflags.LLDBWire() {
		c.log.Debugf("<- %s", cmd)
	}
	if _, err := io.WriteString(c.w, cmd+"\n"); err != nil {
		return "", err
	}
	out, err := c.readPrompt()
	if err != nil {
		if err == ErrTimeout {
			c.stale++
		}
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	out = clean(out, cmd)
	if logflags.LLDBWire() {
		s := out
		if len(s) > wireMaxLen {
			s = s[:wireMaxLen] + "..."
		}
		c.log.Debugf("-> %q", s)
	}
	c.dispatch(out)
	return out, nil
}

// clean removes terminal escapes and carriage returns from out, and the
// echo of cmd if lldb repeated it.
func clean(out, cmd string) string {
	out = ansiEscape.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\r", "")
	if cmd != "" {
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			if strings.TrimSpace(out[:i]) == strings.TrimSpace(cmd) {
				out = out[i+1:]
			}
		} else if strings.TrimSpace(out) == strings.TrimSpace(cmd) {
			out = ""
		}
	}
	return strings.TrimRight(out, "\n ")
}
