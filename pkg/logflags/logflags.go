package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var session = false
var engine = false
var lldbWire = false
var lldbOutput = false
var dap = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

// Session returns true if the session controller should log.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the session controller.
func SessionLogger() Logger {
	return makeLogger(session, Fields{"layer": "session"})
}

// Engine returns true if the lldb engine should log the commands it
// issues and the results it parses.
func Engine() bool {
	return engine
}

// EngineLogger returns a logger for the lldb engine.
func EngineLogger() Logger {
	return makeLogger(engine, Fields{"layer": "engine"})
}

// LLDBWire returns true if every line exchanged with lldb should be logged.
func LLDBWire() bool {
	return lldbWire
}

// LLDBWireLogger returns a configured logger for the lldb command channel.
func LLDBWireLogger() Logger {
	return makeLogger(lldbWire, Fields{"layer": "lldbwire"})
}

// LLDBOutput returns true if the raw output of lldb should be copied to
// standard output instead of being consumed silently.
func LLDBOutput() bool {
	return lldbOutput
}

// DAP returns true if the DAP server should log all messages.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP server.
func DAPLogger() Logger {
	return makeLogger(dap, Fields{"layer": "dap"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dbgctl-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "session":
			session = true
		case "engine":
			engine = true
		case "lldbwire":
			lldbWire = true
		case "lldbout":
			lldbOutput = true
		case "dap":
			dap = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dbgctl help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// Writer returns the destination of log messages, standard error unless
// redirected by Setup.
func Writer() io.Writer {
	if logOut != nil {
		return logOut
	}
	return os.Stderr
}
