// Package dap implements VSCode's Debug Adaptor Protocol (DAP) on top of a
// debug session. The frontend runs dbgctl in dap mode listening on a port
// and drives attach, launch, stop and breakpoint creation through DAP
// requests. Requests are processed synchronously, one at a time.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/go-dap"

	"github.com/go-delve/dbgctl/pkg/logflags"
	"github.com/go-delve/dbgctl/service/session"
)

// Config is the configuration of a DAP server.
type Config struct {
	// Listener is used to accept the client connection.
	Listener net.Listener
	// DisconnectChan, if not nil, is closed by the server when the client
	// disconnects or the connection fails. Once closed, Stop must be
	// called.
	DisconnectChan chan<- struct{}
}

// Server implements a DAP server that accepts a single client and drives
// one session.
// The server operates via two goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, issuing operations to the
// session and sending back events and responses.
type Server struct {
	config   *Config
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed.
	stopChan chan struct{}
	reader   *bufio.Reader
	session  *session.Session
	log      logflags.Logger

	sendMu sync.Mutex
}

// NewServer creates a new DAP Server over sess. It takes ownership of
// config.Listener.
func NewServer(config *Config, sess *session.Session) *Server {
	logger := logflags.DAPLogger()
	logger.Debug("DAP server pid = ", os.Getpid())
	s := &Server{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		session:  sess,
		log:      logger,
	}
	sess.Subscribe(s.onSessionUpdate)
	return s
}

// Stop closes the listener and the client connection and tears down the
// process of the session, if any. It must not be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	s.sendMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.sendMu.Unlock()
	if _, err := s.session.Stop(); err != nil {
		s.log.Error(err)
	}
}

// signalDisconnect closes config.DisconnectChan if not nil. It is safe to
// call more than once, but only from the run goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.sendMu.Lock()
		s.conn = conn
		s.sendMu.Unlock()
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client until it
// encounters an error or EOF, when it sends the disconnect signal and
// returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		if s.handleRequest(request) {
			return
		}
	}
}

// handleRequest dispatches request and returns true if the client asked
// to disconnect.
func (s *Server) handleRequest(request dap.Message) (disconnect bool) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.SetFunctionBreakpointsRequest:
		s.onSetFunctionBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Always sent by vscode even though no filters are advertised.
		s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.RestartRequest:
		s.onRestartRequest(request)
	case *dap.TerminateRequest:
		s.onTerminateRequest(request)
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
		return true
	case *dap.ThreadsRequest:
		// Required even though no threads are ever reported.
		s.send(&dap.ThreadsResponse{
			Response: *newResponse(request.Request),
			Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{}},
		})
	case dap.RequestMessage:
		s.sendUnsupportedErrorResponse(*request.GetRequest())
	default:
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
	}
	return false
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn == nil {
		return
	}
	dap.WriteProtocolMessage(s.conn, message)
}

// onSessionUpdate forwards every session status to the client console.
func (s *Server) onSessionUpdate(u session.Update) {
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Category: "console",
			Output:   fmt.Sprintf("%s: %s\n", u.Status, u.Message),
		},
	})
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = true
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportsRestartRequest = true
	s.send(response)
}

// onLaunchRequest binds the program of the launch configuration. The
// process itself is started by configurationDone.
func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	var args LaunchConfig
	if err := unmarshalLaunchArgs(request.Arguments, &args); err != nil {
		s.sendErrorResponse(request.Request, UnableToDecodeLaunchInput, "Failed to launch", err.Error())
		return
	}
	if args.Program == "" {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			"The program attribute is missing in debug configuration.")
		return
	}
	if _, err := s.session.Bind(args.BaseDir, args.Program); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

// onSetBreakpointsRequest creates the requested breakpoints that do not
// exist yet. Breakpoints missing from the request are kept, the session
// never deletes breakpoints.
func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	path := request.Arguments.Source.Path
	if path == "" {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "empty file path")
		return
	}
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, want := range request.Arguments.Breakpoints {
		bp := s.session.LocationBreakpoint(path, want.Line)
		var err error
		if bp == nil {
			bp, err = s.session.CreateByLocation(path, strconv.Itoa(want.Line))
		}
		response.Body.Breakpoints[i] = breakpointResponse(bp, err, want.Line)
	}
	s.send(response)
}

func (s *Server) onSetFunctionBreakpointsRequest(request *dap.SetFunctionBreakpointsRequest) {
	response := &dap.SetFunctionBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, want := range request.Arguments.Breakpoints {
		bp := s.session.FunctionBreakpoint(want.Name)
		var err error
		if bp == nil {
			bp, err = s.session.CreateByName(want.Name)
		}
		response.Body.Breakpoints[i] = breakpointResponse(bp, err, 0)
	}
	s.send(response)
}

func breakpointResponse(bp *session.Breakpoint, err error, line int) dap.Breakpoint {
	if err != nil {
		return dap.Breakpoint{Verified: false, Message: err.Error(), Line: line}
	}
	return dap.Breakpoint{Id: bp.ID, Verified: true, Line: bp.Line}
}

// onConfigurationDoneRequest launches the bound program.
func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if _, err := s.session.Launch(); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	s.sendProcessEvent()
}

// onRestartRequest launches the program again, tearing down the running
// process first.
func (s *Server) onRestartRequest(request *dap.RestartRequest) {
	if _, err := s.session.Launch(); err != nil {
		s.sendErrorResponse(request.Request, UnableToRestart, "Unable to restart", err.Error())
		return
	}
	s.send(&dap.RestartResponse{Response: *newResponse(request.Request)})
	s.sendProcessEvent()
}

func (s *Server) onTerminateRequest(request *dap.TerminateRequest) {
	if _, err := s.session.Stop(); err != nil {
		s.sendErrorResponse(request.Request, UnableToStop, "Unable to terminate", err.Error())
		return
	}
	s.send(&dap.TerminateResponse{Response: *newResponse(request.Request)})
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

// onDisconnectRequest stops the process and signals that the debug
// adaptor can be terminated.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	if _, err := s.session.Stop(); err != nil {
		s.log.Error(err)
	}
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
}

func (s *Server) sendProcessEvent() {
	s.send(&dap.ProcessEvent{
		Event: *newEvent("process"),
		Body: dap.ProcessEventBody{
			Name:            s.session.ExecutablePath(),
			SystemProcessId: s.session.PID(),
			IsLocalProcess:  true,
			StartMethod:     "launch",
		},
	})
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process %q request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
