package dap

import (
	"flag"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-dap"

	"github.com/go-delve/dbgctl/pkg/engine/enginetest"
	"github.com/go-delve/dbgctl/pkg/logflags"
	"github.com/go-delve/dbgctl/service/dap/daptest"
	"github.com/go-delve/dbgctl/service/session"
)

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

type fixture struct {
	session *session.Session
	// dir holds an executable named "prog".
	dir string
}

func runTest(t *testing.T, test func(c *daptest.Client, f fixture)) {
	runTestWithEngine(t, enginetest.New(), test)
}

// runTestWithEngine runs test against a server over eng. eng must be fully
// configured, it is shared with the server goroutine.
func runTestWithEngine(t *testing.T, eng *enginetest.Engine, test func(c *daptest.Client, f fixture)) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prog"), []byte("\x7fELF"), 0755); err != nil {
		t.Fatal(err)
	}
	sess := session.New(eng, &session.Config{WorkingDir: dir})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server := NewServer(&Config{
		Listener:       listener,
		DisconnectChan: disconnectChan,
	}, sess)
	server.Run()

	var stopOnce sync.Once
	// Stop the server when disconnectChan is signaled, so tests can check
	// that certain requests cause the server to stop.
	go func() {
		<-disconnectChan
		stopOnce.Do(func() { server.Stop() })
	}()

	client := daptest.NewClient(t, listener.Addr().String())
	defer client.Close()
	defer func() {
		stopOnce.Do(func() { server.Stop() })
	}()

	test(client, fixture{session: sess, dir: dir})
}

// expect reads the next message, skipping output events, and fails
// unless it is of the same type as want.
func expect(t *testing.T, c *daptest.Client, want dap.Message) dap.Message {
	t.Helper()
	for {
		m := c.ExpectMessage(t)
		if _, ok := m.(*dap.OutputEvent); ok {
			if _, wantOutput := want.(*dap.OutputEvent); !wantOutput {
				continue
			}
		}
		if reflect.TypeOf(m) != reflect.TypeOf(want) {
			t.Fatalf("got %#v, want %T", m, want)
		}
		return m
	}
}

func launch(t *testing.T, c *daptest.Client, f fixture) {
	t.Helper()
	c.InitializeRequest()
	expect(t, c, &dap.InitializeResponse{})
	c.LaunchRequest(map[string]interface{}{"program": "prog", "baseDir": f.dir})
	if out := c.ExpectOutputEvent(t); !strings.HasPrefix(out, "Attached: ") {
		t.Errorf("got output %q, want Attached status", out)
	}
	expect(t, c, &dap.InitializedEvent{})
	expect(t, c, &dap.LaunchResponse{})
}

func TestInitialize(t *testing.T) {
	runTest(t, func(c *daptest.Client, f fixture) {
		c.InitializeRequest()
		resp := expect(t, c, &dap.InitializeResponse{}).(*dap.InitializeResponse)
		if !resp.Body.SupportsConfigurationDoneRequest || !resp.Body.SupportsFunctionBreakpoints ||
			!resp.Body.SupportsTerminateRequest || !resp.Body.SupportsRestartRequest {
			t.Errorf("missing capabilities: %#v", resp.Body)
		}
		if resp.Body.SupportsStepBack || resp.Body.SupportsSetVariable {
			t.Errorf("unexpected capabilities: %#v", resp.Body)
		}
	})
}

func TestLaunchRunTerminate(t *testing.T) {
	runTest(t, func(c *daptest.Client, f fixture) {
		launch(t, c, f)
		if f.session.State() != session.Attached {
			t.Fatalf("state %v after launch, want Attached", f.session.State())
		}

		c.SetFunctionBreakpointsRequest([]string{"main"})
		fbp := expect(t, c, &dap.SetFunctionBreakpointsResponse{}).(*dap.SetFunctionBreakpointsResponse)
		if len(fbp.Body.Breakpoints) != 1 || !fbp.Body.Breakpoints[0].Verified || fbp.Body.Breakpoints[0].Id != 1 {
			t.Errorf("got %#v, want one verified breakpoint with id 1", fbp.Body.Breakpoints)
		}

		c.ConfigurationDoneRequest()
		if out := c.ExpectOutputEvent(t); !strings.HasPrefix(out, "Running: ") {
			t.Errorf("got output %q, want Running status", out)
		}
		expect(t, c, &dap.ConfigurationDoneResponse{})
		pe := expect(t, c, &dap.ProcessEvent{}).(*dap.ProcessEvent)
		if pe.Body.SystemProcessId != 1000 || pe.Body.Name != filepath.Join(f.dir, "prog") {
			t.Errorf("unexpected process event %#v", pe.Body)
		}

		c.RestartRequest()
		if out := c.ExpectOutputEvent(t); !strings.HasPrefix(out, "Restarted: ") {
			t.Errorf("got output %q, want Restarted status", out)
		}
		expect(t, c, &dap.RestartResponse{})
		pe = expect(t, c, &dap.ProcessEvent{}).(*dap.ProcessEvent)
		if pe.Body.SystemProcessId != 1001 {
			t.Errorf("got pid %d after restart, want 1001", pe.Body.SystemProcessId)
		}

		c.ThreadsRequest()
		tr := expect(t, c, &dap.ThreadsResponse{}).(*dap.ThreadsResponse)
		if len(tr.Body.Threads) != 0 {
			t.Errorf("got threads %#v", tr.Body.Threads)
		}

		c.TerminateRequest()
		expect(t, c, &dap.TerminateResponse{})
		expect(t, c, &dap.TerminatedEvent{})
		if f.session.State() != session.Attached {
			t.Errorf("state %v after terminate, want Attached", f.session.State())
		}
		if pid := f.session.PID(); pid != 0 {
			t.Errorf("process %d still live", pid)
		}

		c.DisconnectRequest()
		expect(t, c, &dap.DisconnectResponse{})
	})
}

func TestLaunchErrors(t *testing.T) {
	runTest(t, func(c *daptest.Client, f fixture) {
		c.InitializeRequest()
		expect(t, c, &dap.InitializeResponse{})

		c.LaunchRequest(map[string]interface{}{})
		er := c.ExpectErrorResponse(t)
		if er.Body.Error == nil || er.Body.Error.Id != FailedToLaunch {
			t.Errorf("got %#v, want FailedToLaunch", er.Body.Error)
		}

		c.LaunchRequest(map[string]interface{}{"program": 42})
		er = c.ExpectErrorResponse(t)
		if er.Body.Error == nil || er.Body.Error.Id != UnableToDecodeLaunchInput {
			t.Errorf("got %#v, want UnableToDecodeLaunchInput", er.Body.Error)
		}

		c.LaunchRequest(map[string]interface{}{"program": "missing.bin", "baseDir": f.dir})
		if out := c.ExpectOutputEvent(t); !strings.HasPrefix(out, "InvalidExecutable: ") {
			t.Errorf("got output %q, want InvalidExecutable status", out)
		}
		er = c.ExpectErrorResponse(t)
		if !strings.Contains(er.Body.Error.Format, "not an executable file") {
			t.Errorf("got %q", er.Body.Error.Format)
		}

		c.ConfigurationDoneRequest()
		if out := c.ExpectOutputEvent(t); !strings.HasPrefix(out, "NoTarget: ") {
			t.Errorf("got output %q, want NoTarget status", out)
		}
		er = c.ExpectErrorResponse(t)
		if er.Body.Error.Id != FailedToLaunch {
			t.Errorf("got %#v, want FailedToLaunch", er.Body.Error)
		}
		if f.session.State() != session.Idle {
			t.Errorf("state %v, want Idle", f.session.State())
		}
	})
}

func TestSetBreakpoints(t *testing.T) {
	eng := enginetest.New()
	eng.Unresolved["/src/main.c:99"] = true
	runTestWithEngine(t, eng, func(c *daptest.Client, f fixture) {
		launch(t, c, f)

		c.SetBreakpointsRequest("/src/main.c", []int{5, 99})
		resp := expect(t, c, &dap.SetBreakpointsResponse{}).(*dap.SetBreakpointsResponse)
		bps := resp.Body.Breakpoints
		if len(bps) != 2 {
			t.Fatalf("got %d breakpoints, want 2", len(bps))
		}
		if !bps[0].Verified || bps[0].Line != 5 {
			t.Errorf("got %#v, want verified breakpoint at line 5", bps[0])
		}
		if bps[1].Verified || bps[1].Line != 99 || !strings.Contains(bps[1].Message, "could not be resolved") {
			t.Errorf("got %#v, want unverified breakpoint at line 99", bps[1])
		}

		// Line 5 is already set, only line 7 is new. Nothing is removed.
		c.SetBreakpointsRequest("/src/main.c", []int{5, 7})
		resp = expect(t, c, &dap.SetBreakpointsResponse{}).(*dap.SetBreakpointsResponse)
		if len(resp.Body.Breakpoints) != 2 || resp.Body.Breakpoints[0].Id != bps[0].Id {
			t.Errorf("got %#v", resp.Body.Breakpoints)
		}
		c.SetBreakpointsRequest("/src/main.c", nil)
		expect(t, c, &dap.SetBreakpointsResponse{})

		if n := len(f.session.List()); n != 2 {
			t.Errorf("registry has %d breakpoints, want 2", n)
		}

		c.SetBreakpointsRequest("", []int{1})
		c.ExpectErrorResponse(t)
	})
}

func TestUnsupportedRequest(t *testing.T) {
	runTest(t, func(c *daptest.Client, f fixture) {
		c.StackTraceRequest()
		er := c.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnsupportedCommand || er.Command != "stackTrace" {
			t.Errorf("got %#v", er)
		}
	})
}
