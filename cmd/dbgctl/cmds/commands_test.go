package cmds

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/dbgctl/pkg/config"
	"github.com/go-delve/dbgctl/pkg/engine/enginetest"
	"github.com/go-delve/dbgctl/service/session"
)

type fakeEngine struct {
	*enginetest.Engine
	closed int
}

func (e *fakeEngine) Close() error {
	e.closed++
	return nil
}

// withFlags resets the command line state and the engine constructor once
// the test is done.
func withFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	saved := newEngine
	t.Cleanup(func() {
		newEngine = saved
		log, logOutput, logDest = false, "", ""
		workingDir, baseDir, lldbPath, initFile = "", "", "", ""
		verbose = false
	})
	conf = &config.Config{}
}

func TestVersion(t *testing.T) {
	withFlags(t)
	root := New()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "dbgctl\nVersion: ")
	assert.NotContains(t, out.String(), "Build Details")
}

func TestExecRequiresBinary(t *testing.T) {
	withFlags(t)
	root := New()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"exec"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "you must provide a path to a binary")
}

func TestStartEngineFailure(t *testing.T) {
	withFlags(t)
	calls := 0
	newEngine = func(c *config.Config) (closingEngine, error) {
		calls++
		return nil, errors.New("lldb not found")
	}
	sess, cleanup, err := start()
	require.Error(t, err)
	assert.Equal(t, "could not start debugger engine: lldb not found", err.Error())
	assert.Nil(t, sess)
	assert.Nil(t, cleanup)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, execute(""))
}

func TestStartLogOutputWithoutLog(t *testing.T) {
	withFlags(t)
	newEngine = func(c *config.Config) (closingEngine, error) {
		t.Fatal("engine started with invalid log flags")
		return nil, nil
	}
	logOutput = "dap"
	_, _, err := start()
	assert.Error(t, err)
}

func TestStartSession(t *testing.T) {
	withFlags(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prog"), []byte("\x7fELF"), 0755))

	fake := &fakeEngine{Engine: enginetest.New()}
	var got *config.Config
	newEngine = func(c *config.Config) (closingEngine, error) {
		got = c
		return fake, nil
	}
	conf = &config.Config{LLDBPath: "/usr/bin/lldb", Arch: "x86_64"}
	lldbPath = "/opt/lldb"
	workingDir = dir
	baseDir = dir

	sess, cleanup, err := start()
	require.NoError(t, err)
	assert.Equal(t, "/opt/lldb", got.LLDBPath)
	assert.Equal(t, dir, got.BaseDir)

	st, err := sess.Bind(conf.BaseDir, "prog")
	require.NoError(t, err)
	assert.Equal(t, session.StatusAttached, st)
	_, err = sess.Launch()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CreateTarget " + filepath.Join(dir, "prog") + ` "x86_64"`,
		"DestroyProcess <nil>",
		"LaunchSimple " + filepath.Join(dir, "prog") + " args=0 env=0 wd=" + dir,
	}, fake.Calls)

	cleanup()
	assert.Equal(t, 1, fake.closed)
}

func TestApplyFlags(t *testing.T) {
	withFlags(t)
	c := &config.Config{LLDBPath: "lldb-14", WorkingDir: "/work", BaseDir: "/base"}
	applyFlags(c)
	assert.Equal(t, &config.Config{LLDBPath: "lldb-14", WorkingDir: "/work", BaseDir: "/base"}, c)

	workingDir = "/elsewhere"
	applyFlags(c)
	assert.Equal(t, "/elsewhere", c.WorkingDir)
	assert.Equal(t, "/base", c.BaseDir)
}

func TestFlags(t *testing.T) {
	withFlags(t)
	root := New()
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"version", "--wd", "/w", "--base", "/b", "--lldb", "lldb-15", "--log", "--log-output", "session,dap"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "/w", workingDir)
	assert.Equal(t, "/b", baseDir)
	assert.Equal(t, "lldb-15", lldbPath)
	assert.True(t, log)
	assert.Equal(t, "session,dap", logOutput)

	lf := root.PersistentFlags().Lookup("log-dest")
	require.NotNil(t, lf)
	assert.Equal(t, "", lf.DefValue)
	dapCommand, _, err := root.Find([]string{"dap"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", dapCommand.Flags().Lookup("listen").DefValue)
}
