package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/dbgctl/pkg/engine"
	"github.com/go-delve/dbgctl/pkg/engine/enginetest"
)

// writeProgram creates an empty regular file named name in a temporary
// directory and returns the directory.
func writeProgram(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{0x7f, 'E', 'L', 'F'}, 0755))
	return dir
}

func newAttached(t *testing.T) (*Session, *enginetest.Engine, string) {
	t.Helper()
	eng := enginetest.New()
	s := New(eng, &Config{WorkingDir: "/work"})
	dir := writeProgram(t, "realprog")
	st, err := s.Bind(dir, "realprog")
	require.NoError(t, err)
	require.Equal(t, StatusAttached, st)
	return s, eng, dir
}

func TestJoinExecutablePath(t *testing.T) {
	sep := string(os.PathSeparator)
	tests := []struct {
		base, exec, want string
	}{
		{"", "missing.bin", "missing.bin"},
		{"", "/abs/prog", "/abs/prog"},
		{"/tmp", "realprog", "/tmp" + sep + "realprog"},
		{"/tmp/", "realprog", "/tmp/realprog"},
		{`C:\build\`, "prog.exe", `C:\build\prog.exe`},
		{"rel/dir", "a.out", "rel/dir" + sep + "a.out"},
		{"/tmp", "", "/tmp" + sep},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, JoinExecutablePath(tc.base, tc.exec), "base=%q exec=%q", tc.base, tc.exec)
	}
}

func TestParseLineNumber(t *testing.T) {
	good := map[string]int{"1": 1, " 42 ": 42, "\t7\n": 7}
	for in, want := range good {
		n, err := ParseLineNumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, n)
	}
	for _, in := range []string{"", "0", "-3", "not-a-number", "12abc", "1.5"} {
		_, err := ParseLineNumber(in)
		assert.True(t, errors.Is(err, ErrInvalidLineNumber), "%q: %v", in, err)
	}
}

func TestBindMissingExecutable(t *testing.T) {
	eng := enginetest.New()
	s := New(eng, nil)
	st, err := s.Bind("", "missing.bin")
	assert.Equal(t, StatusInvalidExecutable, st)
	assert.True(t, errors.Is(err, ErrInvalidExecutable))
	assert.Equal(t, Idle, s.State())
	assert.Empty(t, s.ExecutablePath())
	assert.Empty(t, eng.Calls, "engine must not be consulted for a missing file")
}

func TestBindDirectoryIsInvalid(t *testing.T) {
	s := New(enginetest.New(), nil)
	st, _ := s.Bind("", t.TempDir())
	assert.Equal(t, StatusInvalidExecutable, st)
	st, _ = s.Bind("", "")
	assert.Equal(t, StatusInvalidExecutable, st)
	assert.Equal(t, Idle, s.State())
}

func TestBindFailureLeavesSessionUntouched(t *testing.T) {
	s, eng, dir := newAttached(t)
	_, err := s.CreateByName("main")
	require.NoError(t, err)
	st, err := s.Launch()
	require.NoError(t, err)
	require.Equal(t, StatusRunning, st)
	path, pid := s.ExecutablePath(), s.PID()

	st, err = s.Bind(dir, "missing.bin")
	assert.Equal(t, StatusInvalidExecutable, st)
	assert.Error(t, err)

	eng.RejectTargets = true
	st, err = s.Bind(dir, "realprog")
	assert.Equal(t, StatusEngineAttachFailed, st)
	assert.True(t, errors.Is(err, ErrEngineAttachFailed))

	eng.RejectTargets = false
	eng.TargetErr = errors.New("bad magic")
	st, err = s.Bind(dir, "realprog")
	assert.Equal(t, StatusEngineAttachFailed, st)
	assert.Contains(t, err.Error(), "bad magic")

	assert.Equal(t, Running, s.State())
	assert.Equal(t, path, s.ExecutablePath())
	assert.Equal(t, pid, s.PID())
	assert.Len(t, s.List(), 1)
	assert.Len(t, eng.Live(), 1)
}

func TestFailedFirstAttachStaysIdle(t *testing.T) {
	eng := enginetest.New()
	eng.RejectTargets = true
	s := New(eng, nil)
	dir := writeProgram(t, "prog")

	var last Update
	s.Subscribe(func(u Update) { last = u })
	st, _ := s.Bind(dir, "prog")
	assert.Equal(t, StatusEngineAttachFailed, st)
	assert.Equal(t, Idle, s.State())
	assert.False(t, last.TargetBound())

	// The next successful bind is still the first one.
	eng.RejectTargets = false
	st, err := s.Bind(dir, "prog")
	require.NoError(t, err)
	assert.Equal(t, StatusAttached, st)
	assert.True(t, last.TargetBound())
}

func TestAttachLaunchStop(t *testing.T) {
	eng := enginetest.New()
	s := New(eng, &Config{WorkingDir: "/work", Arch: "x86_64"})
	dir := writeProgram(t, "realprog")

	st, err := s.Bind(dir+"/", "realprog")
	require.NoError(t, err)
	assert.Equal(t, StatusAttached, st)
	assert.Equal(t, Attached, s.State())
	assert.Equal(t, dir+"/realprog", s.ExecutablePath())
	assert.Equal(t, "realprog", s.TargetName())

	st, err = s.Launch()
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)
	assert.Equal(t, Running, s.State())
	assert.NotZero(t, s.PID())

	st, err = s.Stop()
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, st)
	assert.Equal(t, Attached, s.State())
	assert.Zero(t, s.PID())
	assert.Empty(t, eng.Live())

	assert.Equal(t, []string{
		`CreateTarget ` + dir + `/realprog "x86_64"`,
		"DestroyProcess <nil>",
		"LaunchSimple " + dir + "/realprog args=0 env=0 wd=/work",
		"DestroyProcess 1000",
	}, eng.Calls)
}

func TestLaunchUsesCurrentDirectory(t *testing.T) {
	s, eng, _ := newAttached(t)
	s.config.WorkingDir = ""
	wd, err := os.Getwd()
	require.NoError(t, err)
	_, err = s.Launch()
	require.NoError(t, err)
	calls := eng.CallsWithPrefix("LaunchSimple")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "wd="+wd)
}

func TestReattach(t *testing.T) {
	s, eng, dir := newAttached(t)
	_, err := s.CreateByName("main")
	require.NoError(t, err)
	_, err = s.Launch()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), nil, 0755))
	eng.Reset()
	st, err := s.Bind(dir, "other")
	require.NoError(t, err)
	assert.Equal(t, StatusReattached, st)
	assert.Equal(t, Attached, s.State())
	assert.Empty(t, eng.Live(), "process of the previous target must be gone")
	assert.Equal(t, []string{`CreateTarget ` + filepath.Join(dir, "other") + ` ""`, "DestroyProcess 1000"}, eng.Calls)

	// Breakpoints survive and keep their target.
	_, err = s.CreateByName("init")
	require.NoError(t, err)
	rows := s.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "realprog", rows[0].Target)
	assert.Equal(t, "other", rows[1].Target)

	st, err = s.Bind(dir, "realprog")
	require.NoError(t, err)
	assert.Equal(t, StatusReattached, st)
}

func TestLaunchTwiceRestarts(t *testing.T) {
	s, eng, _ := newAttached(t)
	_, err := s.CreateByName("main")
	require.NoError(t, err)
	_, err = s.Launch()
	require.NoError(t, err)
	path := s.ExecutablePath()
	first := s.PID()

	eng.Reset()
	st, err := s.Launch()
	require.NoError(t, err)
	assert.Equal(t, StatusRestarted, st)
	assert.Equal(t, Running, s.State())
	assert.Equal(t, []string{
		"DestroyProcess 1000",
		"LaunchSimple " + path + " args=0 env=0 wd=/work",
	}, eng.Calls)
	assert.NotEqual(t, first, s.PID())
	assert.Len(t, eng.Live(), 1)
	assert.Len(t, s.List(), 1)
	assert.Equal(t, path, s.ExecutablePath())
}

func TestLaunchEngineFailure(t *testing.T) {
	s, eng, _ := newAttached(t)
	eng.LaunchErr = errors.New("exec format error")
	st, err := s.Launch()
	assert.Equal(t, StatusEngineError, st)
	assert.True(t, errors.Is(err, ErrEngine))
	assert.Equal(t, Attached, s.State())

	// A process handed back together with an error still fills the slot.
	eng.LaunchProcess = &enginetest.Process{Pid: 77, Status: engine.StateStopped}
	st, _ = s.Launch()
	assert.Equal(t, StatusEngineError, st)
	assert.Equal(t, Running, s.State())
	assert.Equal(t, 77, s.PID())

	eng.LaunchErr = nil
	eng.Reset()
	st, err = s.Launch()
	require.NoError(t, err)
	assert.Equal(t, StatusRestarted, st)
	assert.Equal(t, "DestroyProcess 77", eng.Calls[0])
}

func TestStopIdempotent(t *testing.T) {
	eng := enginetest.New()
	s := New(eng, nil)
	for i := 0; i < 2; i++ {
		st, err := s.Stop()
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, st)
		assert.Equal(t, Idle, s.State())
	}

	s, _, _ = newAttached(t)
	for i := 0; i < 2; i++ {
		st, err := s.Stop()
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, st)
		assert.Equal(t, Attached, s.State())
	}

	_, err := s.Launch()
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		st, err := s.Stop()
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, st)
		assert.Equal(t, Attached, s.State())
	}
}

func TestStopEngineFailure(t *testing.T) {
	s, eng, _ := newAttached(t)
	_, err := s.Launch()
	require.NoError(t, err)
	eng.DestroyErr = errors.New("ptrace: no such process")
	st, err := s.Stop()
	assert.Equal(t, StatusEngineError, st)
	assert.Error(t, err)
	assert.Equal(t, Attached, s.State())
	assert.Zero(t, s.PID())
}

func TestLaunchAfterTeardownFailure(t *testing.T) {
	s, eng, _ := newAttached(t)
	_, err := s.Launch()
	require.NoError(t, err)
	eng.DestroyErr = errors.New("ptrace: no such process")
	eng.Reset()

	st, err := s.Launch()
	require.NoError(t, err)
	assert.Equal(t, StatusRestarted, st)
	assert.Equal(t, Running, s.State())
	assert.Equal(t, 1001, s.PID())
	assert.Equal(t, []string{
		"DestroyProcess 1000",
		"LaunchSimple " + s.ExecutablePath() + " args=0 env=0 wd=/work",
	}, eng.Calls)
}

func TestProcessExitsOnItsOwn(t *testing.T) {
	s, eng, _ := newAttached(t)
	var last Update
	s.Subscribe(func(u Update) { last = u })

	_, err := s.Launch()
	require.NoError(t, err)
	eng.Processes[0].Status = engine.StateExited

	// Relaunching an exited process is not a restart.
	st, err := s.Launch()
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)
	assert.Equal(t, Running, s.State())
	assert.Equal(t, 1001, s.PID())

	eng.Processes[1].Status = engine.StateExited
	assert.Equal(t, Attached, s.State())
	assert.Zero(t, s.PID())

	eng.Reset()
	st, err = s.Stop()
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, st)
	assert.Equal(t, "nothing to stop", last.Message)
	assert.Equal(t, Attached, last.State)
	assert.Equal(t, []string{"DestroyProcess <nil>"}, eng.Calls)
}

func TestNoTarget(t *testing.T) {
	eng := enginetest.New()
	s := New(eng, nil)

	st, err := s.Launch()
	assert.Equal(t, StatusNoTarget, st)
	assert.True(t, errors.Is(err, ErrNoTarget))

	bp, err := s.CreateByName("main")
	assert.Nil(t, bp)
	assert.Equal(t, StatusNoTarget, StatusOf(err))

	// The missing target is reported before the line number is looked at.
	bp, err = s.CreateByLocation("main.c", "not-a-number")
	assert.Nil(t, bp)
	assert.Equal(t, StatusNoTarget, StatusOf(err))

	assert.Empty(t, s.List())
	assert.Empty(t, eng.Calls)
	assert.Equal(t, Idle, s.State())
}

func TestCreateBreakpoints(t *testing.T) {
	s, eng, _ := newAttached(t)

	bp, err := s.CreateByName("main")
	require.NoError(t, err)
	assert.Equal(t, ByName, bp.Kind)
	assert.Equal(t, "main", bp.Descriptor())
	assert.Len(t, s.List(), 1)
	assert.Equal(t, []string{"CreateBreakpointByName main realprog"}, eng.CallsWithPrefix("CreateBreakpoint"))

	bp, err = s.CreateByLocation("main.c", "not-a-number")
	assert.Nil(t, bp)
	assert.True(t, errors.Is(err, ErrInvalidLineNumber))
	assert.Len(t, s.List(), 1)

	bp, err = s.CreateByLocation("main.c", " 12 ")
	require.NoError(t, err)
	assert.Equal(t, ByLocation, bp.Kind)
	assert.Equal(t, "main.c:12", bp.Descriptor())

	eng.Unresolved["nowhere.c:3"] = true
	bp, err = s.CreateByLocation("nowhere.c", "3")
	assert.Nil(t, bp)
	assert.True(t, errors.Is(err, ErrUnresolvedLocation))
	assert.Equal(t, StatusUnresolvedLocation, StatusOf(err))

	list := s.List()
	require.Len(t, list, 2)
	rows := s.Rows()
	require.Len(t, rows, len(list))
	for i := range list {
		assert.Equal(t, list[i].ID, rows[i].ID)
	}
	assert.Equal(t, ByName, rows[0].Kind)
	assert.Equal(t, ByLocation, rows[1].Kind)
	assert.Equal(t, "main", rows[0].Location)
	assert.Equal(t, "realprog`main", rows[0].Resolved)
	assert.Equal(t, "main.c:12", rows[1].Location)
	assert.Equal(t, 1, rows[1].Locations)

	eng.Breakpoints[0].Hits = 3
	assert.Equal(t, 3, s.Rows()[0].HitCount)
	assert.Equal(t, 3, list[0].HitCount())

	assert.Equal(t, list[1], s.LocationBreakpoint("main.c", 12))
	assert.Equal(t, list[0], s.FunctionBreakpoint("main"))
	assert.Nil(t, s.FunctionBreakpoint("init"))
}

func TestCreateBreakpointEngineFailure(t *testing.T) {
	s, eng, _ := newAttached(t)
	eng.BreakpointErr = errors.New("lldb went away")
	_, err := s.CreateByName("main")
	assert.Equal(t, StatusEngineError, StatusOf(err))
	_, err = s.CreateByLocation("main.c", "3")
	assert.Equal(t, StatusEngineError, StatusOf(err))
	assert.Empty(t, s.List())
	assert.Equal(t, Attached, s.State())
}

// TestRegistrySize checks that the registry holds one entry per successful
// creation, whatever the sequence of calls.
func TestRegistrySize(t *testing.T) {
	s, eng, _ := newAttached(t)
	eng.Unresolved["b.c:2"] = true
	ops := []struct {
		fn   func() error
		adds bool
	}{
		{func() error { _, err := s.CreateByName("main"); return err }, true},
		{func() error { _, err := s.CreateByLocation("a.c", "1"); return err }, true},
		{func() error { _, err := s.CreateByLocation("b.c", "2"); return err }, false},
		{func() error { _, err := s.CreateByLocation("a.c", "x"); return err }, false},
		{func() error { _, err := s.CreateByName("main"); return err }, true},
		{func() error { _, err := s.Launch(); return err }, false},
		{func() error { _, err := s.CreateByLocation("a.c", "-1"); return err }, false},
		{func() error { _, err := s.Stop(); return err }, false},
		{func() error { _, err := s.CreateByName("exit"); return err }, true},
	}
	want := 0
	for i, op := range ops {
		err := op.fn()
		if op.adds {
			require.NoError(t, err, "op %d", i)
			want++
		}
		assert.Len(t, s.List(), want, "op %d", i)
	}
}

func TestObservers(t *testing.T) {
	eng := enginetest.New()
	s := New(eng, nil)
	var updates []Update
	s.Subscribe(func(u Update) {
		// Observers may query the session.
		_ = s.State()
		updates = append(updates, u)
	})

	s.Bind("", "missing.bin")
	dir := writeProgram(t, "prog")
	s.Bind(dir, "prog")
	s.CreateByName("main")
	s.CreateByLocation("main.c", "zz")
	s.Launch()
	s.Launch()
	s.Stop()

	var got []Status
	for _, u := range updates {
		got = append(got, u.Status)
	}
	assert.Equal(t, []Status{
		StatusInvalidExecutable,
		StatusAttached,
		StatusBreakpointSet,
		StatusInvalidLineNumber,
		StatusRunning,
		StatusRestarted,
		StatusStopped,
	}, got)
	assert.Equal(t, Idle, updates[0].State)
	assert.NotEmpty(t, updates[0].Message)
	assert.Equal(t, Attached, updates[1].State)
	assert.Equal(t, filepath.Join(dir, "prog"), updates[1].ExecutablePath)
	assert.Len(t, updates[2].Breakpoints, 1)
	assert.Contains(t, updates[3].Message, "invalid line number")
	assert.Equal(t, Running, updates[5].State)
	assert.Equal(t, Attached, updates[6].State)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusEngineError, StatusOf(errors.New("other")))
	assert.Equal(t, StatusUnresolvedLocation, StatusOf(ErrUnresolvedLocation))
	assert.True(t, StatusNoTarget.Failed())
	assert.False(t, StatusRestarted.Failed())
	assert.Equal(t, "EngineAttachFailed", StatusEngineAttachFailed.String())
	assert.Equal(t, "Running", Running.String())
}
