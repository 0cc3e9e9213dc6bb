package lldbcli

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-delve/dbgctl/pkg/engine"
)

var (
	targetCreatedRx  = regexp.MustCompile(`Current executable set to '(.*)' \(([^)]*)\)\.`)
	targetListRx     = regexp.MustCompile(`(?m)^(\*?)\s*target #(\d+):`)
	breakpointSetRx  = regexp.MustCompile(`(?m)^Breakpoint (\d+): (.*)$`)
	whereRx          = regexp.MustCompile(`where = (.*?)(?:, address = .*)?$`)
	pendingRx        = regexp.MustCompile(`no locations \(pending\)`)
	numLocationsRx   = regexp.MustCompile(`(\d+) locations`)
	hitCountRx       = regexp.MustCompile(`hit count = (\d+)`)
	listLocationsRx  = regexp.MustCompile(`locations = (\d+)`)
	processLaunchRx  = regexp.MustCompile(`(?m)^Process (\d+) launched`)
	processStoppedRx = regexp.MustCompile(`(?m)^Process (\d+) stopped`)
	processExitedRx  = regexp.MustCompile(`(?m)^Process (\d+) exited with status = (-?\d+)`)
	errorRx          = regexp.MustCompile(`(?m)^error: (.*)$`)
)

// lldbError returns the first error message in out.
func lldbError(out string) (string, bool) {
	m := errorRx.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

type targetInfo struct {
	path string
	arch string
}

func parseTargetCreate(out string) (targetInfo, bool) {
	m := targetCreatedRx.FindStringSubmatch(out)
	if m == nil {
		return targetInfo{}, false
	}
	return targetInfo{path: m[1], arch: m[2]}, true
}

// parseTargetList parses the answer to "target list" into the number of
// targets and the index of the selected one, -1 if none is.
//
//	Current targets:
//	  target #0: /bin/prog ( arch=x86_64-pc-linux-gnu, platform=host )
//	* target #1: /bin/other ( arch=x86_64-pc-linux-gnu, platform=host )
func parseTargetList(out string) (n, selected int, ok bool) {
	selected = -1
	ms := targetListRx.FindAllStringSubmatch(out, -1)
	if len(ms) == 0 {
		return 0, -1, strings.Contains(out, "No targets")
	}
	for _, m := range ms {
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, -1, false
		}
		if idx+1 > n {
			n = idx + 1
		}
		if m[1] == "*" {
			selected = idx
		}
	}
	return n, selected, true
}

type breakpointInfo struct {
	id        int
	location  string
	locations int
	pending   bool
}

// parseBreakpointSet parses the answer to "breakpoint set". The three
// shapes lldb prints are:
//
//	Breakpoint 1: where = prog`main + 4 at main.c:5:3, address = 0x0000000000401126
//	Breakpoint 2: no locations (pending).
//	Breakpoint 3: 2 locations.
func parseBreakpointSet(out string) (breakpointInfo, bool) {
	m := breakpointSetRx.FindStringSubmatch(out)
	if m == nil {
		return breakpointInfo{}, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return breakpointInfo{}, false
	}
	bp := breakpointInfo{id: id}
	rest := strings.TrimSpace(m[2])
	switch {
	case pendingRx.MatchString(rest):
		bp.pending = true
	case whereRx.MatchString(rest):
		bp.location = whereRx.FindStringSubmatch(rest)[1]
		bp.locations = 1
	default:
		if n := numLocationsRx.FindStringSubmatch(rest); n != nil {
			bp.locations, _ = strconv.Atoi(n[1])
		}
		bp.location = strings.TrimSuffix(rest, ".")
	}
	return bp, true
}

type breakpointStats struct {
	hits      int
	locations int
}

// parseBreakpointList parses the answer to "breakpoint list <id>", only
// the first line, which describes the breakpoint as a whole, is used.
func parseBreakpointList(out string) (breakpointStats, bool) {
	line := out
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		line = out[:i]
		if !hitCountRx.MatchString(line) {
			// lldb prints a "Current breakpoints:" header first.
			rest := out[i+1:]
			if j := strings.IndexByte(rest, '\n'); j >= 0 {
				line = rest[:j]
			} else {
				line = rest
			}
		}
	}
	h := hitCountRx.FindStringSubmatch(line)
	if h == nil {
		return breakpointStats{}, false
	}
	var st breakpointStats
	st.hits, _ = strconv.Atoi(h[1])
	if l := listLocationsRx.FindStringSubmatch(line); l != nil {
		st.locations, _ = strconv.Atoi(l[1])
	}
	return st, true
}

type processEvent struct {
	pid    int
	state  engine.ProcessState
	status int
}

// parseProcessEvents returns the process state changes reported in out,
// in the order they appear.
func parseProcessEvents(out string) []processEvent {
	type match struct {
		pos int
		ev  processEvent
	}
	var ms []match
	for _, rx := range []struct {
		rx    *regexp.Regexp
		state engine.ProcessState
	}{
		{processLaunchRx, engine.StateRunning},
		{processStoppedRx, engine.StateStopped},
		{processExitedRx, engine.StateExited},
	} {
		for _, loc := range rx.rx.FindAllStringSubmatchIndex(out, -1) {
			pid, err := strconv.Atoi(out[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			ev := processEvent{pid: pid, state: rx.state}
			if rx.state == engine.StateExited {
				ev.status, _ = strconv.Atoi(out[loc[4]:loc[5]])
			}
			ms = append(ms, match{loc[0], ev})
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].pos < ms[j].pos })
	evs := make([]processEvent, len(ms))
	for i := range ms {
		evs[i] = ms[i].ev
	}
	return evs
}

// quote quotes s as a single lldb command argument.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' || r == '`' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
