package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-delve/dbgctl/pkg/engine"
)

// Kind is the addressing scheme a breakpoint was created with.
type Kind uint8

const (
	ByName Kind = iota
	ByLocation
)

func (k Kind) String() string {
	if k == ByLocation {
		return "location"
	}
	return "name"
}

// Breakpoint is a breakpoint created through a Session.
type Breakpoint struct {
	ID   int
	Kind Kind

	// FunctionName is set for ByName breakpoints.
	FunctionName string
	// File and Line are set for ByLocation breakpoints.
	File string
	Line int

	// Target is the name of the target the breakpoint was created on. It
	// does not change when the session is bound to another target.
	Target string

	eng engine.Breakpoint
}

// Descriptor returns the location the breakpoint was requested at.
func (bp *Breakpoint) Descriptor() string {
	if bp.Kind == ByLocation {
		return fmt.Sprintf("%s:%d", bp.File, bp.Line)
	}
	return bp.FunctionName
}

// HitCount returns the number of times the breakpoint was hit, as counted
// by the engine.
func (bp *Breakpoint) HitCount() int {
	if bp.eng == nil {
		return 0
	}
	return bp.eng.HitCount()
}

// Row returns bp as a breakpoint table row.
func (bp *Breakpoint) Row() BreakpointRow {
	r := BreakpointRow{
		ID:       bp.ID,
		Kind:     bp.Kind,
		Location: bp.Descriptor(),
		Target:   bp.Target,
	}
	if bp.eng != nil {
		r.Resolved = bp.eng.Location()
		r.Locations = bp.eng.NumLocations()
		r.HitCount = bp.eng.HitCount()
	}
	return r
}

// registry is the ordered, append-only list of breakpoints of a session.
type registry struct {
	bps []*Breakpoint
}

func (r *registry) add(bp *Breakpoint) {
	r.bps = append(r.bps, bp)
}

// list returns a copy of the registry in insertion order.
func (r *registry) list() []*Breakpoint {
	out := make([]*Breakpoint, len(r.bps))
	copy(out, r.bps)
	return out
}

func (r *registry) rows() []BreakpointRow {
	rows := make([]BreakpointRow, 0, len(r.bps))
	for _, bp := range r.bps {
		rows = append(rows, bp.Row())
	}
	return rows
}

// findName returns the ByName breakpoint for function, if any.
func (r *registry) findName(function string) *Breakpoint {
	for _, bp := range r.bps {
		if bp.Kind == ByName && bp.FunctionName == function {
			return bp
		}
	}
	return nil
}

// findLocation returns the ByLocation breakpoint at file:line, if any.
func (r *registry) findLocation(file string, line int) *Breakpoint {
	for _, bp := range r.bps {
		if bp.Kind == ByLocation && bp.File == file && bp.Line == line {
			return bp
		}
	}
	return nil
}

// ParseLineNumber parses a line number entered by the user. Surrounding
// white space is ignored, the result is always positive.
func ParseLineNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLineNumber, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLineNumber, n)
	}
	return n, nil
}
