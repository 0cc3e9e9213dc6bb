package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/dbgctl/service/session"
)

const (
	attachBuiltinName      = "attach"
	runBuiltinName         = "run"
	stopBuiltinName        = "stop"
	breakFuncBuiltinName   = "break_func"
	breakLineBuiltinName   = "break_line"
	breakpointsBuiltinName = "breakpoints"
	stateBuiltinName       = "state"
	commandBuiltinName     = "dbgctl_command"
	helpBuiltinName        = "help"
	commandPrefix          = "command_"
	dbgctlContextName      = "dbgctl_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Session() *session.Session
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out io.Writer
}

type builtinFn func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	env.builtin(attachBuiltinName, "(Exec, Base)", "binds the executable Base/Exec, Base is optional.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var exec, base string
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "exec", &exec, "base?", &base); err != nil {
			return nil, decorateError(thread, err)
		}
		st, err := env.ctx.Session().Bind(base, exec)
		return statusValue(thread, st, err)
	})

	env.builtin(runBuiltinName, "()", "launches the bound executable, restarting it if it is running.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return nil, decorateError(thread, err)
		}
		st, err := env.ctx.Session().Launch()
		return statusValue(thread, st, err)
	})

	env.builtin(stopBuiltinName, "()", "kills the running process.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return nil, decorateError(thread, err)
		}
		st, err := env.ctx.Session().Stop()
		return statusValue(thread, st, err)
	})

	env.builtin(breakFuncBuiltinName, "(Name)", "sets a breakpoint on function Name.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name); err != nil {
			return nil, decorateError(thread, err)
		}
		_, err := env.ctx.Session().CreateByName(name)
		return breakpointStatus(thread, err)
	})

	env.builtin(breakLineBuiltinName, "(File, Line)", "sets a breakpoint at File:Line, Line can be an int or a string.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var file string
		var line starlark.Value
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "file", &file, "line", &line); err != nil {
			return nil, decorateError(thread, err)
		}
		var linestr string
		switch l := line.(type) {
		case starlark.String:
			linestr = string(l)
		case starlark.Int:
			n, ok := l.Int64()
			if !ok {
				return nil, decorateError(thread, fmt.Errorf("line number %v out of range", l))
			}
			linestr = strconv.FormatInt(n, 10)
		default:
			return nil, decorateError(thread, fmt.Errorf("line must be an int or a string, not %s", line.Type()))
		}
		_, err := env.ctx.Session().CreateByLocation(file, linestr)
		return breakpointStatus(thread, err)
	})

	env.builtin(breakpointsBuiltinName, "()", "returns the list of breakpoints, each a dict with keys id, kind, location, hit_count and target. Kind is either name or location.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return nil, decorateError(thread, err)
		}
		return rowsToList(env.ctx.Session().Rows()), nil
	})

	env.builtin(stateBuiltinName, "()", "returns the session state: Idle, Attached or Running.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.String(env.ctx.Session().State().String()), nil
	})

	env.builtin(commandBuiltinName, "(Command)", "executes a command of the interactive terminal.", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", commandBuiltinName)
			}
			argstrs[i] = string(a)
		}
		return starlark.None, decorateError(thread, env.ctx.CallCommand(strings.Join(argstrs, " ")))
	})

	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}

// statusValue converts the result of a session operation into the value
// returned by a builtin.
func statusValue(thread *starlark.Thread, st session.Status, err error) (starlark.Value, error) {
	if err != nil {
		return nil, decorateError(thread, fmt.Errorf("%s: %v", st, err))
	}
	return starlark.String(st.String()), nil
}

func breakpointStatus(thread *starlark.Thread, err error) (starlark.Value, error) {
	if err != nil {
		return statusValue(thread, session.StatusOf(err), err)
	}
	return statusValue(thread, session.StatusBreakpointSet, nil)
}

func rowsToList(rows []session.BreakpointRow) *starlark.List {
	elems := make([]starlark.Value, 0, len(rows))
	for _, r := range rows {
		d := starlark.NewDict(5)
		d.SetKey(starlark.String("id"), starlark.MakeInt(r.ID))
		d.SetKey(starlark.String("kind"), starlark.String(r.Kind.String()))
		d.SetKey(starlark.String("location"), starlark.String(r.Location))
		d.SetKey(starlark.String("hit_count"), starlark.MakeInt(r.HitCount))
		d.SetKey(starlark.String("target"), starlark.String(r.Target))
		elems = append(elems, d)
	}
	return starlark.NewList(elems)
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will
// be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []string) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			if fn := runtime.FuncForPC(pc); fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	if err := env.exportGlobals(globals); err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			env.createCommand(name, val)
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(dbgctlContextName, ctx)
	return thread
}

// createCommand registers a terminal command for the function val. A
// function taking a single parameter called args receives the raw argument
// string, any other function receives the arguments evaluated as a tuple.
func (env *Env) createCommand(name string, val starlark.Value) {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		var argtuple starlark.Tuple
		if strings.TrimSpace(args) != "" {
			argval, err := starlark.Eval(thread, "<input>", "("+args+",)", env.env)
			if err != nil {
				return err
			}
			argtuple = argval.(starlark.Tuple)
		}
		_, err := starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []string) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = starlark.String(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(dbgctlContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
