package luaengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	scriptruntime "github.com/corvusdb/script-runtime"
	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

const (
	// Rough per-handle overhead reported to the registry's memory
	// accounting. gopher-lua exposes no allocator hook, so these are
	// coarse estimates rather than measurements.
	compiledFunctionOverhead = 128
	stateOverhead            = 64 * 1024
)

type Config struct {
	Logger *zap.Logger
}

// Engine implements registry.Engine on top of a single shared gopher-lua
// interpreter state. Not safe for concurrent use; callers serialize through
// the lifecycle manager's exclusive section.
type Engine struct {
	state   *lua.LState
	log     *zap.Logger
	loading *registry.Library    // target library while a Create is in progress
	conn    scriptruntime.Store  // active store connection while a Call is in progress
	nfuncs  int64
}

// New creates the engine with a restricted standard library: base, table,
// string, and math only. No os, io, or package access is exposed to scripts.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	e := &Engine{state: L, log: log}
	e.registerServerModule()
	return e
}

func (e *Engine) registerServerModule() {
	L := e.state
	mod := L.NewTable()
	L.SetField(mod, "register_function", L.NewFunction(e.luaRegisterFunction))
	L.SetField(mod, "call", L.NewFunction(func(L *lua.LState) int { return e.storeCall(L, false) }))
	L.SetField(mod, "pcall", L.NewFunction(func(L *lua.LState) int { return e.storeCall(L, true) }))
	L.SetField(mod, "error_reply", L.NewFunction(luaErrorReply))
	L.SetField(mod, "status_reply", L.NewFunction(luaStatusReply))
	L.SetField(mod, "log", L.NewFunction(e.luaLog))
	L.SetGlobal("redis", mod)
	L.SetGlobal("server", mod)
}

type compiledFunction struct {
	fn *lua.LFunction
}

// Create compiles code and executes its top-level chunk so it registers
// functions into lib. The shebang line is rewritten into a Lua comment
// instead of being stripped, keeping line numbers in compile errors aligned
// with the submitted source.
func (e *Engine) Create(ctx context.Context, lib *registry.Library, code string, timeout time.Duration) error {
	body := code
	if strings.HasPrefix(body, "#!") {
		body = "--" + body[2:]
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	L := e.state
	L.SetContext(tctx)
	defer L.RemoveContext()

	e.loading = lib
	defer func() { e.loading = nil }()

	fn, err := L.LoadString(body)
	if err != nil {
		return errors.Compile(fmt.Sprintf("Error compiling function: %v", luaErrMessage(err)), err)
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return errors.Compile(fmt.Sprintf("Error loading function: %v", luaErrMessage(err)), err)
	}
	return nil
}

// Call invokes a compiled function as fn(KEYS, ARGV) and converts the result
// to plain Go values. A table with an `err` field becomes a runtime error; a
// table with an `ok` field becomes its status string.
func (e *Engine) Call(ctx context.Context, conn scriptruntime.Store, compiled any, keys, args []string) (any, error) {
	h, ok := compiled.(*compiledFunction)
	if !ok || h.fn == nil {
		return nil, errors.InvalidInput(errors.PhaseCall, "invalid compiled function handle")
	}

	L := e.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	e.conn = conn
	defer func() { e.conn = nil }()

	keysTbl := stringsToTable(L, keys)
	argsTbl := stringsToTable(L, args)
	if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 1, Protect: true}, keysTbl, argsTbl); err != nil {
		return nil, errors.Runtime(luaErrMessage(err), err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return luaToResult(ret)
}

func (e *Engine) UsedMemory() int64 {
	return stateOverhead + e.nfuncs*compiledFunctionOverhead
}

func (e *Engine) FunctionOverhead(compiled any) int64 {
	return compiledFunctionOverhead
}

func (e *Engine) EngineOverhead() int64 {
	return stateOverhead
}

func (e *Engine) ReleaseFunction(compiled any) {
	if h, ok := compiled.(*compiledFunction); ok && h.fn != nil {
		h.fn = nil
		e.nfuncs--
	}
}

func (e *Engine) ReleaseContext() {
	e.state.Close()
}

// luaRegisterFunction implements redis.register_function. Valid only while a
// library load is in progress; every registration funnels through
// Library.Register so the per-library index and, at attach time, the
// flattened index stay consistent.
func (e *Engine) luaRegisterFunction(L *lua.LState) int {
	if e.loading == nil {
		L.RaiseError("redis.register_function can only be called inside a library load")
	}

	var (
		name  string
		fn    *lua.LFunction
		desc  string
		flags registry.Flags
	)

	switch arg := L.Get(1).(type) {
	case lua.LString:
		name = string(arg)
		fn = L.CheckFunction(2)
	case *lua.LTable:
		nameVal := L.GetField(arg, "function_name")
		s, ok := nameVal.(lua.LString)
		if !ok {
			L.RaiseError("missing function_name argument")
		}
		name = string(s)
		cb, ok := L.GetField(arg, "callback").(*lua.LFunction)
		if !ok {
			L.RaiseError("missing callback argument")
		}
		fn = cb
		if d, ok := L.GetField(arg, "description").(lua.LString); ok {
			desc = string(d)
		}
		if ft, ok := L.GetField(arg, "flags").(*lua.LTable); ok {
			ft.ForEach(func(_, v lua.LValue) {
				s, ok := v.(lua.LString)
				if !ok {
					L.RaiseError("function flags must be strings")
				}
				f, err := registry.ParseFlag(string(s))
				if err != nil {
					L.RaiseError("%s", errDetail(err))
				}
				flags |= f
			})
		}
	default:
		L.ArgError(1, "expected function name or a table of named arguments")
	}

	if err := e.loading.Register(name, &compiledFunction{fn: fn}, desc, flags); err != nil {
		L.RaiseError("%s", errDetail(err))
	}
	e.nfuncs++
	return 0
}

// storeCall implements redis.call and redis.pcall over the store bridge.
// Only the get/set primitives exist at this layer; everything else belongs
// to the surrounding server.
func (e *Engine) storeCall(L *lua.LState, protect bool) int {
	fail := func(msg string) int {
		if protect {
			L.Push(errorReplyTable(L, msg))
			return 1
		}
		L.RaiseError("%s", msg)
		return 0
	}

	if e.conn == nil {
		return fail("store access is only available during a function call")
	}
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := strings.ToUpper(L.CheckString(1))
	switch cmd {
	case "GET":
		key := L.CheckString(2)
		val, ok, err := e.conn.Get(ctx, key)
		if err != nil {
			return fail(err.Error())
		}
		if !ok {
			L.Push(lua.LFalse)
			return 1
		}
		L.Push(lua.LString(val))
		return 1
	case "SET":
		key := L.CheckString(2)
		val := L.CheckString(3)
		if err := e.conn.Set(ctx, key, val); err != nil {
			return fail(err.Error())
		}
		L.Push(statusReplyTable(L, "OK"))
		return 1
	default:
		return fail(fmt.Sprintf("Unknown command '%s' called from script", cmd))
	}
}

func (e *Engine) luaLog(L *lua.LState) int {
	msg := L.CheckString(L.GetTop())
	e.log.Info("script log", zap.String("message", msg))
	return 0
}

func luaErrorReply(L *lua.LState) int {
	L.Push(errorReplyTable(L, L.CheckString(1)))
	return 1
}

func luaStatusReply(L *lua.LState) int {
	L.Push(statusReplyTable(L, L.CheckString(1)))
	return 1
}

func errorReplyTable(L *lua.LState, msg string) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "err", lua.LString(msg))
	return tbl
}

func statusReplyTable(L *lua.LState, msg string) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "ok", lua.LString(msg))
	return tbl
}

// luaErrMessage extracts the interpreter's message without the Go error
// wrapping, so engine errors pass through to clients verbatim.
func luaErrMessage(err error) string {
	if ae, ok := err.(*lua.ApiError); ok {
		return ae.Object.String()
	}
	return err.Error()
}

func errDetail(err error) string {
	if se, ok := err.(*errors.Error); ok {
		return se.Detail
	}
	return err.Error()
}
