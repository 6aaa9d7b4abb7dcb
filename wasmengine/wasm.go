package wasmengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	scriptruntime "github.com/corvusdb/script-runtime"
	"github.com/corvusdb/script-runtime/errors"
	"github.com/corvusdb/script-runtime/registry"
)

const (
	compiledFunctionOverhead = 256
	engineOverhead           = 256 * 1024

	hostModuleName = "corvusdb"
)

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps linear memory per module in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32

	Logger *zap.Logger
}

// Engine runs WebAssembly libraries. A library is instantiated once at load
// time and its conforming exports are shared by all subsequent calls, so the
// engine relies on the lifecycle manager to serialize execution.
type Engine struct {
	rt      wazero.Runtime
	log     *zap.Logger
	conn    scriptruntime.Store
	handles map[*moduleHandle]struct{}
	nfuncs  int64
}

type moduleHandle struct {
	compiled wazero.CompiledModule
	instance api.Module
	binSize  int64
	refs     int
}

type compiledFunction struct {
	owner *moduleHandle
	fn    api.Function
}

type callPayload struct {
	Keys []string `json:"keys"`
	Args []string `json:"args"`
}

// New creates the engine and installs the host module guests import for
// store access.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		rt:      wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		log:     log,
		handles: make(map[*moduleHandle]struct{}),
	}
	if err := e.instantiateHostModule(ctx); err != nil {
		e.rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindRuntime, err, "instantiate host module")
	}
	return e, nil
}

func (e *Engine) instantiateHostModule(ctx context.Context) error {
	builder := e.rt.NewHostModuleBuilder(hostModuleName)

	// kv_get(kptr, klen) -> i64 packed ptr<<32|len, 0 when the key is absent.
	// The value buffer is obtained from the guest's own alloc export.
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			key, ok := readRegion(mod, uint32(stack[0]), uint32(stack[1]))
			if !ok {
				stack[0] = 0
				return
			}
			value, found, err := e.storeGet(ctx, string(key))
			if err != nil || !found {
				stack[0] = 0
				return
			}
			ptr, ok := e.writeToGuest(ctx, mod, []byte(value))
			if !ok {
				stack[0] = 0
				return
			}
			stack[0] = packRegion(ptr, uint32(len(value)))
		}),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI64}).
		Export("kv_get")

	// kv_set(kptr, klen, vptr, vlen) -> i32, zero on success.
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			key, okK := readRegion(mod, uint32(stack[0]), uint32(stack[1]))
			value, okV := readRegion(mod, uint32(stack[2]), uint32(stack[3]))
			if !okK || !okV || e.conn == nil {
				stack[0] = 1
				return
			}
			if err := e.conn.Set(ctx, string(key), string(value)); err != nil {
				e.log.Warn("kv_set failed", zap.Error(err))
				stack[0] = 1
				return
			}
			stack[0] = 0
		}),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export("kv_set")

	_, err := builder.Instantiate(ctx)
	return err
}

func (e *Engine) storeGet(ctx context.Context, key string) (string, bool, error) {
	if e.conn == nil {
		return "", false, nil
	}
	value, found, err := e.conn.Get(ctx, key)
	if err != nil {
		e.log.Warn("kv_get failed", zap.Error(err))
	}
	return value, found, err
}

// writeToGuest allocates a buffer through the guest's alloc export and copies
// data into it. Returns false when the guest exposes no usable allocator.
func (e *Engine) writeToGuest(ctx context.Context, mod api.Module, data []byte) (uint32, bool) {
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, false
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(res) == 0 {
		return 0, false
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, false
	}
	return ptr, true
}

// Create compiles and instantiates the module encoded in the library body and
// registers every export with the call signature (i32, i32) -> i64.
func (e *Engine) Create(ctx context.Context, lib *registry.Library, code string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary, err := decodeBody(code)
	if err != nil {
		return errors.Compile("Error compiling function: "+err.Error(), err)
	}

	compiled, err := e.rt.CompileModule(ctx, binary)
	if err != nil {
		return errors.Compile("Error compiling function: "+err.Error(), err)
	}

	// Anonymous so a REPLACE load can coexist with the instance it replaces.
	instance, err := e.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		compiled.Close(ctx)
		return errors.Compile("Error loading function: "+err.Error(), err)
	}

	h := &moduleHandle{compiled: compiled, instance: instance, binSize: int64(len(binary))}
	for name, def := range instance.ExportedFunctionDefinitions() {
		if !isCallSignature(def) {
			continue
		}
		if err := lib.Register(name, &compiledFunction{owner: h, fn: instance.ExportedFunction(name)}, "", 0); err != nil {
			// Functions already registered keep the handle alive until the
			// caller releases the library.
			if h.refs == 0 {
				e.disposeHandle(h)
			} else {
				e.handles[h] = struct{}{}
			}
			return err
		}
		h.refs++
		e.nfuncs++
	}

	if h.refs == 0 {
		e.disposeHandle(h)
		return nil
	}
	e.handles[h] = struct{}{}
	return nil
}

// Call marshals keys and args into the guest, invokes the export, and reads
// back the packed result region.
func (e *Engine) Call(ctx context.Context, conn scriptruntime.Store, compiled any, keys, args []string) (any, error) {
	h, ok := compiled.(*compiledFunction)
	if !ok || h.fn == nil {
		return nil, errors.InvalidInput(errors.PhaseCall, "invalid compiled function handle")
	}

	e.conn = conn
	defer func() { e.conn = nil }()

	payload, err := json.Marshal(callPayload{Keys: keys, Args: args})
	if err != nil {
		return nil, errors.Runtime("encode call payload: "+err.Error(), err)
	}

	mod := h.owner.instance
	ptr, ok := e.writeToGuest(ctx, mod, payload)
	if !ok {
		return nil, errors.Runtime("module does not export a usable alloc function", nil)
	}

	res, err := h.fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return nil, errors.Runtime(err.Error(), err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	outPtr, outLen := unpackRegion(res[0])
	if outLen == 0 {
		return nil, nil
	}
	out, ok := readRegion(mod, outPtr, outLen)
	if !ok {
		return nil, errors.Runtime("result region out of bounds", nil)
	}
	return string(out), nil
}

func (e *Engine) UsedMemory() int64 {
	var total int64
	for h := range e.handles {
		if mem := h.instance.Memory(); mem != nil {
			total += int64(mem.Size())
		}
		total += h.binSize
	}
	return total
}

func (e *Engine) FunctionOverhead(compiled any) int64 {
	if h, ok := compiled.(*compiledFunction); ok && h.fn != nil {
		return compiledFunctionOverhead
	}
	return 0
}

func (e *Engine) EngineOverhead() int64 {
	return engineOverhead
}

func (e *Engine) ReleaseFunction(compiled any) {
	h, ok := compiled.(*compiledFunction)
	if !ok || h.fn == nil {
		return
	}
	h.fn = nil
	e.nfuncs--

	h.owner.refs--
	if h.owner.refs == 0 {
		delete(e.handles, h.owner)
		e.disposeHandle(h.owner)
	}
}

func (e *Engine) ReleaseContext() {
	e.rt.Close(context.Background())
	e.handles = nil
}

func (e *Engine) disposeHandle(h *moduleHandle) {
	ctx := context.Background()
	if h.instance != nil {
		h.instance.Close(ctx)
	}
	if h.compiled != nil {
		h.compiled.Close(ctx)
	}
}

// decodeBody strips the shebang line and decodes the remaining base64 text.
func decodeBody(code string) ([]byte, error) {
	body := code
	if strings.HasPrefix(body, "#!") {
		if i := strings.IndexByte(body, '\n'); i >= 0 {
			body = body[i+1:]
		} else {
			body = ""
		}
	}
	body = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, body)
	return base64.StdEncoding.DecodeString(body)
}

func isCallSignature(def api.FunctionDefinition) bool {
	params := def.ParamTypes()
	results := def.ResultTypes()
	return len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32 &&
		len(results) == 1 && results[0] == api.ValueTypeI64
}

func packRegion(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackRegion(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

func readRegion(mod api.Module, ptr, length uint32) ([]byte, bool) {
	mem := mod.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(ptr, length)
}
