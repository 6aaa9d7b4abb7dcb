package registry

import (
	"context"
	"sort"
	"time"

	scriptruntime "github.com/corvusdb/script-runtime"
	"github.com/corvusdb/script-runtime/errors"
)

// Flags is the capability bitset a function declares at registration time.
type Flags uint8

const (
	// FlagNoWrites marks a function that never writes to the store; only
	// such functions may be invoked through FCALL_RO.
	FlagNoWrites Flags = 1 << iota
	// FlagAllowOOM lets the function run while the server is over its
	// memory limit.
	FlagAllowOOM
	// FlagAllowStale lets the function run on a replica with stale data.
	FlagAllowStale
	// FlagNoCluster forbids running the function in cluster mode.
	FlagNoCluster
	// FlagAllowCrossSlot lets the function access keys from multiple slots.
	FlagAllowCrossSlot
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagNoWrites, "no-writes"},
	{FlagAllowOOM, "allow-oom"},
	{FlagAllowStale, "allow-stale"},
	{FlagNoCluster, "no-cluster"},
	{FlagAllowCrossSlot, "allow-cross-slot"},
}

// ParseFlag maps a declared flag name to its bit.
func ParseFlag(name string) (Flags, error) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseLoad, "Unexpected function flag: %s", name)
}

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Names returns the declared names of all set bits, in declaration order.
func (f Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

// Engine is the capability contract a scripting runtime implements. Exactly
// one Engine instance exists per registered runtime name; it is immutable
// after registration.
//
// Compiled function handles are opaque to the registry; the engine that
// produced a handle is the only component that interprets it.
type Engine interface {
	// Create compiles code into lib. The source still carries its shebang
	// metadata line; engines skip it before compiling. Executing the
	// library's top-level code is expected to register one or more
	// functions into lib via Library.Register. timeout bounds compilation.
	Create(ctx context.Context, lib *Library, code string, timeout time.Duration) error

	// Call invokes a compiled function with positional keys and arguments.
	// conn is the registration's isolated store connection. Runtime
	// failures surface as structured errors, never partial results.
	Call(ctx context.Context, conn scriptruntime.Store, compiled any, keys, args []string) (any, error)

	// UsedMemory reports the runtime's approximate total memory use.
	UsedMemory() int64

	// FunctionOverhead reports the per-handle memory overhead.
	FunctionOverhead(compiled any) int64

	// EngineOverhead reports the fixed overhead of the runtime itself.
	EngineOverhead() int64

	// ReleaseFunction releases a compiled handle.
	ReleaseFunction(compiled any)

	// ReleaseContext releases the runtime. Called once at shutdown.
	ReleaseContext()
}

// EngineRegistration binds a runtime name to its Engine and the dedicated
// store connection engine-internal calls go through. Created once at
// startup, destroyed only at shutdown.
type EngineRegistration struct {
	name string
	eng  Engine
	conn scriptruntime.Store
}

// Name returns the registration name in its original case.
func (r *EngineRegistration) Name() string { return r.name }

// Engine returns the registered runtime.
func (r *EngineRegistration) Engine() Engine { return r.eng }

// Conn returns the isolated store connection owned by this registration.
func (r *EngineRegistration) Conn() scriptruntime.Store { return r.conn }

func sortedRegistrations(m map[string]*EngineRegistration) []*EngineRegistration {
	regs := make([]*EngineRegistration, 0, len(m))
	for _, r := range m {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].name < regs[j].name })
	return regs
}
