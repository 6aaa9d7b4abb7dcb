package registry

import (
	"sort"

	"github.com/corvusdb/script-runtime/errors"
)

// Function is a named, independently invokable procedure compiled from a
// Library's source.
type Function struct {
	compiled any
	lib      *Library
	name     string
	desc     string
	flags    Flags
}

func (f *Function) Name() string        { return f.name }
func (f *Function) Description() string { return f.desc }
func (f *Function) Flags() Flags        { return f.flags }

// Compiled returns the engine-specific handle.
func (f *Function) Compiled() any { return f.compiled }

// Library returns the owning library.
func (f *Function) Library() *Library { return f.lib }

// Library is a named unit of source code compiled by one engine. It is
// built detached, engine compilation registers functions into it, and it
// becomes visible for dispatch only when attached to a Registry.
type Library struct {
	reg       *EngineRegistration
	functions map[string]*Function
	name      string
	code      string
}

// NewLibrary creates an empty library bound to an engine registration.
func NewLibrary(name string, reg *EngineRegistration, code string) *Library {
	return &Library{
		name:      name,
		reg:       reg,
		code:      code,
		functions: make(map[string]*Function),
	}
}

func (l *Library) Name() string { return l.name }
func (l *Library) Code() string { return l.code }

// Registration returns the engine registration that compiled this library.
func (l *Library) Registration() *EngineRegistration { return l.reg }

// Len returns the number of registered functions.
func (l *Library) Len() int { return len(l.functions) }

// Function returns the named function, if registered.
func (l *Library) Function(name string) (*Function, bool) {
	f, ok := l.functions[name]
	return f, ok
}

// Functions returns the library's functions sorted by name.
func (l *Library) Functions() []*Function {
	fns := make([]*Function, 0, len(l.functions))
	for _, f := range l.functions {
		fns = append(fns, f)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].name < fns[j].name })
	return fns
}

// Register is the single function-creation path: engines call it from
// Create while executing the library's top-level code. The name is validated
// and checked against the library's own functions; the registry-wide check
// happens when the library is attached.
func (l *Library) Register(name string, compiled any, desc string, flags Flags) error {
	if !ValidName(name) {
		return errors.InvalidFunctionName()
	}
	if _, exists := l.functions[name]; exists {
		return errors.DuplicateInLibrary()
	}
	l.functions[name] = &Function{
		name:     name,
		compiled: compiled,
		lib:      l,
		desc:     desc,
		flags:    flags,
	}
	return nil
}

// Release releases every compiled handle through the owning engine and
// empties the library. Used when a load fails after compilation and when a
// library is detached from a registry.
func (l *Library) Release() {
	for _, f := range l.functions {
		l.reg.eng.ReleaseFunction(f.compiled)
		f.compiled = nil
	}
	l.functions = make(map[string]*Function)
}

// size approximates the cache memory the library pins: source, names, and
// the engine-reported per-function overhead.
func (l *Library) size() int64 {
	total := int64(len(l.name) + len(l.code))
	for _, f := range l.functions {
		total += int64(len(f.name) + len(f.desc))
		total += l.reg.eng.FunctionOverhead(f.compiled)
	}
	return total
}

// ValidName reports whether name is non-empty and contains only letters,
// digits, and underscores. Applied to function names at registration and to
// library names at shebang parse time.
func ValidName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
