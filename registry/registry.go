package registry

import (
	"sort"

	"github.com/corvusdb/script-runtime/errors"
)

// EngineStats counts one engine's share of a Registry.
type EngineStats struct {
	Libraries int64
	Functions int64
}

// Registry is one complete snapshot of loaded libraries: the per-library
// maps, the registry-wide flattened function index used for FCALL dispatch,
// per-engine statistics, and cache-memory accounting. A Registry is fully
// disposable as a unit; the Manager decides which one is current.
//
// Mutating methods must be called inside the Manager's exclusive section.
type Registry struct {
	libraries   map[string]*Library
	functions   map[string]*Function
	stats       map[string]*EngineStats
	cacheMemory int64
}

func newRegistry(engines []*EngineRegistration) *Registry {
	r := &Registry{
		libraries: make(map[string]*Library),
		functions: make(map[string]*Function),
		stats:     make(map[string]*EngineStats),
	}
	for _, reg := range engines {
		r.stats[reg.name] = &EngineStats{}
	}
	return r
}

func (r *Registry) addEngineStats(name string) {
	if _, ok := r.stats[name]; !ok {
		r.stats[name] = &EngineStats{}
	}
}

// Library returns the named library, if loaded.
func (r *Registry) Library(name string) (*Library, bool) {
	l, ok := r.libraries[name]
	return l, ok
}

// Libraries returns all loaded libraries sorted by name.
func (r *Registry) Libraries() []*Library {
	libs := make([]*Library, 0, len(r.libraries))
	for _, l := range r.libraries {
		libs = append(libs, l)
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].name < libs[j].name })
	return libs
}

// Lookup resolves a bare function name through the flattened index.
func (r *Registry) Lookup(name string) (*Function, bool) {
	f, ok := r.functions[name]
	return f, ok
}

// LibraryCount returns the number of loaded libraries.
func (r *Registry) LibraryCount() int { return len(r.libraries) }

// FunctionCount returns the size of the flattened index.
func (r *Registry) FunctionCount() int { return len(r.functions) }

// CacheMemory returns the accounted memory pinned by loaded libraries.
func (r *Registry) CacheMemory() int64 { return r.cacheMemory }

// Stats returns a copy of the per-engine counters.
func (r *Registry) Stats() map[string]EngineStats {
	out := make(map[string]EngineStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}

// Attach makes lib visible for dispatch: validate-then-commit. Every
// function name is checked against the flattened index (ignoring a
// same-named library about to be replaced) before anything is inserted, so
// a failure leaves the Registry untouched. On success any replaced library
// is detached and its compiled handles released, then the new library, its
// functions, the engine counters, and the memory accounting are updated
// together.
func (r *Registry) Attach(lib *Library, replace bool) error {
	existing, exists := r.libraries[lib.name]
	if exists && !replace {
		return errors.LibraryExists(lib.name)
	}

	for name := range lib.functions {
		if other, ok := r.functions[name]; ok && other.lib != existing {
			return errors.DuplicateFunction(name)
		}
	}

	if exists {
		r.detach(existing)
		existing.Release()
	}
	r.libraries[lib.name] = lib
	for name, f := range lib.functions {
		r.functions[name] = f
	}
	stats := r.stats[lib.reg.name]
	if stats == nil {
		stats = &EngineStats{}
		r.stats[lib.reg.name] = stats
	}
	stats.Libraries++
	stats.Functions += int64(lib.Len())
	r.cacheMemory += lib.size()
	return nil
}

// Delete removes the named library, its functions, and its share of the
// engine counters, releasing the compiled handles.
func (r *Registry) Delete(name string) error {
	lib, ok := r.libraries[name]
	if !ok {
		return errors.LibraryNotFound()
	}
	r.detach(lib)
	lib.Release()
	return nil
}

// detach unlinks lib from the registry without releasing engine handles.
func (r *Registry) detach(lib *Library) {
	for name := range lib.functions {
		delete(r.functions, name)
	}
	delete(r.libraries, lib.name)
	if stats := r.stats[lib.reg.name]; stats != nil {
		stats.Libraries--
		stats.Functions -= int64(lib.Len())
	}
	r.cacheMemory -= lib.size()
}

// Clear empties the registry: every compiled handle is released, both
// indices are emptied, every engine counter and the memory accounting reset
// to zero. Engine stats entries survive with zero counts.
func (r *Registry) Clear() {
	for _, lib := range r.libraries {
		lib.Release()
	}
	r.libraries = make(map[string]*Library)
	r.functions = make(map[string]*Function)
	for _, s := range r.stats {
		s.Libraries = 0
		s.Functions = 0
	}
	r.cacheMemory = 0
}

// Dispose clears the registry and drops its index structures. Called when a
// replaced Registry is no longer reachable.
func (r *Registry) Dispose() {
	r.Clear()
	r.libraries = nil
	r.functions = nil
	r.stats = nil
}
