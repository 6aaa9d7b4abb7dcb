package registry

import (
	"strings"
	"sync"
	"sync/atomic"

	scriptruntime "github.com/corvusdb/script-runtime"
	"github.com/corvusdb/script-runtime/errors"
)

// Manager owns the current Registry and the process-wide exclusive section.
//
// Every handler that mutates or reads registry contents, and every FCALL,
// runs inside Lock/Unlock; the current-registry pointer is additionally an
// atomic so Swap publishes a fully built replacement in one step and no
// reader can observe a partially restored state. No caller may retain a
// reference to Registry internals after releasing the section.
type Manager struct {
	current atomic.Pointer[Registry]
	mu      sync.Mutex
	engines map[string]*EngineRegistration
}

// NewManager creates a Manager with an empty current Registry and no
// registered engines.
func NewManager() *Manager {
	m := &Manager{
		engines: make(map[string]*EngineRegistration),
	}
	m.current.Store(newRegistry(nil))
	return m
}

// RegisterEngine registers a runtime under name with its dedicated store
// connection. Names are unique case-insensitively; registering a duplicate
// fails. Engines are registered once at startup, before commands flow.
func (m *Manager) RegisterEngine(name string, eng Engine, conn scriptruntime.Store) (*EngineRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := m.engines[key]; exists {
		return nil, errors.InvalidInput(errors.PhaseEngine, "Engine '%s' already registered", name)
	}
	reg := &EngineRegistration{name: name, eng: eng, conn: conn}
	m.engines[key] = reg
	m.current.Load().addEngineStats(name)
	return reg, nil
}

// Engine looks up a registration case-insensitively.
func (m *Manager) Engine(name string) (*EngineRegistration, bool) {
	reg, ok := m.engines[strings.ToLower(name)]
	return reg, ok
}

// Engines returns all registrations sorted by name.
func (m *Manager) Engines() []*EngineRegistration {
	return sortedRegistrations(m.engines)
}

// Lock enters the exclusive section.
func (m *Manager) Lock() { m.mu.Lock() }

// Unlock leaves the exclusive section.
func (m *Manager) Unlock() { m.mu.Unlock() }

// Current returns the current Registry. Mutating its contents requires the
// exclusive section.
func (m *Manager) Current() *Registry {
	return m.current.Load()
}

// NewRegistry creates a detached Registry seeded with a stats entry for
// every registered engine. Used to build a replacement off to the side
// before publishing it with Swap.
func (m *Manager) NewRegistry() *Registry {
	return newRegistry(sortedRegistrations(m.engines))
}

// Swap atomically publishes next as the current Registry and returns the
// previous one. The caller must hold the exclusive section and owns the
// returned Registry's disposal.
func (m *Manager) Swap(next *Registry) *Registry {
	return m.current.Swap(next)
}

// ClearCurrent replaces the current Registry with a fresh one. With async
// set, the registry is logically empty immediately and releasing the old
// registry's engine handles is deferred to a background goroutine. Engine
// handles may only be touched inside the exclusive section, so the
// goroutine re-acquires it before disposing; release waits for whatever
// command triggered the flush to finish. The caller must hold the
// exclusive section.
func (m *Manager) ClearCurrent(async bool) {
	old := m.Swap(m.NewRegistry())
	if old == nil {
		return
	}
	if async {
		go func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			old.Dispose()
		}()
		return
	}
	old.Dispose()
}

// Close releases every registered engine. Called once at shutdown, after
// all commands have drained.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.current.Load(); cur != nil {
		cur.Dispose()
	}
	for _, reg := range m.engines {
		reg.eng.ReleaseContext()
	}
	m.engines = make(map[string]*EngineRegistration)
}
