package registry

import (
	"sync"
	"testing"
	"time"
)

// signalEngine reports each handle release on a channel so tests can
// observe when background disposal runs.
type signalEngine struct {
	*fakeEngine
	released chan struct{}
}

func (e *signalEngine) ReleaseFunction(compiled any) {
	e.fakeEngine.ReleaseFunction(compiled)
	e.released <- struct{}{}
}

func TestManager_RegisterEngine(t *testing.T) {
	m := NewManager()
	eng := &fakeEngine{}

	if _, err := m.RegisterEngine("LUA", eng, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.RegisterEngine("lua", eng, nil); err == nil {
		t.Fatal("case-insensitive duplicate accepted")
	}

	// Lookup is case-insensitive, name keeps its original case.
	reg, ok := m.Engine("lUa")
	if !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if reg.Name() != "LUA" {
		t.Fatalf("Name() = %q, want LUA", reg.Name())
	}

	// The current registry gained a stats entry for the engine.
	if _, ok := m.Current().Stats()["LUA"]; !ok {
		t.Fatal("current registry missing engine stats entry")
	}
}

func TestManager_SwapPublishesAtomically(t *testing.T) {
	m := NewManager()
	reg, _ := m.RegisterEngine("FAKE", &fakeEngine{}, nil)

	next := m.NewRegistry()
	lib := NewLibrary("mylib", reg, "code")
	if err := lib.Register("fn", nil, "", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := next.Attach(lib, false); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.Lock()
	old := m.Swap(next)
	m.Unlock()

	if old == nil || old == next {
		t.Fatal("Swap did not return the previous registry")
	}
	if _, ok := m.Current().Lookup("fn"); !ok {
		t.Fatal("swapped-in registry not visible")
	}
	old.Dispose()
}

func TestManager_ClearCurrent(t *testing.T) {
	m := NewManager()
	reg, _ := m.RegisterEngine("FAKE", &fakeEngine{}, nil)

	m.Lock()
	cur := m.Current()
	lib := NewLibrary("mylib", reg, "code")
	if err := lib.Register("fn", nil, "", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := cur.Attach(lib, false); err != nil {
		t.Fatalf("attach: %v", err)
	}
	m.ClearCurrent(false)
	m.Unlock()

	if m.Current().LibraryCount() != 0 {
		t.Fatal("registry not empty after ClearCurrent")
	}
	if _, ok := m.Current().Stats()["FAKE"]; !ok {
		t.Fatal("fresh registry missing engine stats")
	}
}

func TestManager_ClearCurrentAsync(t *testing.T) {
	m := NewManager()
	eng := &signalEngine{fakeEngine: &fakeEngine{}, released: make(chan struct{}, 4)}
	reg, _ := m.RegisterEngine("FAKE", eng, nil)

	m.Lock()
	lib := NewLibrary("mylib", reg, "code")
	if err := lib.Register("fn", nil, "", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Current().Attach(lib, false); err != nil {
		t.Fatalf("attach: %v", err)
	}
	m.ClearCurrent(true)

	// The registry is logically empty right away, but handle release must
	// wait until the exclusive section is free.
	if m.Current().LibraryCount() != 0 {
		t.Fatal("registry not empty immediately after async clear")
	}
	select {
	case <-eng.released:
		t.Fatal("handles released while the section was still held")
	case <-time.After(20 * time.Millisecond):
	}
	m.Unlock()

	select {
	case <-eng.released:
	case <-time.After(time.Second):
		t.Fatal("background disposal never released the handles")
	}

	// The section stays usable for the next command.
	m.Lock()
	next := NewLibrary("after", reg, "code")
	if err := next.Register("g", nil, "", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Current().Attach(next, false); err != nil {
		t.Fatalf("attach after async clear: %v", err)
	}
	m.Unlock()
}

func TestManager_CurrentIsSafeOutsideSection(t *testing.T) {
	m := NewManager()

	// Current() loads an atomic pointer and may race with Swap.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.Current()
			}
		}
	}()
	for i := 0; i < 100; i++ {
		m.Lock()
		m.Swap(m.NewRegistry()).Dispose()
		m.Unlock()
	}
	close(stop)
	wg.Wait()
}
