// Package registry holds the authoritative state of the functions subsystem:
// which engines exist, which libraries are loaded, and which functions they
// export.
//
// # Architecture
//
// The package provides three layers:
//
//	Engine / EngineRegistration - the capability contract a scripting
//	    runtime implements, plus its registration record with a dedicated
//	    store connection
//	Registry - one complete, disposable snapshot of libraries, the
//	    registry-wide flattened function index, and per-engine statistics
//	Manager - the lifecycle owner: the single "current" Registry pointer,
//	    atomic swap for bulk replace, and the process-wide exclusive section
//
// # Consistency
//
// A Function is inserted into its Library while the engine compiles the
// source (Library.Register), but only becomes visible for dispatch when the
// whole Library is attached to a Registry (Registry.Attach). Attach validates
// every function name against the flattened index before committing anything,
// so a failed load never leaves partial state behind and FCALL dispatch can
// never observe a function whose library is missing.
//
// # Locking
//
// All Registry mutation and all invocation happens inside the Manager's
// exclusive section; the current-registry pointer itself is an atomic so the
// swap publishing a rebuilt Registry is a single step.
package registry
