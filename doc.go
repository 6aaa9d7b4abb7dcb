// Package scriptruntime provides the server-side functions subsystem of an
// in-memory data-structure server: user-supplied scripts are compiled into
// named libraries of callable functions and invoked through the FCALL
// command family with replication-aware write classification.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	scriptruntime/   Root package with the Store and Dirty collaborator contracts
//	├── registry/    Engine abstraction, library/function registry, lifecycle manager
//	├── luaengine/   Reference scripting engine backed by gopher-lua
//	├── wasmengine/  WebAssembly engine backed by wazero
//	├── command/     FUNCTION subcommands and FCALL/FCALL_RO over argument vectors
//	└── errors/      Structured error types shared by every layer
//
// # Quick Start
//
// Wire a manager, register an engine, and execute commands:
//
//	mgr := registry.NewManager()
//	mgr.RegisterEngine("LUA", luaengine.New(luaengine.Config{}), store)
//
//	h := command.NewHandler(mgr, command.Config{})
//	name, err := h.Execute(ctx, []string{"FUNCTION", "LOAD", code})
//	res, err := h.Execute(ctx, []string{"FCALL", "double", "0", "21"})
//
// The network front end, persistence engine, and replication stream are
// external collaborators: the handler consumes parsed argument vectors and
// returns plain Go values, and signals write effects through the Dirty
// interface.
package scriptruntime
