// Package luaengine is the reference scripting engine: a gopher-lua backed
// implementation of the registry.Engine contract.
//
// The engine shares one interpreter state across every library it compiles,
// so all compiled functions execute inside a single Lua state. This is safe
// because the registry's lifecycle manager serializes every load and every
// invocation through one process-wide exclusive section; the engine itself
// performs no locking.
//
// Library source is compiled as a self-registering script: executing the
// top-level code is expected to call
//
//	redis.register_function('name', function(keys, args) ... end)
//
// (or the table form with description and flags), which funnels into the
// registry's single function-creation path. The `server` global is an alias
// of `redis`. Scripts reach the key-value store through redis.call/pcall,
// bridged to the store connection of the engine's registration.
package luaengine
