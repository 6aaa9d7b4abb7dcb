// Package wasmengine executes library functions compiled to WebAssembly.
//
// A library body is the base64 encoding of a wasm binary. At load time the
// module is compiled and instantiated once, and every export with the
// signature (i32, i32) -> i64 becomes a callable function. Unlike the Lua
// engine there is no registration call: the export table is the registry.
//
// The guest ABI is small:
//
//   - alloc(size i32) -> i32 returns a buffer the host writes the call
//     payload into. The payload is the JSON object {"keys": [...], "args": [...]}.
//   - A function receives (ptr, len) of the payload and returns the result
//     region packed as ptr<<32 | len. A zero length means a nil reply.
//
// Guests that need the data store import the "corvusdb" host module, which
// exposes kv_get and kv_set over the connection bound at engine registration.
package wasmengine
