// Package hostfuncs turns ordinary Go functions into host functions a guest
// WASM module can import.
//
// Declare infers a wire signature (i32/i64/f32/f64 values) from a function's
// Go type and builds a trampoline that decodes wire inputs, calls the function
// and encodes its results. Values that do not fit in a register (text, bytes,
// records, objects) travel as offsets into guest memory, accessed through the
// Memory facade.
//
// The package has NO WASM runtime dependency. An engine binding implements
// Instance and calls Registry.EntryPoint for every guest call; see
// infrastructure/wazero.
package hostfuncs
