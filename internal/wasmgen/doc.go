// Package wasmgen builds small WebAssembly binaries: the image that backs
// a wasm process's memory and the expression images loaded into it.
package wasmgen
