// Package layout places fixed-size WIT values in the argument struct.
//
// Primitives are naturally aligned (u8=1, u32=4, u64=8). Slots are placed
// in order with padding and the struct size is rounded up to the largest
// slot alignment.
package layout
