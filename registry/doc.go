// Package registry holds the images of compiled expressions that were loaded
// into a target.
//
// The target owns the Registry; an expression only keeps the ID of the image
// it registered and removes it explicitly when it is torn down. IDs are slot
// indexes into an arena, so lookups and removals never touch borrowed
// references.
package registry
