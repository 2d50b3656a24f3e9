// Package memory provides fixed-size providers that containers draw
// storage from.
//
// A Provider is a region of exactly the requested size, either statically
// embedded (no capability required, the only form permitted at the highest
// integrity tier) or capability-backed (charged against a subsystem budget
// at construction and credited back on Release). Ownership is exclusive:
// the container built over a provider releases it exactly once, and any
// access after release fails with a use-after-free error.
//
// The region is reachable only through bounds-checked ReadAt/WriteAt;
// no contiguous slice of the region is ever handed out.
package memory
