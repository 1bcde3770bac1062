package crdt

import "errors"

// ErrInvalidArgument is the sentinel wrapped by every path/index/shape
// validation failure in this package: out-of-range indices, reversed
// ranges, cross-depth tree edits, and mixed-type bulk inserts (spec §7).
// Callers test with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")
