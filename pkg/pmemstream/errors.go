package pmemstream

import "errors"

// Sentinel errors matching the taxonomy a caller needs to distinguish:
// invalid arguments never touch persistent state, out-of-space leaves
// region/allocator state unchanged, corrupted/closed/uninitialized are
// reported rather than panicking. Wrap with fmt.Errorf("...: %w", err)
// at call sites that need to attach context.
var (
	ErrInvalidArgument = errors.New("pmemstream: invalid argument")
	ErrOutOfSpace      = errors.New("pmemstream: out of space")
	ErrCorrupted       = errors.New("pmemstream: corrupted span")
	ErrClosed          = errors.New("pmemstream: stream closed")
	ErrNotInitialized  = errors.New("pmemstream: not initialized")
	ErrRegionNotFound  = errors.New("pmemstream: region not found")
	ErrNotPublished    = errors.New("pmemstream: entry not published")
)
