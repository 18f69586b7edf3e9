package space

import "errors"

var (
	// ErrMiss reports an address or range not covered by any block,
	// or a range none of the selected stores could supply. It is an
	// expected outcome, not a failure.
	ErrMiss = errors.New("address not mapped")

	// ErrUnavailable reports that a single backing store could not
	// resolve a range. It is swallowed inside Block.Read by falling
	// through to the next store in priority order.
	ErrUnavailable = errors.New("backing store unavailable")

	// ErrCorrupt reports malformed core structures: bad magic, a
	// truncated segment, overlapping blocks. It aborts the whole
	// operation.
	ErrCorrupt = errors.New("corrupt core structures")
)
