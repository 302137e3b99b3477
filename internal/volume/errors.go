package volume

import "errors"

var (
	// ErrUnknownDevice is returned when a name doesn't resolve to a readable volume
	ErrUnknownDevice = errors.New("unknown device")

	// ErrBadGeometry is returned when an address isn't covered by any segment
	// or a segment violates its layout's invariants
	ErrBadGeometry = errors.New("bad volume geometry")

	// ErrNotImplemented is returned for writes and unsupported RAID types
	ErrNotImplemented = errors.New("not implemented")

	// ErrRecoveryModuleMissing is returned when a degraded parity read needs
	// a recovery hook that was never registered
	ErrRecoveryModuleMissing = errors.New("recovery module not loaded")

	// ErrReadFailed wraps an I/O failure of a single member
	ErrReadFailed = errors.New("member read failed")

	// ErrMemberMissing is returned when a member's disk hasn't been found
	ErrMemberMissing = errors.New("physical volume not found")

	// ErrUnknownNode is returned for a segment node that references nothing
	ErrUnknownNode = errors.New("unknown node")

	// ErrCyclicGraph is returned when a volume is reached through itself
	ErrCyclicGraph = errors.New("cyclic volume graph")

	// ErrScanDepthExceeded is returned when nested rescans don't converge
	ErrScanDepthExceeded = errors.New("scan depth exceeded")
)

// isMemberFailure reports whether err is a failure of one redundant member,
// which callers may route around. A cycle is never one: every other copy
// may lead back into it.
func isMemberFailure(err error) bool {
	if errors.Is(err, ErrCyclicGraph) {
		return false
	}
	return errors.Is(err, ErrReadFailed) ||
		errors.Is(err, ErrMemberMissing) ||
		errors.Is(err, ErrUnknownNode)
}
