package omxil

import "errors"

// Sentinel errors reported by bindings and surfaced by the pipeline.
// Bindings must return these (possibly wrapped) so the core can react
// by identity rather than by message.
var (
	// ErrConstructionFailed means component creation or port discovery
	// came up short (fewer image ports than the pipeline requires).
	ErrConstructionFailed = errors.New("omxil: component construction failed")

	// ErrUnsupportedFormat means a requested or negotiated coding/color
	// is outside the supported set.
	ErrUnsupportedFormat = errors.New("omxil: unsupported format")

	// ErrWrongPortDomain means an image operation was attempted on a
	// non-image port.
	ErrWrongPortDomain = errors.New("omxil: port is not an image port")

	// ErrStateChangeTimeout means the hardware did not acknowledge a
	// state transition within the configured timeout.
	ErrStateChangeTimeout = errors.New("omxil: state change timed out")

	// ErrBufferAllocationFailed means a buffer pool could not be
	// registered with the hardware.
	ErrBufferAllocationFailed = errors.New("omxil: buffer allocation failed")

	// ErrStreamCorrupt is the hardware's asynchronous report of
	// malformed compressed input.
	ErrStreamCorrupt = errors.New("omxil: compressed stream corrupt")

	// ErrWaitTimeout means a bounded event wait expired with no event.
	ErrWaitTimeout = errors.New("omxil: wait timed out")

	// ErrNotInitialized means the binding was used before Init or
	// after Deinit.
	ErrNotInitialized = errors.New("omxil: binding not initialized")
)
