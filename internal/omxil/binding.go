// Package omxil defines the boundary to the hardware-acceleration
// subsystem: component handles, port definitions, buffer exchange and
// event waits, in OpenMAX IL terms.
//
// The pipeline core is written exclusively against the Binding and
// ComponentHandle interfaces. On a Raspberry Pi class device the
// implementation wraps the vendor IL client; in tests and in the
// imgconv-test tool the pure-Go simulator in internal/hwsim stands in.
package omxil

import "time"

// ComponentFlags selects which callback classes a component delivers.
type ComponentFlags uint32

const (
	// FlagsAll enables every event and completion callback. The
	// pipeline always uses this; partial subscriptions exist only for
	// exotic clients.
	FlagsAll ComponentFlags = 0x7f
)

// Binding is the process-wide hardware subsystem handle.
//
// Init must be called exactly once before any component is created, and
// Deinit exactly once after every component is closed. Two pipeline
// instances may share one Binding; they share no other state.
type Binding interface {
	// Init brings the subsystem up. Returns nil on the defined
	// success sentinel, an error otherwise.
	Init() error

	// Deinit tears the subsystem down. All components must be closed
	// first.
	Deinit() error

	// NewComponent creates a named component (e.g. "image_decode",
	// "resize"). The timeout bounds every blocking wait issued through
	// the returned handle.
	NewComponent(name string, flags ComponentFlags, timeout time.Duration) (ComponentHandle, error)
}

// ComponentHandle is one hardware processing unit.
//
// All methods are driven from the single session thread except the
// binding's own completion context, which is only allowed to touch
// Buffer free flags (atomic) and the event accessors' backing state.
type ComponentHandle interface {
	// Name returns the component name the handle was created with.
	Name() string

	// PortIndices returns the input and output port indices of the
	// given domain, in hardware order.
	PortIndices(domain Domain) (in, out []PortIndex)

	// GetPortDefinition reads the current definition of a port.
	GetPortDefinition(port PortIndex) (PortDefinition, error)

	// SetPortDefinition applies a full port definition, including
	// geometry (width, height, stride, slice height) and buffer
	// counts. Some firmware silently rejects stride/slice mismatches,
	// so callers must recompute padded geometry before calling.
	SetPortDefinition(port PortIndex, def PortDefinition) error

	// SetImagePortFormat applies only coding and color to an image
	// port, leaving geometry untouched. This is the lightweight path
	// and is not interchangeable with SetPortDefinition.
	SetImagePortFormat(port PortIndex, coding ImageCoding, color ColorFormat) error

	// ChangeState requests a single legal state transition and blocks
	// until the hardware acknowledges it or the timeout expires.
	ChangeState(target State, timeout time.Duration) error

	// State returns the last acknowledged state.
	State() State

	// EnableBuffers registers a pool of buffers of at least size bytes
	// on the port and enables it. The returned buffers report the
	// actual per-buffer capacity, which may exceed the request and
	// must be adopted by the caller. Only legal in Loaded or Idle.
	EnableBuffers(port PortIndex, size int) ([]*Buffer, error)

	// FreeBuffers disables the port and releases its registered pool.
	FreeBuffers(port PortIndex) error

	// PlaceOutTunnel connects srcPort to dstPort on the peer
	// component. Formats must already be compatible.
	PlaceOutTunnel(srcPort PortIndex, dst ComponentHandle, dstPort PortIndex) error

	// RemoveOutTunnel tears down the tunnel to the peer, if placed.
	RemoveOutTunnel(dst ComponentHandle) error

	// EnableOutTunnel starts data flow over the placed tunnel.
	EnableOutTunnel(dst ComponentHandle) error

	// DisableOutTunnel pauses data flow over the placed tunnel so
	// port definitions may be rewritten.
	DisableOutTunnel(dst ComponentHandle) error

	// EmptyThisBuffer submits a filled input buffer for processing.
	// Ownership passes to the hardware until the completion flips the
	// buffer's free flag.
	EmptyThisBuffer(b *Buffer) error

	// FillThisBuffer hands an empty output buffer to the hardware to
	// be filled.
	FillThisBuffer(b *Buffer) error

	// WaitForPortSettingsChanged blocks until the port raises a
	// settings-changed event, returning immediately if one is already
	// pending. Bounded by the handle timeout; ErrWaitTimeout on expiry.
	// Consumes the pending event for that port.
	WaitForPortSettingsChanged(port PortIndex) error

	// WaitForBufferFilled blocks until an output buffer on the port
	// completes, bounded by timeout.
	WaitForBufferFilled(port PortIndex, timeout time.Duration) error

	// PendingError returns and clears the last asynchronous error the
	// component reported, or nil.
	PendingError() error

	// PortChanged returns the port index of an undrained
	// settings-changed event, or PortNone.
	PortChanged() PortIndex

	// ClearPortChanged drops the pending settings-changed flag.
	ClearPortChanged()

	// PortEOS returns the output port index that has observed the
	// end-of-stream marker, or PortNone.
	PortEOS() PortIndex

	// ResetPortFlags clears cached event state (settings-changed,
	// EOS, pending error) at the start of a session.
	ResetPortFlags()

	// Close releases the component. The handle is dead afterwards.
	Close() error
}
