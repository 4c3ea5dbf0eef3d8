package omxil

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a hardware component.
//
// Transitions are strictly ordered: Unloaded ↔ Loaded ↔ Idle ↔ Executing.
// A component never skips a state; multi-step moves are driven one legal
// transition at a time by the caller.
type State int

const (
	// StateUnloaded means the component handle exists but no resources
	// are committed to it.
	StateUnloaded State = iota
	// StateLoaded means the component is configured but holds no buffers.
	StateLoaded
	// StateIdle means buffers are allocated and the component is ready
	// to process data.
	StateIdle
	// StateExecuting means the component is actively processing buffers.
	StateExecuting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoaded:
		return "Loaded"
	case StateIdle:
		return "Idle"
	case StateExecuting:
		return "Executing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Direction is the data direction of a port.
type Direction int

const (
	// DirInput marks a port that consumes buffers.
	DirInput Direction = iota
	// DirOutput marks a port that produces buffers.
	DirOutput
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == DirOutput {
		return "output"
	}
	return "input"
}

// Domain classifies what kind of data a port carries.
type Domain int

const (
	// DomainOther covers ports this module does not drive (clock, etc).
	DomainOther Domain = iota
	// DomainImage marks a still-image port.
	DomainImage
)

// ImageCoding is the compression format carried on an image port.
type ImageCoding int

const (
	// CodingUnused means the port carries uncompressed pixel data.
	CodingUnused ImageCoding = iota
	// CodingJPEG means the port carries JPEG compressed data.
	CodingJPEG
)

// String returns a human-readable coding name.
func (c ImageCoding) String() string {
	switch c {
	case CodingUnused:
		return "unused"
	case CodingJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("Coding(%d)", int(c))
	}
}

// ColorFormat is the pixel layout of uncompressed image data.
type ColorFormat int

const (
	// ColorUnused means the color format is not applicable (compressed port).
	ColorUnused ColorFormat = iota
	// ColorYUV420PackedPlanar is packed-planar YUV 4:2:0, 1 byte/pixel
	// on the luma plane (1.5 bytes/pixel total rounds to plane-sized
	// buffers; buffer sizing uses the per-plane convention of the
	// hardware, 1 byte/pixel).
	ColorYUV420PackedPlanar
	// ColorRGB565 is 16-bit packed RGB, 2 bytes/pixel.
	ColorRGB565
	// ColorABGR8888 is 32-bit ABGR, 4 bytes/pixel.
	ColorABGR8888
)

// String returns a human-readable color format name.
func (c ColorFormat) String() string {
	switch c {
	case ColorUnused:
		return "unused"
	case ColorYUV420PackedPlanar:
		return "yuv420-packed-planar"
	case ColorRGB565:
		return "rgb565"
	case ColorABGR8888:
		return "abgr8888"
	default:
		return fmt.Sprintf("ColorFormat(%d)", int(c))
	}
}

// BytesPerPixel returns the per-pixel byte cost used for buffer sizing,
// or 0 for formats that cannot back an output buffer.
func (c ColorFormat) BytesPerPixel() int {
	switch c {
	case ColorYUV420PackedPlanar:
		return 1
	case ColorRGB565:
		return 2
	case ColorABGR8888:
		return 4
	default:
		return 0
	}
}

// PortIndex identifies a port on a component. Indices are assigned by
// the hardware and are not contiguous across components.
type PortIndex int

// PortNone is the sentinel for "no port" in event accessors.
const PortNone PortIndex = -1

// PortDefinition is the negotiated configuration of one image port.
//
// Width/height describe the frame; stride and slice height are the
// hardware's padded geometry and are always multiples of 16.
type PortDefinition struct {
	Index       PortIndex
	Dir         Direction
	Domain      Domain
	Coding      ImageCoding
	Color       ColorFormat
	FrameWidth  int
	FrameHeight int
	Stride      int // bytes per padded row
	SliceHeight int // padded rows per slice
	Enabled     bool

	BufferCountMin    int
	BufferCountActual int
	BufferSizeMin     int
}

// BufferFlags are per-submission flags on a buffer.
type BufferFlags uint32

const (
	// FlagEOS marks the final buffer of a stream. The hardware echoes
	// it on the matching output buffer.
	FlagEOS BufferFlags = 1 << 0
)

// Buffer is one registered buffer of a port's pool.
//
// Ownership: the application owns a buffer while free is true; the
// hardware owns it from submit until the completion callback flips free
// back. The free flag is atomic because the completion runs on the
// binding's execution context, not the session loop.
type Buffer struct {
	// Data is the fixed-capacity backing storage.
	Data []byte
	// Port is the owning port index.
	Port PortIndex
	// FilledLen and Offset describe the valid payload at submit time
	// (input) or at completion time (output).
	FilledLen int
	Offset    int
	// Flags carries FlagEOS when this is the last buffer of a stream.
	Flags BufferFlags

	free atomic.Bool
}

// Free reports whether the application currently owns the buffer.
func (b *Buffer) Free() bool { return b.free.Load() }

// SetFree hands ownership back to the application (true) or to the
// hardware (false).
func (b *Buffer) SetFree(v bool) { b.free.Store(v) }
