package imageconvert

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// Binding is the hardware-acceleration subsystem handle a Decoder runs
// on. It must be initialized once before any Decoder is constructed
// and deinitialized once after all Decoders are closed.
type Binding = omxil.Binding

// PixelFormat is a supported output pixel layout.
type PixelFormat int

const (
	// FormatYUV420PackedPlanar is packed-planar YUV 4:2:0.
	FormatYUV420PackedPlanar PixelFormat = iota
	// FormatRGB565 is 16-bit packed RGB.
	FormatRGB565
	// FormatABGR8888 is 32-bit ABGR.
	FormatABGR8888
)

// String returns a human-readable format name.
func (f PixelFormat) String() string {
	switch f {
	case FormatYUV420PackedPlanar:
		return "yuv420-packed-planar"
	case FormatRGB565:
		return "rgb565"
	case FormatABGR8888:
		return "abgr8888"
	default:
		return "invalid"
	}
}

// BytesPerPixel returns the per-pixel byte cost used for buffer
// sizing: 1, 2 or 4. Returns 0 for an invalid format.
func (f PixelFormat) BytesPerPixel() int {
	return f.omx().BytesPerPixel()
}

// omx maps the public format onto the binding's color format.
// Unknown values map to ColorUnused, which fails validation.
func (f PixelFormat) omx() omxil.ColorFormat {
	switch f {
	case FormatYUV420PackedPlanar:
		return omxil.ColorYUV420PackedPlanar
	case FormatRGB565:
		return omxil.ColorRGB565
	case FormatABGR8888:
		return omxil.ColorABGR8888
	default:
		return omxil.ColorUnused
	}
}

// Default configuration values, matching the hardware's native full-HD
// sizing.
const (
	DefaultOutputWidth  = 1920
	DefaultOutputHeight = 1080
	DefaultInputWidth   = 1920
	DefaultInputHeight  = 1080
	DefaultTimeout      = 250 * time.Millisecond
	DefaultName         = "jpeg_decoder"
)

// Config configures a Decoder.
type Config struct {
	// Binding is the hardware subsystem handle (required, already
	// initialized).
	Binding Binding

	// OutputWidth and OutputHeight are the desired output dimensions.
	// Zero selects the defaults.
	OutputWidth  int
	OutputHeight int

	// OutputFormat is the desired output pixel layout.
	OutputFormat PixelFormat

	// InputWidth and InputHeight are sizing hints for the expected
	// compressed input; they bound the input buffer size, not the
	// accepted image dimensions. Zero selects the defaults.
	InputWidth  int
	InputHeight int

	// Timeout bounds every blocking hardware wait. Zero selects
	// DefaultTimeout.
	Timeout time.Duration

	// Name identifies this decoder instance in logs.
	Name string

	// AlternateSetup selects the alternate startup order, needed by
	// some hardware/firmware combinations that reject output-buffer
	// enablement before the downstream geometry is known. Output is
	// identical either way; this is a compatibility knob only.
	AlternateSetup bool
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.OutputWidth <= 0 {
		c.OutputWidth = DefaultOutputWidth
	}
	if c.OutputHeight <= 0 {
		c.OutputHeight = DefaultOutputHeight
	}
	if c.InputWidth <= 0 {
		c.InputWidth = DefaultInputWidth
	}
	if c.InputHeight <= 0 {
		c.InputHeight = DefaultInputHeight
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	return c
}

// Frame is one converted output image.
type Frame struct {
	// Width and Height are the configured output dimensions.
	Width  int
	Height int
	// Format is the output pixel layout.
	Format PixelFormat
	// Stride is bytes per padded row (16-aligned width times bytes
	// per pixel).
	Stride int
	// Data holds Stride * align16(Height) bytes of pixel data.
	Data []byte
}

// ConvertStats are cumulative counters for one Decoder.
type ConvertStats struct {
	// Sessions is the number of conversion sessions attempted.
	Sessions uint64
	// Failures is the number of sessions that aborted.
	Failures uint64
	// BytesConverted is the total compressed input bytes of
	// successful sessions.
	BytesConverted uint64
	// Renegotiations counts post-setup format changes handled.
	Renegotiations uint64
	// LastOutputBytes is the filled length of the most recent output
	// buffer.
	LastOutputBytes int
	// LastElapsed is the wall time of the most recent session.
	LastElapsed time.Duration
}
