package imageconvert

import "io"

// Converter defines the contract for compressed-still-image conversion.
//
// Implementations must guarantee:
//   - Construction is fail-fast: an instance you hold is ready
//   - ConvertFromFile/Convert may be called repeatedly on one instance
//   - Calls are serialized internally; one session runs at a time
//   - A mid-session failure aborts that session only, but the instance
//     is not guaranteed clean; callers should Close rather than retry
//   - Close is idempotent
type Converter interface {
	// ConvertFromFile decodes and converts one compressed image file.
	// Returns the input byte count on success. A missing or empty
	// file fails without touching the pipeline or readiness.
	ConvertFromFile(path string) (int64, error)

	// Convert decodes and converts size bytes of compressed data
	// from r.
	Convert(r io.Reader, size int64) (int64, error)

	// LastFrame returns a copy of the most recent converted output,
	// or nil if no session has succeeded yet.
	LastFrame() *Frame

	// Ready reports whether the pipeline is set up and accepting
	// sessions.
	Ready() bool

	// Stats returns cumulative conversion counters.
	Stats() ConvertStats

	// Close tears both pipeline stages down. The instance is dead
	// afterwards.
	Close() error
}
