package pipeline

// Align16 rounds x up to the next multiple of 16.
//
// The hardware pads frame geometry to 16-pixel macroblock boundaries;
// stride, slice height and buffer sizes are all derived from aligned
// dimensions. Idempotent: Align16(Align16(x)) == Align16(x).
func Align16(x int) int {
	return ((x + 15) / 16) * 16
}

// OutputBufferSize returns the byte size of one output buffer for the
// given frame dimensions and bytes-per-pixel cost.
func OutputBufferSize(width, height, bytesPerPixel int) int {
	return Align16(width) * Align16(height) * bytesPerPixel
}

// InputBufferSize returns the byte size of one compressed-input buffer
// for the expected frame dimensions. The divisor is the hardware's
// sizing convention for JPEG payload chunks.
func InputBufferSize(width, height int) int {
	return Align16(width) * Align16(height) / 32
}
