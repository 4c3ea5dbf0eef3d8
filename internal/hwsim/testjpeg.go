package hwsim

// SynthesizeJPEG builds a minimal well-formed baseline JPEG byte
// stream with the given frame dimensions, padded with deterministic
// entropy-looking filler to totalSize bytes.
//
// The simulator only inspects the header, so the filler carries no
// image content; it exists to exercise multi-buffer submission and the
// end-of-stream path with realistic payload sizes. Used by tests and
// by imgconv-test's --synthesize mode.
func SynthesizeJPEG(width, height, totalSize int) []byte {
	header := []byte{
		0xff, 0xd8, // SOI
		// APP0/JFIF
		0xff, 0xe0, 0x00, 0x10,
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x02, // version
		0x00,       // density units
		0x00, 0x01, // x density
		0x00, 0x01, // y density
		0x00, 0x00, // no thumbnail
		// SOF0: len 17, precision 8, height, width, 3 components
		0xff, 0xc0, 0x00, 0x11, 0x08,
		byte(height >> 8), byte(height),
		byte(width >> 8), byte(width),
		0x03,
		0x01, 0x22, 0x00,
		0x02, 0x11, 0x01,
		0x03, 0x11, 0x01,
		// SOS: len 12, 3 components
		0xff, 0xda, 0x00, 0x0c, 0x03,
		0x01, 0x00,
		0x02, 0x11,
		0x03, 0x11,
		0x00, 0x3f, 0x00,
	}

	minSize := len(header) + 2 // room for EOI
	if totalSize < minSize {
		totalSize = minSize
	}

	out := make([]byte, 0, totalSize)
	out = append(out, header...)

	// Deterministic filler, escaping 0xff so no spurious markers
	// appear in the fake scan data.
	x := uint32(uint(width)*31 + uint(height)*17 + 7)
	for len(out) < totalSize-2 {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b := byte(x)
		if b == 0xff {
			b = 0xfe
		}
		out = append(out, b)
	}

	return append(out, 0xff, 0xd9) // EOI
}
