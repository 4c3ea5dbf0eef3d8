package hwsim

import "encoding/binary"

// parseJPEGHeader scans buf for the start-of-frame segment and returns
// the image dimensions.
//
// Returns ok=true once a SOF0/SOF1/SOF2 segment with valid dimensions
// is found, corrupt=true when the stream cannot be a JPEG (bad SOI,
// truncated segment lengths, scan data before any SOF), and neither
// when more bytes are needed. Mirrors the firmware's behavior of
// raising the settings-changed event only after the header is parsed
// and a StreamCorrupt error on garbage input.
func parseJPEGHeader(buf []byte) (width, height int, ok, corrupt bool) {
	if len(buf) < 2 {
		return 0, 0, false, false
	}
	if buf[0] != 0xff || buf[1] != 0xd8 {
		return 0, 0, false, true
	}

	i := 2
	for {
		if i+2 > len(buf) {
			return 0, 0, false, false // need more data
		}
		if buf[i] != 0xff {
			return 0, 0, false, true
		}
		marker := buf[i+1]

		switch {
		case marker == 0xd8 || marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			// Standalone markers carry no length.
			i += 2
			continue
		case marker == 0xd9 || marker == 0xda:
			// End-of-image or start-of-scan before any SOF: no
			// dimensions will ever come.
			return 0, 0, false, true
		}

		if i+4 > len(buf) {
			return 0, 0, false, false
		}
		segLen := int(binary.BigEndian.Uint16(buf[i+2 : i+4]))
		if segLen < 2 {
			return 0, 0, false, true
		}

		if marker == 0xc0 || marker == 0xc1 || marker == 0xc2 {
			// SOF: length(2) precision(1) height(2) width(2) ...
			if i+9 > len(buf) {
				return 0, 0, false, false
			}
			height = int(binary.BigEndian.Uint16(buf[i+5 : i+7]))
			width = int(binary.BigEndian.Uint16(buf[i+7 : i+9]))
			if width <= 0 || height <= 0 {
				return 0, 0, false, true
			}
			return width, height, true, false
		}

		i += 2 + segLen
	}
}
