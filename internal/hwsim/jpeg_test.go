package hwsim

import (
	"bytes"
	"testing"
)

// TestParseJPEGHeader_Synthesized round-trips dimensions through the
// generator and the scanner.
func TestParseJPEGHeader_Synthesized(t *testing.T) {
	cases := []struct {
		w, h int
	}{
		{1920, 1080},
		{640, 360},
		{1, 1},
		{4000, 3000},
	}
	for _, c := range cases {
		data := SynthesizeJPEG(c.w, c.h, 8192)
		w, h, ok, corrupt := parseJPEGHeader(data)
		if corrupt {
			t.Fatalf("%dx%d: reported corrupt", c.w, c.h)
		}
		if !ok {
			t.Fatalf("%dx%d: header not found", c.w, c.h)
		}
		if w != c.w || h != c.h {
			t.Errorf("parsed %dx%d, want %dx%d", w, h, c.w, c.h)
		}
	}
}

// TestParseJPEGHeader_Corrupt checks the corrupt classifications.
func TestParseJPEGHeader_Corrupt(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"no SOI", []byte("this is not a jpeg at all, just text")},
		{"SOI then garbage", []byte{0xff, 0xd8, 0x00, 0x01, 0x02}},
		{"EOI before SOF", []byte{0xff, 0xd8, 0xff, 0xd9}},
		{"SOS before SOF", []byte{0xff, 0xd8, 0xff, 0xda, 0x00, 0x04, 0x01, 0x02}},
		{"zero segment length", []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x01}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, ok, corrupt := parseJPEGHeader(c.data)
			if ok {
				t.Fatal("parsed dimensions from corrupt data")
			}
			if !corrupt {
				t.Fatal("corrupt data not flagged")
			}
		})
	}
}

// TestParseJPEGHeader_NeedsMoreData verifies the scanner asks for more
// bytes instead of misclassifying a truncated header.
func TestParseJPEGHeader_NeedsMoreData(t *testing.T) {
	full := SynthesizeJPEG(1920, 1080, 4096)
	sofEnd := bytes.Index(full, []byte{0xff, 0xda}) // SOS marker
	if sofEnd < 0 {
		t.Fatal("no SOS in synthesized jpeg")
	}

	for _, cut := range []int{1, 2, 4, 10, 21} {
		if cut >= sofEnd {
			break
		}
		_, _, ok, corrupt := parseJPEGHeader(full[:cut])
		if ok {
			t.Errorf("cut=%d: parsed dimensions from truncated header", cut)
		}
		if corrupt {
			t.Errorf("cut=%d: truncated header misclassified as corrupt", cut)
		}
	}
}

// TestSynthesizeJPEG_Size checks size padding and terminator.
func TestSynthesizeJPEG_Size(t *testing.T) {
	data := SynthesizeJPEG(1280, 720, 100*1024)
	if len(data) != 100*1024 {
		t.Errorf("size = %d, want %d", len(data), 100*1024)
	}
	if data[len(data)-2] != 0xff || data[len(data)-1] != 0xd9 {
		t.Error("missing EOI terminator")
	}

	// Deterministic for identical parameters.
	if !bytes.Equal(data, SynthesizeJPEG(1280, 720, 100*1024)) {
		t.Error("synthesis is not deterministic")
	}
}
