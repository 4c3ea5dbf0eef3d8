// Package imageconvert converts compressed still images (JPEG) into
// raw pixel buffers of a chosen color format and resolution using a
// two-stage hardware-accelerated pipeline.
//
// This module is part of Orion 2.0 and implements Bounded Context
// "Snapshot Conversion". On Raspberry Pi class edge units the camera
// delivers JPEG snapshot stills; this module turns them into raw
// frames for the vision workers without the pixel data ever transiting
// application memory: a decode stage parses the compressed bytes into
// a native-format frame, a resize stage scales and reformats it, and a
// hardware buffer tunnel moves the frame between the two.
//
// # Quick Start
//
//	binding := hwsim.New() // or the device IL binding
//	if err := binding.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	defer binding.Deinit()
//
//	dec, err := imageconvert.NewDecoder(imageconvert.Config{
//	    Binding:      binding,
//	    OutputWidth:  1104,
//	    OutputHeight: 621,
//	    OutputFormat: imageconvert.FormatABGR8888,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dec.Close()
//
//	n, err := dec.ConvertFromFile("snapshot.jpg")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	frame := dec.LastFrame()
//	// frame.Data holds frame.Stride * align16(frame.Height) bytes
//
// # Pipeline Negotiation
//
// The decode stage only learns the real image format after it parses
// the first compressed buffer, so construction is two-phase: NewDecoder
// performs the data-independent setup, and the first conversion
// completes negotiation when the decode stage raises its asynchronous
// "port settings changed" event. Recurring events (multi-segment
// images, a new image on a reused pipeline) are handled by briefly
// pausing the tunnel and re-propagating the format downstream.
//
// Some hardware/firmware combinations reject output-buffer enablement
// before the downstream geometry is known; Config.AlternateSetup
// selects a startup order that defers it. Output is byte-identical
// either way.
//
// # Supported Output Formats
//
//   - FormatYUV420PackedPlanar (1 byte/pixel buffer sizing)
//   - FormatRGB565 (2 bytes/pixel)
//   - FormatABGR8888 (4 bytes/pixel)
//
// Buffer geometry is padded to 16-pixel boundaries: an output buffer
// holds align16(width) * align16(height) * bytesPerPixel bytes.
//
// # Concurrency
//
// A Decoder serializes sessions internally; one conversion runs at a
// time per instance. Two Decoder instances are independent and share
// only the process-wide Binding, whose Init/Deinit the caller owns.
// There is no cancellation primitive: every hardware wait is bounded
// by Config.Timeout (default 250ms), so an abort surfaces as a timeout
// error, after which the caller should Close.
package imageconvert
