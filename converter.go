package imageconvert

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/pipeline"
)

// Public error values. Convert and ConvertFromFile wrap these so
// callers can react by identity.
var (
	// ErrNotReady means the decoder is closed or never finished
	// construction.
	ErrNotReady = errors.New("image-convert: decoder not ready")
	// ErrEmptySource means the input file or stream has no bytes.
	ErrEmptySource = errors.New("image-convert: empty source")
	// ErrUnsupportedFormat mirrors the binding's format rejection.
	ErrUnsupportedFormat = omxil.ErrUnsupportedFormat
	// ErrStreamCorrupt is the hardware's report of malformed input.
	ErrStreamCorrupt = omxil.ErrStreamCorrupt
)

// Decoder converts compressed still images to raw pixel buffers using
// a two-stage hardware pipeline: a decode stage producing the native
// frame and a resize stage scaling/reformatting it. Frame data moves
// stage to stage over a buffer tunnel and never transits application
// memory.
type Decoder struct {
	cfg Config

	decoder *pipeline.Stage
	resizer *pipeline.Stage
	neg     *pipeline.Negotiator

	inBufSize  int
	outBufSize int

	ready atomic.Bool

	// mu serializes sessions: the pipeline holds per-instance buffer
	// and event state, so one conversion runs at a time.
	mu sync.Mutex

	sessions       atomic.Uint64
	failures       atomic.Uint64
	bytesConverted atomic.Uint64

	statsMu    sync.Mutex
	lastFrame  *Frame
	lastOutput int
	lastTook   time.Duration
}

var _ Converter = (*Decoder)(nil)

// NewDecoder builds the two-stage pipeline and performs the
// data-independent part of format negotiation (the rest completes when
// the first image header is parsed).
//
// Validation is fail-fast: an unsupported output format or a component
// with missing image ports fails construction here, never later during
// negotiation. On error nothing is left allocated.
func NewDecoder(cfg Config) (*Decoder, error) {
	cfg = cfg.withDefaults()

	if cfg.Binding == nil {
		return nil, fmt.Errorf("image-convert: binding is required")
	}

	color := cfg.OutputFormat.omx()
	bpp := color.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("image-convert: output format %d: %w",
			int(cfg.OutputFormat), ErrUnsupportedFormat)
	}

	d := &Decoder{
		cfg:        cfg,
		inBufSize:  pipeline.InputBufferSize(cfg.InputWidth, cfg.InputHeight),
		outBufSize: pipeline.OutputBufferSize(cfg.OutputWidth, cfg.OutputHeight, bpp),
	}

	dec, err := pipeline.NewStage(cfg.Binding, "image_decode", cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("image-convert: %s: %w", cfg.Name, err)
	}
	rsz, err := pipeline.NewStage(cfg.Binding, "resize", cfg.Timeout)
	if err != nil {
		dec.Close()
		return nil, fmt.Errorf("image-convert: %s: %w", cfg.Name, err)
	}
	d.decoder = dec
	d.resizer = rsz

	neg, err := pipeline.NewNegotiator(dec, rsz, pipeline.OutputConfig{
		Width:      cfg.OutputWidth,
		Height:     cfg.OutputHeight,
		Color:      color,
		BufferSize: d.outBufSize,
	}, cfg.AlternateSetup)
	if err != nil {
		d.teardown()
		return nil, fmt.Errorf("image-convert: %s: %w", cfg.Name, err)
	}
	d.neg = neg

	if err := neg.Setup(d.inBufSize); err != nil {
		d.teardown()
		return nil, fmt.Errorf("image-convert: %s: setup: %w", cfg.Name, err)
	}

	d.ready.Store(true)
	slog.Info("image-convert: decoder ready",
		"name", cfg.Name,
		"output", fmt.Sprintf("%dx%d", cfg.OutputWidth, cfg.OutputHeight),
		"format", cfg.OutputFormat.String(),
		"alt_setup", cfg.AlternateSetup,
		"in_buf_bytes", neg.InputPool().BufferSize(),
	)
	return d, nil
}

// Ready reports whether the pipeline accepts sessions.
func (d *Decoder) Ready() bool { return d.ready.Load() }

// ConvertFromFile converts one compressed image file. Returns the file
// size on success. A missing or empty file fails before any buffer is
// touched, leaving readiness unchanged.
func (d *Decoder) ConvertFromFile(path string) (int64, error) {
	if !d.ready.Load() {
		return 0, ErrNotReady
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("image-convert: %s: open %s: %w", d.cfg.Name, path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("image-convert: %s: stat %s: %w", d.cfg.Name, path, err)
	}
	if fi.Size() <= 0 {
		return 0, fmt.Errorf("image-convert: %s: %s: %w", d.cfg.Name, path, ErrEmptySource)
	}

	return d.Convert(f, fi.Size())
}

// Convert feeds size bytes of compressed data from r through the
// pipeline and blocks until the converted frame is out. Returns the
// input byte count on success.
func (d *Decoder) Convert(r io.Reader, size int64) (int64, error) {
	if !d.ready.Load() {
		return 0, ErrNotReady
	}
	if size <= 0 {
		return 0, fmt.Errorf("image-convert: %s: %w", d.cfg.Name, ErrEmptySource)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-check under the lock: a concurrent Close may have torn the
	// stages down between the fast-path check and acquiring the mutex.
	if !d.ready.Load() {
		return 0, ErrNotReady
	}

	traceID := uuid.New().String()
	d.sessions.Add(1)
	start := time.Now()

	slog.Debug("image-convert: session start",
		"name", d.cfg.Name,
		"bytes", size,
		"trace_id", traceID,
	)

	sess := pipeline.NewSession(d.decoder, d.resizer, d.neg)
	n, err := sess.Run(r, size)
	took := time.Since(start)
	if err != nil {
		d.failures.Add(1)
		slog.Warn("image-convert: session failed",
			"name", d.cfg.Name,
			"error", err,
			"trace_id", traceID,
		)
		return 0, fmt.Errorf("image-convert: %s: %w", d.cfg.Name, err)
	}

	d.bytesConverted.Add(uint64(n))
	d.captureFrame(took)

	slog.Info("image-convert: session complete",
		"name", d.cfg.Name,
		"bytes", n,
		"elapsed", took,
		"trace_id", traceID,
	)
	return n, nil
}

// captureFrame snapshots the filled output buffer into lastFrame.
func (d *Decoder) captureFrame(took time.Duration) {
	out := d.neg.OutputPool()
	if out == nil || out.Len() == 0 {
		return
	}
	buf := out.Buffer(0)

	frame := &Frame{
		Width:  d.cfg.OutputWidth,
		Height: d.cfg.OutputHeight,
		Format: d.cfg.OutputFormat,
		Stride: pipeline.Align16(d.cfg.OutputWidth) * d.cfg.OutputFormat.BytesPerPixel(),
		Data:   make([]byte, buf.FilledLen),
	}
	copy(frame.Data, buf.Data[:buf.FilledLen])

	d.statsMu.Lock()
	d.lastFrame = frame
	d.lastOutput = buf.FilledLen
	d.lastTook = took
	d.statsMu.Unlock()
}

// LastFrame returns a copy of the most recent converted output, or nil
// if no session has succeeded yet.
func (d *Decoder) LastFrame() *Frame {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if d.lastFrame == nil {
		return nil
	}
	f := *d.lastFrame
	f.Data = append([]byte(nil), d.lastFrame.Data...)
	return &f
}

// Stats returns cumulative conversion counters. Safe from any
// goroutine.
func (d *Decoder) Stats() ConvertStats {
	d.statsMu.Lock()
	lastOut := d.lastOutput
	lastTook := d.lastTook
	d.statsMu.Unlock()

	var renegs uint64
	if d.neg != nil {
		renegs = d.neg.Renegotiations()
	}
	return ConvertStats{
		Sessions:        d.sessions.Load(),
		Failures:        d.failures.Load(),
		BytesConverted:  d.bytesConverted.Load(),
		Renegotiations:  renegs,
		LastOutputBytes: lastOut,
		LastElapsed:     lastTook,
	}
}

// Close removes the tunnel and releases both stages. Idempotent.
func (d *Decoder) Close() error {
	if !d.ready.Swap(false) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.teardown()
	slog.Info("image-convert: decoder closed", "name", d.cfg.Name)
	return err
}

func (d *Decoder) teardown() error {
	var errs []error
	if d.decoder != nil && d.resizer != nil {
		if err := d.decoder.RemoveOutTunnel(d.resizer); err != nil {
			errs = append(errs, err)
		}
	}
	if d.decoder != nil {
		if err := d.decoder.Close(); err != nil {
			errs = append(errs, err)
		}
		d.decoder = nil
	}
	if d.resizer != nil {
		if err := d.resizer.Close(); err != nil {
			errs = append(errs, err)
		}
		d.resizer = nil
	}
	return errors.Join(errs...)
}
