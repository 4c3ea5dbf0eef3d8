package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// Stage wraps one hardware processing unit: a component handle plus the
// image port indices discovered on it and the buffer pools enabled on
// those ports.
type Stage struct {
	handle  omxil.ComponentHandle
	name    string
	timeout time.Duration

	// Image port indices in hardware order. Either slice may be empty
	// for single-direction components.
	InPorts  []omxil.PortIndex
	OutPorts []omxil.PortIndex

	pools map[omxil.PortIndex]*BufferPool
}

// NewStage creates the named component through the binding and
// discovers its image ports.
func NewStage(b omxil.Binding, name string, timeout time.Duration) (*Stage, error) {
	h, err := b.NewComponent(name, omxil.FlagsAll, timeout)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create component %q: %w", name, err)
	}

	in, out := h.PortIndices(omxil.DomainImage)
	s := &Stage{
		handle:   h,
		name:     name,
		timeout:  timeout,
		InPorts:  in,
		OutPorts: out,
		pools:    make(map[omxil.PortIndex]*BufferPool),
	}

	slog.Debug("pipeline: stage created",
		"stage", name,
		"in_ports", len(in),
		"out_ports", len(out),
	)
	return s, nil
}

// Name returns the component name.
func (s *Stage) Name() string { return s.name }

// Handle exposes the underlying component handle for tunnel peers.
func (s *Stage) Handle() omxil.ComponentHandle { return s.handle }

// stateRank orders lifecycle states for path computation.
var stateRank = map[omxil.State]int{
	omxil.StateUnloaded:  0,
	omxil.StateLoaded:    1,
	omxil.StateIdle:      2,
	omxil.StateExecuting: 3,
}

// statePath is the strict transition order; a move always walks
// adjacent states, never skips.
var statePath = []omxil.State{
	omxil.StateUnloaded,
	omxil.StateLoaded,
	omxil.StateIdle,
	omxil.StateExecuting,
}

// ChangeState walks the stage through the minimum number of legal
// intermediate transitions to reach target, waiting for each
// acknowledgment.
func (s *Stage) ChangeState(target omxil.State) error {
	cur := s.handle.State()
	curRank, ok := stateRank[cur]
	if !ok {
		return fmt.Errorf("pipeline: stage %s in unknown state %v", s.name, cur)
	}
	tgtRank, ok := stateRank[target]
	if !ok {
		return fmt.Errorf("pipeline: stage %s: unknown target state %v", s.name, target)
	}

	step := 1
	if tgtRank < curRank {
		step = -1
	}
	for r := curRank; r != tgtRank; r += step {
		next := statePath[r+step]
		if err := s.handle.ChangeState(next, s.timeout); err != nil {
			return fmt.Errorf("pipeline: stage %s: %v -> %v: %w",
				s.name, statePath[r], next, err)
		}
		slog.Debug("pipeline: state changed",
			"stage", s.name,
			"state", next.String(),
		)
	}
	return nil
}

// State returns the last acknowledged state.
func (s *Stage) State() omxil.State { return s.handle.State() }

// SetPortFormat applies coding and color to an image port via the
// lightweight format-only call. Geometry is untouched.
func (s *Stage) SetPortFormat(port omxil.PortIndex, coding omxil.ImageCoding, color omxil.ColorFormat) error {
	if err := checkImageFormat(coding, color); err != nil {
		return err
	}
	if err := s.handle.SetImagePortFormat(port, coding, color); err != nil {
		return fmt.Errorf("pipeline: stage %s port %d: set format: %w", s.name, port, err)
	}
	return nil
}

// PortUpdate is a partial image-port update. Nil fields are preserved
// from the current definition.
type PortUpdate struct {
	Coding      *omxil.ImageCoding
	Color       *omxil.ColorFormat
	Width       *int
	Height      *int
	BufferCount *int
}

// SetPortDefinition applies a partial update to an image port.
//
// When only coding/color change, the lightweight format call is used.
// When width/height also change, stride and slice height are recomputed
// (aligned to 16) and the full definition is written. The two paths
// must stay distinct: some firmware revisions silently reject
// stride/slice mismatches on the full-definition path, and the format
// path cannot carry geometry at all.
func (s *Stage) SetPortDefinition(port omxil.PortIndex, upd PortUpdate) error {
	def, err := s.handle.GetPortDefinition(port)
	if err != nil {
		return fmt.Errorf("pipeline: stage %s port %d: get definition: %w", s.name, port, err)
	}
	if def.Domain != omxil.DomainImage {
		return fmt.Errorf("pipeline: stage %s port %d: %w", s.name, port, omxil.ErrWrongPortDomain)
	}

	formatFields := 0
	geomFields := 0

	if upd.Coding != nil {
		def.Coding = *upd.Coding
		formatFields++
	}
	if upd.Color != nil {
		def.Color = *upd.Color
		formatFields++
	}
	if upd.Width != nil {
		def.FrameWidth = *upd.Width
		geomFields++
	}
	if upd.Height != nil {
		def.FrameHeight = *upd.Height
		geomFields++
	}
	if upd.BufferCount != nil && *upd.BufferCount > def.BufferCountMin {
		def.BufferCountActual = *upd.BufferCount
	}

	if formatFields == 0 && geomFields == 0 {
		return nil
	}

	if err := checkImageFormat(def.Coding, def.Color); err != nil {
		return fmt.Errorf("pipeline: stage %s port %d: %w", s.name, port, err)
	}

	if geomFields == 0 {
		// Format-only change: lightweight call.
		if err := s.handle.SetImagePortFormat(port, def.Coding, def.Color); err != nil {
			return fmt.Errorf("pipeline: stage %s port %d: set format: %w", s.name, port, err)
		}
		return nil
	}

	// Geometry changed: recompute padded stride/slice before the full
	// definition write.
	def.SliceHeight = Align16(def.FrameHeight)
	w := Align16(def.FrameWidth)
	bpp := def.Color.BytesPerPixel()
	if def.Coding == omxil.CodingUnused {
		if bpp == 0 {
			return fmt.Errorf("pipeline: stage %s port %d: %w: color %v",
				s.name, port, omxil.ErrUnsupportedFormat, def.Color)
		}
		def.Stride = w * bpp
	} else {
		// Compressed port: stride is not meaningful, keep padded width.
		def.Stride = w
	}

	if err := s.handle.SetPortDefinition(port, def); err != nil {
		return fmt.Errorf("pipeline: stage %s port %d: set definition: %w", s.name, port, err)
	}
	return nil
}

// CopyPortDefinitionTo copies this stage's srcPort definition onto
// dstPort of the destination stage, preserving the destination's index
// and direction. Used to propagate a negotiated upstream format to the
// downstream input.
func (s *Stage) CopyPortDefinitionTo(srcPort omxil.PortIndex, dst *Stage, dstPort omxil.PortIndex) error {
	def, err := s.handle.GetPortDefinition(srcPort)
	if err != nil {
		return fmt.Errorf("pipeline: stage %s port %d: get definition: %w", s.name, srcPort, err)
	}

	def.Index = dstPort
	def.Dir = omxil.DirInput
	if err := dst.handle.SetPortDefinition(dstPort, def); err != nil {
		return fmt.Errorf("pipeline: stage %s port %d: copy definition: %w", dst.name, dstPort, err)
	}

	slog.Debug("pipeline: port definition copied",
		"from", fmt.Sprintf("%s:%d", s.name, srcPort),
		"to", fmt.Sprintf("%s:%d", dst.name, dstPort),
		"width", def.FrameWidth,
		"height", def.FrameHeight,
		"color", def.Color.String(),
	)
	return nil
}

// EnableBuffers registers a pool on the port, sized at least size bytes
// per buffer, and returns it. The pool reports the actual per-buffer
// capacity the hardware granted, which the caller must adopt.
func (s *Stage) EnableBuffers(port omxil.PortIndex, size int) (*BufferPool, error) {
	bufs, err := s.handle.EnableBuffers(port, size)
	if err != nil {
		return nil, fmt.Errorf("pipeline: stage %s port %d: enable buffers: %w", s.name, port, err)
	}
	pool := newBufferPool(port, bufs)
	s.pools[port] = pool

	slog.Debug("pipeline: buffers enabled",
		"stage", s.name,
		"port", int(port),
		"count", pool.Len(),
		"size_bytes", pool.BufferSize(),
	)
	return pool, nil
}

// Pool returns the pool enabled on port, or nil.
func (s *Stage) Pool(port omxil.PortIndex) *BufferPool { return s.pools[port] }

// FreeAllBuffers marks every buffer in every registered pool free.
// Called at session start so a partially-submitted buffer from an
// aborted run is not mistaken for hardware-owned.
func (s *Stage) FreeAllBuffers() {
	for _, p := range s.pools {
		p.FreeAll()
	}
}

// PlaceOutTunnel connects srcPort to dstPort on the peer stage.
func (s *Stage) PlaceOutTunnel(srcPort omxil.PortIndex, dst *Stage, dstPort omxil.PortIndex) error {
	if err := s.handle.PlaceOutTunnel(srcPort, dst.handle, dstPort); err != nil {
		return fmt.Errorf("pipeline: tunnel %s:%d -> %s:%d: place: %w",
			s.name, srcPort, dst.name, dstPort, err)
	}
	return nil
}

// RemoveOutTunnel tears down the tunnel to the peer, if placed.
func (s *Stage) RemoveOutTunnel(dst *Stage) error {
	return s.handle.RemoveOutTunnel(dst.handle)
}

// EnableOutTunnel starts data flow to the peer.
func (s *Stage) EnableOutTunnel(dst *Stage) error {
	if err := s.handle.EnableOutTunnel(dst.handle); err != nil {
		return fmt.Errorf("pipeline: tunnel %s -> %s: enable: %w", s.name, dst.name, err)
	}
	return nil
}

// DisableOutTunnel pauses data flow to the peer.
func (s *Stage) DisableOutTunnel(dst *Stage) error {
	if err := s.handle.DisableOutTunnel(dst.handle); err != nil {
		return fmt.Errorf("pipeline: tunnel %s -> %s: disable: %w", s.name, dst.name, err)
	}
	return nil
}

// EmptyThisBuffer submits a filled input buffer.
func (s *Stage) EmptyThisBuffer(b *omxil.Buffer) error {
	return s.handle.EmptyThisBuffer(b)
}

// FillThisBuffer requests a fill of an output buffer.
func (s *Stage) FillThisBuffer(b *omxil.Buffer) error {
	return s.handle.FillThisBuffer(b)
}

// WaitForPortSettingsChanged blocks until the port's settings-changed
// event, bounded by the stage timeout.
func (s *Stage) WaitForPortSettingsChanged(port omxil.PortIndex) error {
	return s.handle.WaitForPortSettingsChanged(port)
}

// WaitForBufferFilled blocks until an output buffer completes on port.
func (s *Stage) WaitForBufferFilled(port omxil.PortIndex) error {
	return s.handle.WaitForBufferFilled(port, s.timeout)
}

// PendingError returns and clears the component's last async error.
func (s *Stage) PendingError() error { return s.handle.PendingError() }

// PortChanged returns the port with an undrained settings-changed
// event, or omxil.PortNone.
func (s *Stage) PortChanged() omxil.PortIndex { return s.handle.PortChanged() }

// ClearPortChanged drops the pending settings-changed flag.
func (s *Stage) ClearPortChanged() { s.handle.ClearPortChanged() }

// PortEOS returns the output port that has seen end-of-stream, or
// omxil.PortNone.
func (s *Stage) PortEOS() omxil.PortIndex { return s.handle.PortEOS() }

// ResetPortFlags clears cached event state at session start.
func (s *Stage) ResetPortFlags() { s.handle.ResetPortFlags() }

// Close releases the component.
func (s *Stage) Close() error {
	if err := s.handle.Close(); err != nil {
		return fmt.Errorf("pipeline: stage %s: close: %w", s.name, err)
	}
	return nil
}

// checkImageFormat rejects coding/color values outside the supported
// enumerated set.
func checkImageFormat(coding omxil.ImageCoding, color omxil.ColorFormat) error {
	switch coding {
	case omxil.CodingUnused, omxil.CodingJPEG:
	default:
		return fmt.Errorf("%w: coding %v", omxil.ErrUnsupportedFormat, coding)
	}
	switch color {
	case omxil.ColorUnused, omxil.ColorYUV420PackedPlanar, omxil.ColorRGB565, omxil.ColorABGR8888:
	default:
		return fmt.Errorf("%w: color %v", omxil.ErrUnsupportedFormat, color)
	}
	return nil
}
