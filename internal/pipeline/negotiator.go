package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// NegotiationState tracks progress of the format/tunnel negotiation.
type NegotiationState int

const (
	// NegotiationNotStarted means Setup has not run.
	NegotiationNotStarted NegotiationState = iota
	// NegotiationAwaitingFirstSettingsChanged means the decode stage
	// is executing but the actual image format is not yet known.
	NegotiationAwaitingFirstSettingsChanged
	// NegotiationTunnelPlaced means the tunnel exists but steady
	// state has not been confirmed.
	NegotiationTunnelPlaced
	// NegotiationSteadyState means both stages run with a live tunnel
	// and agreed formats.
	NegotiationSteadyState
)

// String returns a human-readable negotiation state name.
func (n NegotiationState) String() string {
	switch n {
	case NegotiationNotStarted:
		return "not-started"
	case NegotiationAwaitingFirstSettingsChanged:
		return "awaiting-first-settings-changed"
	case NegotiationTunnelPlaced:
		return "tunnel-placed"
	case NegotiationSteadyState:
		return "steady-state"
	default:
		return fmt.Sprintf("NegotiationState(%d)", int(n))
	}
}

// StepError tags a negotiation failure with the step it happened in, so
// an aborted sequence still reports which sub-step failed.
type StepError struct {
	Step string // e.g. "place-tunnel", "enable-output-buffers"
	Err  error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline: negotiation step %s: %v", e.Step, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// OutputConfig is the caller-requested resize-output configuration.
type OutputConfig struct {
	Width  int
	Height int
	Color  omxil.ColorFormat
	// BufferSize is the requested output buffer size; the negotiator
	// adopts the actual size granted at enable time.
	BufferSize int
}

// Negotiator drives port-format negotiation and the buffer tunnel
// between the decode and resize stages.
//
// Two setup orders exist. The standard order configures and idles the
// resize output before any data flows. The alternate order defers the
// resize-output configuration and buffer enablement until the decode
// stage has parsed the actual image header; some hardware/firmware
// combinations reject output-buffer enablement before the downstream
// geometry is known. Both orders share setupTunnel.
type Negotiator struct {
	decoder *Stage
	resizer *Stage

	decoderInPort  omxil.PortIndex
	decoderOutPort omxil.PortIndex
	resizerInPort  omxil.PortIndex
	resizerOutPort omxil.PortIndex

	out       OutputConfig
	alternate bool

	state         NegotiationState
	setupComplete bool

	// Adopted pool sizes after enablement.
	inPool  *BufferPool
	outPool *BufferPool

	// renegotiations counts post-setup format changes handled.
	renegotiations uint64
}

// NewNegotiator wires a negotiator over the two stages. Port indices
// are the first image ports of each direction.
func NewNegotiator(decoder, resizer *Stage, out OutputConfig, alternate bool) (*Negotiator, error) {
	if len(decoder.InPorts) < 1 || len(decoder.OutPorts) < 1 ||
		len(resizer.InPorts) < 1 || len(resizer.OutPorts) < 1 {
		return nil, fmt.Errorf("pipeline: %w: expected 4 image ports, decoder %d/%d resizer %d/%d",
			omxil.ErrConstructionFailed,
			len(decoder.InPorts), len(decoder.OutPorts),
			len(resizer.InPorts), len(resizer.OutPorts))
	}

	return &Negotiator{
		decoder:        decoder,
		resizer:        resizer,
		decoderInPort:  decoder.InPorts[0],
		decoderOutPort: decoder.OutPorts[0],
		resizerInPort:  resizer.InPorts[0],
		resizerOutPort: resizer.OutPorts[0],
		out:            out,
		alternate:      alternate,
		state:          NegotiationNotStarted,
	}, nil
}

// State returns the current negotiation state.
func (n *Negotiator) State() NegotiationState { return n.state }

// SetupComplete reports whether steady state has been reached at least
// once.
func (n *Negotiator) SetupComplete() bool { return n.setupComplete }

// InputPool returns the decode-input pool (valid after Setup).
func (n *Negotiator) InputPool() *BufferPool { return n.inPool }

// OutputPool returns the resize-output pool, or nil while the
// alternate order has not yet enabled it.
func (n *Negotiator) OutputPool() *BufferPool { return n.outPool }

// DecoderOutPort returns the decode stage's image output port.
func (n *Negotiator) DecoderOutPort() omxil.PortIndex { return n.decoderOutPort }

// ResizerOutPort returns the resize stage's image output port.
func (n *Negotiator) ResizerOutPort() omxil.PortIndex { return n.resizerOutPort }

// Renegotiations returns the number of post-setup format changes
// handled.
func (n *Negotiator) Renegotiations() uint64 { return n.renegotiations }

// Setup performs the data-independent part of negotiation: decode
// input format and buffers, and (standard order only) the resize
// output configuration, Idle transition and buffer pool. The rest
// waits for the first settings-changed event.
func (n *Negotiator) Setup(inBufSize int) error {
	// Both stages must start from Loaded.
	if err := stepErr("reset-decoder-state", n.ensureLoaded(n.decoder)); err != nil {
		return err
	}
	if err := stepErr("reset-resizer-state", n.ensureLoaded(n.resizer)); err != nil {
		return err
	}

	// Compressed JPEG in, color not applicable on the compressed port.
	if err := stepErr("set-decoder-input-format",
		n.decoder.SetPortFormat(n.decoderInPort, omxil.CodingJPEG, omxil.ColorUnused)); err != nil {
		return err
	}

	if err := stepErr("decoder-to-idle", n.decoder.ChangeState(omxil.StateIdle)); err != nil {
		return err
	}
	if err := stepErr("decoder-to-executing", n.decoder.ChangeState(omxil.StateExecuting)); err != nil {
		return err
	}

	pool, err := n.decoder.EnableBuffers(n.decoderInPort, inBufSize)
	if err != nil {
		return stepErr("enable-input-buffers", err)
	}
	n.inPool = pool

	if !n.alternate {
		if err := n.configureResizerOutput(); err != nil {
			return err
		}
		if err := stepErr("resizer-to-idle", n.resizer.ChangeState(omxil.StateIdle)); err != nil {
			return err
		}
		if err := n.enableOutputBuffers(); err != nil {
			return err
		}
	}

	n.state = NegotiationAwaitingFirstSettingsChanged
	slog.Debug("pipeline: negotiation setup done",
		"alternate", n.alternate,
		"in_buf_bytes", n.inPool.BufferSize(),
	)
	return nil
}

// HandleDecodeSettingsChanged drains a pending decode-output
// settings-changed event.
//
// Before steady state it blocks for the first event and completes the
// setup (tunnel placement and, in the alternate order, the deferred
// resize-output work). In steady state it handles recurring events
// (multi-segment images, a new image on a reused pipeline) by pausing
// the tunnel, re-copying the decode-output definition and resuming.
//
// A StreamCorrupt async error aborts immediately. Returns nil when no
// event is pending in steady state.
func (n *Negotiator) HandleDecodeSettingsChanged() error {
	// A pending async error preempts everything.
	if err := n.decoder.PendingError(); err != nil {
		if errors.Is(err, omxil.ErrStreamCorrupt) {
			slog.Warn("pipeline: decode stage reported corrupt stream")
			return stepErr("decode", err)
		}
		// Other async errors are not fatal to negotiation by
		// themselves; surface them attached to the current step.
		slog.Warn("pipeline: decode stage async error", "error", err)
	}

	if !n.setupComplete {
		if err := n.decoder.WaitForPortSettingsChanged(n.decoderOutPort); err != nil {
			return stepErr("wait-first-settings-changed", err)
		}
		n.decoder.ClearPortChanged()

		if err := n.completeSetup(); err != nil {
			return err
		}
		n.setupComplete = true
		n.state = NegotiationSteadyState
		slog.Info("pipeline: negotiation reached steady state",
			"alternate", n.alternate,
			"out_buf_bytes", n.outPool.BufferSize(),
		)
		return nil
	}

	// Steady state: only act on an undrained event for our port.
	if n.decoder.PortChanged() != n.decoderOutPort {
		return nil
	}
	n.decoder.ClearPortChanged()
	n.renegotiations++

	slog.Debug("pipeline: renegotiating after settings change",
		"count", n.renegotiations,
	)

	if err := stepErr("disable-tunnel", n.decoder.DisableOutTunnel(n.resizer)); err != nil {
		return err
	}
	if err := stepErr("copy-port-definition",
		n.decoder.CopyPortDefinitionTo(n.decoderOutPort, n.resizer, n.resizerInPort)); err != nil {
		return err
	}
	if err := stepErr("enable-tunnel", n.decoder.EnableOutTunnel(n.resizer)); err != nil {
		return err
	}

	// Reformatting the resize input makes the hardware recompute its
	// output geometry; wait the event out so later submissions do not
	// race it. A timeout here is logged, not fatal: the resize output
	// may legitimately be unchanged.
	if err := n.resizer.WaitForPortSettingsChanged(n.resizerOutPort); err != nil {
		slog.Debug("pipeline: no resize-output settings change after renegotiation", "error", err)
	}
	n.resizer.ClearPortChanged()

	return nil
}

// completeSetup finishes negotiation after the first decode-output
// settings-changed event, per the selected order.
func (n *Negotiator) completeSetup() error {
	if !n.alternate {
		return n.setupTunnel()
	}

	// Alternate order: the resize output work was deferred until the
	// downstream geometry became known.
	if err := n.configureResizerOutput(); err != nil {
		return err
	}
	if err := stepErr("resizer-to-idle", n.resizer.ChangeState(omxil.StateIdle)); err != nil {
		return err
	}
	if err := n.setupTunnel(); err != nil {
		return err
	}
	return n.enableOutputBuffers()
}

// setupTunnel is the shared tunnel-placement subroutine: copy the now
// final decode-output definition onto the resize input, place and
// enable the tunnel, run the resize stage, and wait for the resize
// output's own settings-changed event.
func (n *Negotiator) setupTunnel() error {
	if err := stepErr("copy-port-definition",
		n.decoder.CopyPortDefinitionTo(n.decoderOutPort, n.resizer, n.resizerInPort)); err != nil {
		return err
	}
	if err := stepErr("place-tunnel",
		n.decoder.PlaceOutTunnel(n.decoderOutPort, n.resizer, n.resizerInPort)); err != nil {
		return err
	}
	n.state = NegotiationTunnelPlaced

	if err := stepErr("resizer-to-executing", n.resizer.ChangeState(omxil.StateExecuting)); err != nil {
		return err
	}
	if err := stepErr("enable-tunnel", n.decoder.EnableOutTunnel(n.resizer)); err != nil {
		return err
	}

	// The reformatted input triggers a resize-output settings-changed
	// event; drain it before declaring steady state.
	if err := n.resizer.WaitForPortSettingsChanged(n.resizerOutPort); err != nil {
		slog.Debug("pipeline: no resize-output settings change after tunnel setup", "error", err)
	}
	n.resizer.ClearPortChanged()

	return nil
}

// configureResizerOutput writes the caller-requested format and
// dimensions to the resize output port.
func (n *Negotiator) configureResizerOutput() error {
	coding := omxil.CodingUnused
	color := n.out.Color
	w := n.out.Width
	h := n.out.Height
	return stepErr("configure-resizer-output",
		n.resizer.SetPortDefinition(n.resizerOutPort, PortUpdate{
			Coding: &coding,
			Color:  &color,
			Width:  &w,
			Height: &h,
		}))
}

// enableOutputBuffers registers the resize-output pool and adopts the
// actual buffer size granted.
func (n *Negotiator) enableOutputBuffers() error {
	pool, err := n.resizer.EnableBuffers(n.resizerOutPort, n.out.BufferSize)
	if err != nil {
		return stepErr("enable-output-buffers", err)
	}
	n.outPool = pool
	if sz := pool.BufferSize(); sz != n.out.BufferSize {
		slog.Debug("pipeline: adopted actual output buffer size",
			"requested", n.out.BufferSize,
			"actual", sz,
		)
		n.out.BufferSize = sz
	}
	return nil
}

// ensureLoaded walks a stage back to Loaded if a previous run left it
// further along.
func (n *Negotiator) ensureLoaded(s *Stage) error {
	if s.State() == omxil.StateLoaded {
		return nil
	}
	return s.ChangeState(omxil.StateLoaded)
}
