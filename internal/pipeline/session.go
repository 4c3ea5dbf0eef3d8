package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// Session errors. ErrSessionAborted wraps the specific cause where one
// exists.
var (
	// ErrSessionAborted means the steady-state loop could not finish:
	// empty source, drained-timeout on end-of-stream, or a failed
	// final buffer wait.
	ErrSessionAborted = errors.New("pipeline: session aborted")
)

const (
	// inputBackoff is the yield between free-buffer scans when every
	// input buffer is with the hardware. A bounded sleep/retry is a
	// known latency/CPU tradeoff; a notification-based wait would
	// preserve observable behavior.
	inputBackoff = time.Millisecond

	// eosPollBudget bounds the wait for the end-of-stream marker to
	// reach the resize output after input is exhausted.
	eosPollBudget = 1000
	eosPollStep   = time.Millisecond
)

// Session drives one conversion of a compressed stream through the
// negotiated pipeline. Sessions are transient; a new one is created
// per input stream against a long-lived Negotiator.
type Session struct {
	decoder *Stage
	resizer *Stage
	neg     *Negotiator
}

// NewSession creates a session over an already set up pipeline.
func NewSession(decoder, resizer *Stage, neg *Negotiator) *Session {
	return &Session{decoder: decoder, resizer: resizer, neg: neg}
}

// Run feeds size bytes from r through the pipeline and blocks until the
// end-of-stream marker reaches the resize output and the final output
// buffer is filled. Returns the number of input bytes converted.
//
// Ordering: the negotiation handler runs immediately after every input
// submission. Submitting more input before draining a pending
// settings-changed event risks the hardware queuing frames against a
// stale downstream format.
func (s *Session) Run(r io.Reader, size int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: empty source", ErrSessionAborted)
	}

	// Recover buffer and event state from any prior (possibly
	// aborted) session.
	s.decoder.FreeAllBuffers()
	s.resizer.FreeAllBuffers()
	s.decoder.ResetPortFlags()
	s.resizer.ResetPortFlags()

	inPool := s.neg.InputPool()
	if inPool == nil {
		return 0, fmt.Errorf("%w: no input buffers", ErrSessionAborted)
	}

	toRead := size
	for toRead > 0 {
		used := 0
		for _, buf := range inPool.Buffers() {
			if !buf.Free() {
				continue
			}
			buf.SetFree(false)
			used++

			n, err := readChunk(r, buf.Data)
			if n <= 0 {
				buf.SetFree(true)
				if err != nil && !errors.Is(err, io.EOF) {
					return 0, fmt.Errorf("%w: read input: %v", ErrSessionAborted, err)
				}
				// The reader is dry with bytes still owed: a source
				// truncated after sizing, or a caller-declared size
				// larger than the stream. Abort rather than rescan.
				return 0, fmt.Errorf("%w: input ended %d bytes short of declared size %d",
					ErrSessionAborted, toRead, size)
			}
			toRead -= int64(n)

			buf.FilledLen = n
			buf.Offset = 0
			buf.Flags = 0
			if toRead <= 0 {
				buf.Flags = omxil.FlagEOS
			}
			if err := s.decoder.EmptyThisBuffer(buf); err != nil {
				return 0, fmt.Errorf("%w: submit input: %v", ErrSessionAborted, err)
			}

			// Drain format changes promptly or the pipeline stalls.
			if err := s.neg.HandleDecodeSettingsChanged(); err != nil {
				return 0, err
			}

			// Once the output pool exists, keep a fill request
			// outstanding on the first output buffer.
			if out := s.neg.OutputPool(); out != nil && out.Len() > 0 {
				if err := s.resizer.FillThisBuffer(out.Buffer(0)); err != nil {
					return 0, fmt.Errorf("%w: request output fill: %v", ErrSessionAborted, err)
				}
			}

			if toRead <= 0 {
				break
			}
		}

		if err := s.neg.HandleDecodeSettingsChanged(); err != nil {
			return 0, err
		}

		if used == 0 {
			// Back-pressure: every input buffer is with the hardware.
			time.Sleep(inputBackoff)
		}
	}

	// Input exhausted: poll for the end-of-stream marker to reach the
	// resize output, draining negotiation events while waiting.
	eosSeen := false
	for i := 0; i < eosPollBudget; i++ {
		if s.resizer.PortEOS() == s.neg.ResizerOutPort() {
			eosSeen = true
			break
		}
		if err := s.neg.HandleDecodeSettingsChanged(); err != nil {
			return 0, err
		}
		time.Sleep(eosPollStep)
	}
	if !eosSeen && s.resizer.PortEOS() != s.neg.ResizerOutPort() {
		return 0, fmt.Errorf("%w: end-of-stream not observed on resize output", ErrSessionAborted)
	}

	if err := s.resizer.WaitForBufferFilled(s.neg.ResizerOutPort()); err != nil {
		return 0, fmt.Errorf("%w: final output buffer: %v", ErrSessionAborted, err)
	}

	slog.Debug("pipeline: session complete",
		"bytes_in", size,
		"out_buf_bytes", s.neg.OutputPool().BufferSize(),
	)
	return size, nil
}

// readChunk fills dst as far as the reader allows, treating a clean EOF
// after partial data as success.
func readChunk(r io.Reader, dst []byte) (int, error) {
	n, err := io.ReadFull(r, dst)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	return n, err
}
