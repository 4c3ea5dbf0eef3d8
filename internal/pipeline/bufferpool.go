package pipeline

import "github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"

// BufferPool is the fixed set of registered buffers backing one port.
//
// The session loop acquires free buffers here; the hardware returns
// them by flipping the per-buffer free flag from its completion
// context. The pool itself holds no lock: each buffer's flag is atomic
// and a buffer is only ever touched by one side at a time.
type BufferPool struct {
	port omxil.PortIndex
	bufs []*omxil.Buffer
}

func newBufferPool(port omxil.PortIndex, bufs []*omxil.Buffer) *BufferPool {
	return &BufferPool{port: port, bufs: bufs}
}

// Port returns the owning port index.
func (p *BufferPool) Port() omxil.PortIndex { return p.port }

// Len returns the number of registered buffers.
func (p *BufferPool) Len() int { return len(p.bufs) }

// BufferSize returns the actual per-buffer capacity granted by the
// hardware. It may exceed the requested size.
func (p *BufferPool) BufferSize() int {
	if len(p.bufs) == 0 {
		return 0
	}
	return len(p.bufs[0].Data)
}

// Buffer returns the i-th buffer.
func (p *BufferPool) Buffer(i int) *omxil.Buffer { return p.bufs[i] }

// Buffers returns the backing slice, in registration order.
func (p *BufferPool) Buffers() []*omxil.Buffer { return p.bufs }

// Acquire returns the first free buffer, marked in-use, or nil when
// every buffer is with the hardware.
func (p *BufferPool) Acquire() *omxil.Buffer {
	for _, b := range p.bufs {
		if b.Free() {
			b.SetFree(false)
			return b
		}
	}
	return nil
}

// FreeAll marks every buffer free. Called at session start to recover
// from leftover state of an aborted run.
func (p *BufferPool) FreeAll() {
	for _, b := range p.bufs {
		b.SetFree(true)
	}
}
