package hwsim

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// job is one submitted input buffer, captured at EmptyThisBuffer time.
// The payload is copied because the application reuses the buffer as
// soon as the completion flips its free flag.
type job struct {
	payload []byte
	eos     bool
	buf     *omxil.Buffer
}

// frame is the unit of data crossing the tunnel: a digest of the whole
// compressed input, standing in for decoded pixels.
type frame struct {
	digest uint64
	width  int
	height int
}

// tunnel is a placed output tunnel to a peer component.
type tunnel struct {
	dst     *component
	srcPort omxil.PortIndex
	dstPort omxil.PortIndex
	enabled bool
}

type simPort struct {
	def     omxil.PortDefinition
	bufs    []*omxil.Buffer
	enabled bool
	// filled is set when an output buffer on this port completes;
	// cleared by ResetPortFlags.
	filled bool
}

// component is one simulated hardware unit. All mutable state is
// guarded by mu; waiters block on signal, which is closed and replaced
// on every state change (broadcast).
type component struct {
	sim     *Sim
	name    string
	timeout time.Duration

	mu     sync.Mutex
	signal chan struct{}
	closed bool

	state omxil.State
	ports map[omxil.PortIndex]*simPort
	in    []omxil.PortIndex
	out   []omxil.PortIndex

	asyncErr    error
	portChanged omxil.PortIndex
	portEOS     omxil.PortIndex

	// Outgoing tunnel (decode side).
	tun *tunnel

	// Decode side: header scan state and running input digest.
	hdrBuf    []byte
	hdrParsed bool
	corrupt   bool
	digest    hash.Hash64

	// Resize side: a frame waiting for a fill request, and the fill
	// request waiting for a frame.
	pendingFrame *frame
	fillReq      *omxil.Buffer

	work      chan job
	closeOnce sync.Once
}

func (c *component) addPort(idx omxil.PortIndex, dir omxil.Direction, def omxil.PortDefinition) {
	def.Index = idx
	def.Dir = dir
	def.Domain = omxil.DomainImage
	c.ports[idx] = &simPort{def: def}
	if dir == omxil.DirInput {
		c.in = append(c.in, idx)
	} else {
		c.out = append(c.out, idx)
	}
}

// signalLocked wakes every waiter. Caller holds mu.
func (c *component) signalLocked() {
	close(c.signal)
	c.signal = make(chan struct{})
}

// waitCond blocks until pred reports done or an error, bounded by
// timeout. pred runs with mu held.
func (c *component) waitCond(timeout time.Duration, pred func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	c.mu.Lock()
	for {
		done, err := pred()
		if done || err != nil {
			c.mu.Unlock()
			return err
		}
		ch := c.signal
		c.mu.Unlock()

		rem := time.Until(deadline)
		if rem <= 0 {
			return omxil.ErrWaitTimeout
		}
		select {
		case <-ch:
		case <-time.After(rem):
			c.mu.Lock()
			done, err = pred()
			c.mu.Unlock()
			if done || err != nil {
				return err
			}
			return omxil.ErrWaitTimeout
		}
		c.mu.Lock()
	}
}

// --- omxil.ComponentHandle ---

func (c *component) Name() string { return c.name }

func (c *component) PortIndices(domain omxil.Domain) (in, out []omxil.PortIndex) {
	if domain != omxil.DomainImage {
		return nil, nil
	}
	return append([]omxil.PortIndex(nil), c.in...), append([]omxil.PortIndex(nil), c.out...)
}

func (c *component) GetPortDefinition(port omxil.PortIndex) (omxil.PortDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return omxil.PortDefinition{}, fmt.Errorf("hwsim: %s: no port %d", c.name, port)
	}
	return p.def, nil
}

func (c *component) SetPortDefinition(port omxil.PortIndex, def omxil.PortDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return fmt.Errorf("hwsim: %s: no port %d", c.name, port)
	}

	// Index and direction are fixed by the hardware.
	def.Index = p.def.Index
	def.Dir = p.def.Dir
	def.Domain = p.def.Domain
	p.def = def

	// Rewriting the resize input makes the firmware recompute its
	// output geometry and announce it.
	if c.name == ComponentResize && port == resizeInPort {
		c.portChanged = resizeOutPort
	}
	c.signalLocked()
	return nil
}

func (c *component) SetImagePortFormat(port omxil.PortIndex, coding omxil.ImageCoding, color omxil.ColorFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return fmt.Errorf("hwsim: %s: no port %d", c.name, port)
	}
	if p.def.Domain != omxil.DomainImage {
		return omxil.ErrWrongPortDomain
	}
	p.def.Coding = coding
	p.def.Color = color
	c.signalLocked()
	return nil
}

func (c *component) ChangeState(target omxil.State, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	diff := int(target) - int(c.state)
	if diff != 1 && diff != -1 {
		return fmt.Errorf("hwsim: %s: illegal transition %v -> %v", c.name, c.state, target)
	}
	c.state = target
	c.signalLocked()
	return nil
}

func (c *component) State() omxil.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *component) EnableBuffers(port omxil.PortIndex, size int) ([]*omxil.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return nil, fmt.Errorf("hwsim: %s: no port %d", c.name, port)
	}
	if c.state == omxil.StateUnloaded {
		return nil, fmt.Errorf("hwsim: %s port %d: %w: component unloaded",
			c.name, port, omxil.ErrBufferAllocationFailed)
	}
	if p.bufs != nil {
		return nil, fmt.Errorf("hwsim: %s port %d: %w: pool already registered",
			c.name, port, omxil.ErrBufferAllocationFailed)
	}

	if size < p.def.BufferSizeMin {
		size = p.def.BufferSizeMin
	}
	actual := roundBufferSize(size)
	count := p.def.BufferCountActual
	if count < 1 {
		count = 1
	}

	bufs := make([]*omxil.Buffer, count)
	for i := range bufs {
		b := &omxil.Buffer{Data: make([]byte, actual), Port: port}
		b.SetFree(true)
		bufs[i] = b
	}
	p.bufs = bufs
	p.enabled = true
	p.def.Enabled = true
	c.signalLocked()
	return bufs, nil
}

func (c *component) FreeBuffers(port omxil.PortIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ports[port]
	if !ok {
		return fmt.Errorf("hwsim: %s: no port %d", c.name, port)
	}
	p.bufs = nil
	p.enabled = false
	p.def.Enabled = false
	c.signalLocked()
	return nil
}

func (c *component) PlaceOutTunnel(srcPort omxil.PortIndex, dst omxil.ComponentHandle, dstPort omxil.PortIndex) error {
	peer, ok := dst.(*component)
	if !ok {
		return fmt.Errorf("hwsim: %s: tunnel peer is not a simulated component", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tun != nil {
		return fmt.Errorf("hwsim: %s: tunnel already placed", c.name)
	}
	c.tun = &tunnel{dst: peer, srcPort: srcPort, dstPort: dstPort}
	c.signalLocked()
	return nil
}

func (c *component) RemoveOutTunnel(dst omxil.ComponentHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tun == nil {
		return nil
	}
	if peer, ok := dst.(*component); !ok || c.tun.dst != peer {
		return nil
	}
	c.tun = nil
	c.signalLocked()
	return nil
}

func (c *component) EnableOutTunnel(dst omxil.ComponentHandle) error {
	return c.setTunnelEnabled(dst, true)
}

func (c *component) DisableOutTunnel(dst omxil.ComponentHandle) error {
	return c.setTunnelEnabled(dst, false)
}

func (c *component) setTunnelEnabled(dst omxil.ComponentHandle, enabled bool) error {
	peer, ok := dst.(*component)
	if !ok {
		return fmt.Errorf("hwsim: %s: tunnel peer is not a simulated component", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tun == nil || c.tun.dst != peer {
		return fmt.Errorf("hwsim: %s: no tunnel to %s", c.name, peer.name)
	}
	c.tun.enabled = enabled
	c.signalLocked()
	return nil
}

func (c *component) EmptyThisBuffer(b *omxil.Buffer) error {
	if c.name != ComponentImageDecode {
		return fmt.Errorf("hwsim: %s: EmptyThisBuffer on non-decode component", c.name)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("hwsim: %s: component closed", c.name)
	}
	c.mu.Unlock()

	payload := make([]byte, b.FilledLen)
	copy(payload, b.Data[b.Offset:b.Offset+b.FilledLen])
	c.work <- job{payload: payload, eos: b.Flags&omxil.FlagEOS != 0, buf: b}
	return nil
}

func (c *component) FillThisBuffer(b *omxil.Buffer) error {
	if c.name != ComponentResize {
		return fmt.Errorf("hwsim: %s: FillThisBuffer on non-resize component", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fillReq == b {
		// The session keeps a fill request outstanding by resubmitting
		// the first output buffer each loop iteration; duplicates are
		// absorbed here the way the firmware queue does.
		return nil
	}
	b.SetFree(false)
	c.fillReq = b
	c.tryFillLocked()
	return nil
}

func (c *component) WaitForPortSettingsChanged(port omxil.PortIndex) error {
	return c.waitCond(c.timeout, func() (bool, error) {
		if c.asyncErr != nil {
			return false, c.asyncErr
		}
		if c.portChanged == port {
			c.portChanged = omxil.PortNone
			return true, nil
		}
		return false, nil
	})
}

func (c *component) WaitForBufferFilled(port omxil.PortIndex, timeout time.Duration) error {
	return c.waitCond(timeout, func() (bool, error) {
		p, ok := c.ports[port]
		if !ok {
			return false, fmt.Errorf("hwsim: %s: no port %d", c.name, port)
		}
		return p.filled, nil
	})
}

func (c *component) PendingError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.asyncErr
	c.asyncErr = nil
	return err
}

func (c *component) PortChanged() omxil.PortIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portChanged
}

func (c *component) ClearPortChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portChanged = omxil.PortNone
}

func (c *component) PortEOS() omxil.PortIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portEOS
}

func (c *component) ResetPortFlags() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portChanged = omxil.PortNone
	c.portEOS = omxil.PortNone
	c.asyncErr = nil
	for _, p := range c.ports {
		p.filled = false
	}
	// A new session is a new stream: forget the previous header so
	// the next image re-raises the settings-changed event.
	c.hdrBuf = nil
	c.hdrParsed = false
	c.corrupt = false
	c.digest = nil
	c.pendingFrame = nil
	c.fillReq = nil
	c.signalLocked()
}

func (c *component) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state = omxil.StateUnloaded
		c.signalLocked()
		c.mu.Unlock()
		close(c.work)
		c.sim.dropComponent(c)
	})
	return nil
}

// --- worker: the component's own execution context ---

// worker drains submitted buffers: parses the stream header, raises
// events, and pushes the finished frame through the tunnel. It is the
// only writer of completion state, mirroring firmware delivering
// callbacks outside the application's control flow.
func (c *component) worker() error {
	for j := range c.work {
		c.processJob(j)
	}
	return nil
}

func (c *component) processJob(j job) {
	if c.sim.decodeLatency > 0 {
		time.Sleep(c.sim.decodeLatency)
	}

	c.mu.Lock()
	if !c.hdrParsed && !c.corrupt {
		c.hdrBuf = append(c.hdrBuf, j.payload...)
		w, h, ok, bad := parseJPEGHeader(c.hdrBuf)
		switch {
		case bad:
			c.corrupt = true
			c.asyncErr = omxil.ErrStreamCorrupt
		case ok:
			c.hdrParsed = true
			c.hdrBuf = nil
			out := c.ports[decodeOutPort]
			out.def.Coding = omxil.CodingUnused
			out.def.Color = omxil.ColorYUV420PackedPlanar
			out.def.FrameWidth = w
			out.def.FrameHeight = h
			out.def.Stride = align16(w)
			out.def.SliceHeight = align16(h)
			c.portChanged = decodeOutPort
		}
	}
	if !c.corrupt {
		if c.digest == nil {
			c.digest = fnv.New64a()
		}
		c.digest.Write(j.payload)
	}

	var done *frame
	if j.eos && !c.corrupt && c.hdrParsed {
		out := c.ports[decodeOutPort].def
		done = &frame{
			digest: c.digest.Sum64(),
			width:  out.FrameWidth,
			height: out.FrameHeight,
		}
	}
	c.signalLocked()
	c.mu.Unlock()

	// Completion: hand the input buffer back to the application.
	j.buf.SetFree(true)

	if done != nil {
		c.deliverFrame(*done)
	}
}

// deliverFrame pushes a finished frame over the tunnel once it is
// placed and enabled. Bounded so a failed negotiation cannot wedge the
// worker forever.
func (c *component) deliverFrame(f frame) {
	const deliverBudget = 5 * time.Second
	var dst *component
	err := c.waitCond(deliverBudget, func() (bool, error) {
		if c.closed {
			return false, fmt.Errorf("hwsim: %s: closed before frame delivery", c.name)
		}
		if c.tun != nil && c.tun.enabled {
			dst = c.tun.dst
			return true, nil
		}
		return false, nil
	})
	if err != nil || dst == nil {
		return
	}
	dst.receiveFrame(f)
}

// receiveFrame accepts a frame on the resize side and fills an output
// buffer as soon as a fill request is pending.
func (c *component) receiveFrame(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingFrame = &f
	c.tryFillLocked()
	c.signalLocked()
}

// tryFillLocked completes an output buffer when both a frame and a
// fill request are present. The payload is a deterministic function of
// the input digest and the negotiated output geometry. Caller holds mu.
func (c *component) tryFillLocked() {
	if c.pendingFrame == nil || c.fillReq == nil {
		return
	}
	p := c.ports[resizeOutPort]
	if p.bufs == nil {
		return
	}
	def := p.def
	n := def.Stride * def.SliceHeight
	if n <= 0 || n > len(c.fillReq.Data) {
		c.asyncErr = fmt.Errorf("hwsim: %s: output geometry %dx%d exceeds buffer %d",
			c.name, def.Stride, def.SliceHeight, len(c.fillReq.Data))
		c.signalLocked()
		return
	}

	seed := c.pendingFrame.digest ^
		uint64(def.FrameWidth)<<40 ^
		uint64(def.FrameHeight)<<20 ^
		uint64(def.Color)
	fillPattern(c.fillReq.Data[:n], seed)

	c.fillReq.FilledLen = n
	c.fillReq.Offset = 0
	c.fillReq.Flags = omxil.FlagEOS
	c.fillReq.SetFree(true)

	c.fillReq = nil
	c.pendingFrame = nil
	p.filled = true
	c.portEOS = resizeOutPort
	c.signalLocked()
}

// fillPattern writes a deterministic xorshift byte stream.
func fillPattern(dst []byte, seed uint64) {
	x := seed | 1
	for i := range dst {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		dst[i] = byte(x)
	}
}

func align16(x int) int { return ((x + 15) / 16) * 16 }
