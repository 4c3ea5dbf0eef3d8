// Package hwsim is a pure-Go simulation of the hardware-acceleration
// binding. It implements omxil.Binding with in-process components for
// "image_decode" and "resize", delivering completions and events from
// their own goroutines the way firmware does.
//
// The simulator exists so the pipeline core, both setup orders and the
// renegotiation path can run in tests and in the imgconv-test tool
// without device hardware. Output pixel data is a deterministic
// function of the input bytes and the negotiated output geometry, so
// identical inputs produce byte-identical outputs regardless of setup
// order.
package hwsim

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// Component names the simulator knows how to build.
const (
	ComponentImageDecode = "image_decode"
	ComponentResize      = "resize"
)

// Port indices mirror the vendor numbering on Raspberry Pi class
// devices: image_decode uses 320/321, resize uses 60/61.
const (
	decodeInPort  omxil.PortIndex = 320
	decodeOutPort omxil.PortIndex = 321
	resizeInPort  omxil.PortIndex = 60
	resizeOutPort omxil.PortIndex = 61
)

// bufferSizeQuantum is the granularity buffer capacities are rounded
// up to, so callers exercise the adopt-actual-size path.
const bufferSizeQuantum = 4096

// Option configures the simulator.
type Option func(*Sim)

// WithDecodeLatency adds artificial latency to each decode job, to
// exercise back-pressure in the session loop.
func WithDecodeLatency(d time.Duration) Option {
	return func(s *Sim) { s.decodeLatency = d }
}

// Sim is an in-process omxil.Binding.
type Sim struct {
	mu          sync.Mutex
	initialized bool
	comps       map[*component]struct{}

	eg *errgroup.Group

	decodeLatency time.Duration
}

// New creates a simulator. Init must still be called before use.
func New(opts ...Option) *Sim {
	s := &Sim{comps: make(map[*component]struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init brings the simulated subsystem up.
func (s *Sim) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return fmt.Errorf("hwsim: already initialized")
	}
	s.initialized = true
	s.eg = &errgroup.Group{}
	return nil
}

// Deinit tears the subsystem down. All components must be closed.
func (s *Sim) Deinit() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return omxil.ErrNotInitialized
	}
	if len(s.comps) > 0 {
		n := len(s.comps)
		s.mu.Unlock()
		return fmt.Errorf("hwsim: deinit with %d open component(s)", n)
	}
	s.initialized = false
	eg := s.eg
	s.mu.Unlock()

	return eg.Wait()
}

// NewComponent creates a simulated component by name.
func (s *Sim) NewComponent(name string, flags omxil.ComponentFlags, timeout time.Duration) (omxil.ComponentHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, omxil.ErrNotInitialized
	}
	_ = flags // the simulator always delivers every callback class

	c := &component{
		sim:         s,
		name:        name,
		timeout:     timeout,
		state:       omxil.StateLoaded,
		signal:      make(chan struct{}),
		work:        make(chan job, 16),
		portChanged: omxil.PortNone,
		portEOS:     omxil.PortNone,
		ports:       make(map[omxil.PortIndex]*simPort),
	}

	switch name {
	case ComponentImageDecode:
		c.addPort(decodeInPort, omxil.DirInput, omxil.PortDefinition{
			Coding:            omxil.CodingUnused,
			Color:             omxil.ColorUnused,
			BufferCountMin:    2,
			BufferCountActual: 3,
			BufferSizeMin:     bufferSizeQuantum,
		})
		c.addPort(decodeOutPort, omxil.DirOutput, omxil.PortDefinition{
			Coding:            omxil.CodingUnused,
			Color:             omxil.ColorYUV420PackedPlanar,
			BufferCountMin:    1,
			BufferCountActual: 1,
			BufferSizeMin:     bufferSizeQuantum,
		})
	case ComponentResize:
		c.addPort(resizeInPort, omxil.DirInput, omxil.PortDefinition{
			Coding:            omxil.CodingUnused,
			Color:             omxil.ColorYUV420PackedPlanar,
			BufferCountMin:    1,
			BufferCountActual: 1,
			BufferSizeMin:     bufferSizeQuantum,
		})
		c.addPort(resizeOutPort, omxil.DirOutput, omxil.PortDefinition{
			Coding:            omxil.CodingUnused,
			Color:             omxil.ColorUnused,
			BufferCountMin:    1,
			BufferCountActual: 1,
			BufferSizeMin:     bufferSizeQuantum,
		})
	default:
		return nil, fmt.Errorf("hwsim: %w: unknown component %q", omxil.ErrConstructionFailed, name)
	}

	s.comps[c] = struct{}{}
	s.eg.Go(c.worker)
	return c, nil
}

func (s *Sim) dropComponent(c *component) {
	s.mu.Lock()
	delete(s.comps, c)
	s.mu.Unlock()
}

// TriggerSettingsChanged injects a settings-changed event on the named
// component's first output port, as a multi-segment image would.
// Diagnostic hook for exercising the renegotiation path without
// crafting a multi-segment stream.
func (s *Sim) TriggerSettingsChanged(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.comps {
		if c.name != name {
			continue
		}
		c.mu.Lock()
		if len(c.out) > 0 {
			c.portChanged = c.out[0]
			c.signalLocked()
		}
		c.mu.Unlock()
		return nil
	}
	return fmt.Errorf("hwsim: no open component %q", name)
}

// roundBufferSize rounds a requested buffer size up to the quantum.
func roundBufferSize(size int) int {
	if size <= 0 {
		size = 1
	}
	return ((size + bufferSizeQuantum - 1) / bufferSizeQuantum) * bufferSizeQuantum
}
