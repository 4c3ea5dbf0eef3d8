package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// fakeHandle is a scripted ComponentHandle recording the calls the
// Stage issues against it.
type fakeHandle struct {
	name  string
	state omxil.State
	defs  map[omxil.PortIndex]omxil.PortDefinition

	stateCalls  []omxil.State
	formatCalls []omxil.PortIndex
	defCalls    []omxil.PortIndex

	changeStateErr error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		name:  "fake",
		state: omxil.StateLoaded,
		defs: map[omxil.PortIndex]omxil.PortDefinition{
			10: {Index: 10, Dir: omxil.DirInput, Domain: omxil.DomainImage,
				Coding: omxil.CodingUnused, Color: omxil.ColorUnused,
				BufferCountMin: 1, BufferCountActual: 2},
			11: {Index: 11, Dir: omxil.DirOutput, Domain: omxil.DomainImage,
				Coding: omxil.CodingUnused, Color: omxil.ColorYUV420PackedPlanar,
				BufferCountMin: 1, BufferCountActual: 1},
			90: {Index: 90, Dir: omxil.DirInput, Domain: omxil.DomainOther},
		},
	}
}

func (f *fakeHandle) Name() string { return f.name }

func (f *fakeHandle) PortIndices(domain omxil.Domain) (in, out []omxil.PortIndex) {
	if domain != omxil.DomainImage {
		return nil, nil
	}
	return []omxil.PortIndex{10}, []omxil.PortIndex{11}
}

func (f *fakeHandle) GetPortDefinition(port omxil.PortIndex) (omxil.PortDefinition, error) {
	return f.defs[port], nil
}

func (f *fakeHandle) SetPortDefinition(port omxil.PortIndex, def omxil.PortDefinition) error {
	f.defCalls = append(f.defCalls, port)
	f.defs[port] = def
	return nil
}

func (f *fakeHandle) SetImagePortFormat(port omxil.PortIndex, coding omxil.ImageCoding, color omxil.ColorFormat) error {
	f.formatCalls = append(f.formatCalls, port)
	def := f.defs[port]
	def.Coding = coding
	def.Color = color
	f.defs[port] = def
	return nil
}

func (f *fakeHandle) ChangeState(target omxil.State, timeout time.Duration) error {
	if f.changeStateErr != nil {
		return f.changeStateErr
	}
	f.stateCalls = append(f.stateCalls, target)
	f.state = target
	return nil
}

func (f *fakeHandle) State() omxil.State { return f.state }

func (f *fakeHandle) EnableBuffers(port omxil.PortIndex, size int) ([]*omxil.Buffer, error) {
	// Grant more than requested to exercise size adoption.
	actual := size + 512
	bufs := make([]*omxil.Buffer, 2)
	for i := range bufs {
		b := &omxil.Buffer{Data: make([]byte, actual), Port: port}
		b.SetFree(true)
		bufs[i] = b
	}
	return bufs, nil
}

func (f *fakeHandle) FreeBuffers(omxil.PortIndex) error { return nil }

func (f *fakeHandle) PlaceOutTunnel(omxil.PortIndex, omxil.ComponentHandle, omxil.PortIndex) error {
	return nil
}
func (f *fakeHandle) RemoveOutTunnel(omxil.ComponentHandle) error  { return nil }
func (f *fakeHandle) EnableOutTunnel(omxil.ComponentHandle) error  { return nil }
func (f *fakeHandle) DisableOutTunnel(omxil.ComponentHandle) error { return nil }
func (f *fakeHandle) EmptyThisBuffer(*omxil.Buffer) error          { return nil }
func (f *fakeHandle) FillThisBuffer(*omxil.Buffer) error           { return nil }
func (f *fakeHandle) WaitForPortSettingsChanged(omxil.PortIndex) error {
	return nil
}
func (f *fakeHandle) WaitForBufferFilled(omxil.PortIndex, time.Duration) error {
	return nil
}
func (f *fakeHandle) PendingError() error           { return nil }
func (f *fakeHandle) PortChanged() omxil.PortIndex  { return omxil.PortNone }
func (f *fakeHandle) ClearPortChanged()             {}
func (f *fakeHandle) PortEOS() omxil.PortIndex      { return omxil.PortNone }
func (f *fakeHandle) ResetPortFlags()               {}
func (f *fakeHandle) Close() error                  { return nil }

type fakeBinding struct{ h *fakeHandle }

func (b *fakeBinding) Init() error   { return nil }
func (b *fakeBinding) Deinit() error { return nil }
func (b *fakeBinding) NewComponent(name string, _ omxil.ComponentFlags, _ time.Duration) (omxil.ComponentHandle, error) {
	b.h.name = name
	return b.h, nil
}

func newTestStage(t *testing.T) (*Stage, *fakeHandle) {
	t.Helper()
	h := newFakeHandle()
	s, err := NewStage(&fakeBinding{h: h}, "image_decode", 250*time.Millisecond)
	require.NoError(t, err)
	return s, h
}

func TestStage_ChangeState_WalksIntermediateStates(t *testing.T) {
	s, h := newTestStage(t)

	require.NoError(t, s.ChangeState(omxil.StateExecuting))
	assert.Equal(t, []omxil.State{omxil.StateIdle, omxil.StateExecuting}, h.stateCalls)

	h.stateCalls = nil
	require.NoError(t, s.ChangeState(omxil.StateLoaded))
	assert.Equal(t, []omxil.State{omxil.StateIdle, omxil.StateLoaded}, h.stateCalls)
}

func TestStage_ChangeState_NoopWhenAlreadyThere(t *testing.T) {
	s, h := newTestStage(t)
	require.NoError(t, s.ChangeState(omxil.StateLoaded))
	assert.Empty(t, h.stateCalls)
}

func TestStage_ChangeState_PropagatesTimeout(t *testing.T) {
	s, h := newTestStage(t)
	h.changeStateErr = omxil.ErrStateChangeTimeout

	err := s.ChangeState(omxil.StateIdle)
	require.Error(t, err)
	assert.ErrorIs(t, err, omxil.ErrStateChangeTimeout)
}

func TestStage_SetPortDefinition_FormatOnlyUsesLightweightPath(t *testing.T) {
	s, h := newTestStage(t)

	coding := omxil.CodingJPEG
	color := omxil.ColorUnused
	require.NoError(t, s.SetPortDefinition(10, PortUpdate{Coding: &coding, Color: &color}))

	assert.Equal(t, []omxil.PortIndex{10}, h.formatCalls)
	assert.Empty(t, h.defCalls, "format-only change must not issue a full definition write")
}

func TestStage_SetPortDefinition_GeometryRecomputesPadding(t *testing.T) {
	s, h := newTestStage(t)

	color := omxil.ColorABGR8888
	w, ht := 1104, 621
	require.NoError(t, s.SetPortDefinition(11, PortUpdate{Color: &color, Width: &w, Height: &ht}))

	assert.Equal(t, []omxil.PortIndex{11}, h.defCalls)
	assert.Empty(t, h.formatCalls, "geometry change must use the full definition path")

	def := h.defs[11]
	assert.Equal(t, 1104, def.FrameWidth)
	assert.Equal(t, 621, def.FrameHeight)
	assert.Equal(t, 624, def.SliceHeight, "slice height must be 16-aligned")
	assert.Equal(t, 1104*4, def.Stride, "stride is aligned width times bytes per pixel")
}

func TestStage_SetPortDefinition_RejectsNonImagePort(t *testing.T) {
	s, _ := newTestStage(t)

	w := 640
	err := s.SetPortDefinition(90, PortUpdate{Width: &w})
	require.Error(t, err)
	assert.ErrorIs(t, err, omxil.ErrWrongPortDomain)
}

func TestStage_SetPortDefinition_RejectsUnsupportedFormat(t *testing.T) {
	s, _ := newTestStage(t)

	bad := omxil.ColorFormat(99)
	err := s.SetPortDefinition(11, PortUpdate{Color: &bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, omxil.ErrUnsupportedFormat)
}

func TestStage_SetPortDefinition_EmptyUpdateIsNoop(t *testing.T) {
	s, h := newTestStage(t)
	require.NoError(t, s.SetPortDefinition(10, PortUpdate{}))
	assert.Empty(t, h.formatCalls)
	assert.Empty(t, h.defCalls)
}

func TestStage_EnableBuffers_AdoptsActualSize(t *testing.T) {
	s, _ := newTestStage(t)

	pool, err := s.EnableBuffers(10, 4096)
	require.NoError(t, err)
	assert.Equal(t, 4096+512, pool.BufferSize(), "pool must report the granted size, not the request")
	assert.Equal(t, 2, pool.Len())
	assert.Same(t, pool, s.Pool(10))
}

func TestBufferPool_AcquireAndFreeAll(t *testing.T) {
	s, _ := newTestStage(t)
	pool, err := s.EnableBuffers(10, 1024)
	require.NoError(t, err)

	a := pool.Acquire()
	require.NotNil(t, a)
	assert.False(t, a.Free(), "acquired buffer must be in-use")

	b := pool.Acquire()
	require.NotNil(t, b)
	assert.NotSame(t, a, b)

	assert.Nil(t, pool.Acquire(), "exhausted pool must return nil")

	pool.FreeAll()
	assert.NotNil(t, pool.Acquire())
}
