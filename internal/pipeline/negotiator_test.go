package pipeline

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/hwsim"
	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

// testPipeline bundles a fully constructed pipeline over the simulated
// binding.
type testPipeline struct {
	sim     *hwsim.Sim
	decoder *Stage
	resizer *Stage
	neg     *Negotiator
}

func newTestPipeline(t *testing.T, alternate bool) *testPipeline {
	t.Helper()

	sim := hwsim.New()
	require.NoError(t, sim.Init())

	timeout := 250 * time.Millisecond
	dec, err := NewStage(sim, hwsim.ComponentImageDecode, timeout)
	require.NoError(t, err)
	rsz, err := NewStage(sim, hwsim.ComponentResize, timeout)
	require.NoError(t, err)

	neg, err := NewNegotiator(dec, rsz, OutputConfig{
		Width:      640,
		Height:     360,
		Color:      omxil.ColorABGR8888,
		BufferSize: OutputBufferSize(640, 360, 4),
	}, alternate)
	require.NoError(t, err)

	require.NoError(t, neg.Setup(InputBufferSize(1920, 1080)))

	t.Cleanup(func() {
		dec.RemoveOutTunnel(rsz)
		dec.Close()
		rsz.Close()
		sim.Deinit()
	})

	return &testPipeline{sim: sim, decoder: dec, resizer: rsz, neg: neg}
}

func (p *testPipeline) convert(t *testing.T, input []byte) (int64, error) {
	t.Helper()
	sess := NewSession(p.decoder, p.resizer, p.neg)
	return sess.Run(bytes.NewReader(input), int64(len(input)))
}

func TestNegotiator_SetupState(t *testing.T) {
	t.Run("standard enables output buffers upfront", func(t *testing.T) {
		p := newTestPipeline(t, false)
		assert.Equal(t, NegotiationAwaitingFirstSettingsChanged, p.neg.State())
		assert.NotNil(t, p.neg.InputPool())
		assert.NotNil(t, p.neg.OutputPool(), "standard order enables output buffers at setup")
		assert.False(t, p.neg.SetupComplete())
	})

	t.Run("alternate defers output buffers", func(t *testing.T) {
		p := newTestPipeline(t, true)
		assert.Equal(t, NegotiationAwaitingFirstSettingsChanged, p.neg.State())
		assert.NotNil(t, p.neg.InputPool())
		assert.Nil(t, p.neg.OutputPool(), "alternate order must not enable output buffers before negotiation")
	})
}

func TestNegotiator_ReachesSteadyState_BothVariants(t *testing.T) {
	input := hwsim.SynthesizeJPEG(1920, 1080, 64*1024)

	for _, alternate := range []bool{false, true} {
		name := "standard"
		if alternate {
			name = "alternate"
		}
		t.Run(name, func(t *testing.T) {
			p := newTestPipeline(t, alternate)

			n, err := p.convert(t, input)
			require.NoError(t, err)
			assert.Equal(t, int64(len(input)), n)

			assert.Equal(t, NegotiationSteadyState, p.neg.State())
			assert.True(t, p.neg.SetupComplete())
			require.NotNil(t, p.neg.OutputPool())

			// align16(640) * align16(360) * 4 for ABGR.
			want := 640 * 368 * 4
			out := p.neg.OutputPool().Buffer(0)
			assert.Equal(t, want, out.FilledLen)
			assert.NotZero(t, out.Flags&omxil.FlagEOS, "final output buffer must carry EOS")
		})
	}
}

func TestNegotiator_AdoptsDecodedGeometry(t *testing.T) {
	p := newTestPipeline(t, false)

	input := hwsim.SynthesizeJPEG(800, 600, 32*1024)
	_, err := p.convert(t, input)
	require.NoError(t, err)

	// The resize input must carry the decode stage's parsed geometry.
	def, err := p.resizer.Handle().GetPortDefinition(p.resizer.InPorts[0])
	require.NoError(t, err)
	assert.Equal(t, 800, def.FrameWidth)
	assert.Equal(t, 600, def.FrameHeight)
	assert.Equal(t, Align16(600), def.SliceHeight)
}

func TestNegotiator_CorruptStreamAborts(t *testing.T) {
	p := newTestPipeline(t, false)

	garbage := bytes.Repeat([]byte("definitely not a jpeg "), 512)
	_, err := p.convert(t, garbage)
	require.Error(t, err)
	assert.ErrorIs(t, err, omxil.ErrStreamCorrupt)
	assert.False(t, p.neg.SetupComplete(), "corrupt first stream must not complete setup")
}

func TestNegotiator_StepErrorCarriesFailingStep(t *testing.T) {
	p := newTestPipeline(t, false)

	garbage := bytes.Repeat([]byte{0x00}, 4096)
	_, err := p.convert(t, garbage)
	require.Error(t, err)

	var step *StepError
	require.True(t, errors.As(err, &step), "negotiation failures must be step-tagged")
	assert.NotEmpty(t, step.Step)
}

func TestNegotiator_RenegotiationAfterSteadyState(t *testing.T) {
	p := newTestPipeline(t, false)

	input := hwsim.SynthesizeJPEG(1920, 1080, 48*1024)
	_, err := p.convert(t, input)
	require.NoError(t, err)
	require.True(t, p.neg.SetupComplete())

	// Inject a recurring settings-changed event, as a multi-segment
	// image raises after the first segment.
	require.NoError(t, p.sim.TriggerSettingsChanged(hwsim.ComponentImageDecode))
	require.NoError(t, p.neg.HandleDecodeSettingsChanged())

	assert.Equal(t, uint64(1), p.neg.Renegotiations())
	assert.Equal(t, NegotiationSteadyState, p.neg.State())

	// The pipeline keeps converting after renegotiation.
	n, err := p.convert(t, input)
	require.NoError(t, err)
	assert.Equal(t, int64(len(input)), n)
}

func TestNegotiator_RequiresFourImagePorts(t *testing.T) {
	sim := hwsim.New()
	require.NoError(t, sim.Init())
	defer sim.Deinit()

	timeout := 250 * time.Millisecond
	dec, err := NewStage(sim, hwsim.ComponentImageDecode, timeout)
	require.NoError(t, err)
	defer dec.Close()

	// A bare stage value has no discovered image ports.
	empty := &Stage{}
	_, err = NewNegotiator(dec, empty, OutputConfig{}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, omxil.ErrConstructionFailed)
}
