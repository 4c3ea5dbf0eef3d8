package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/hwsim"
	"github.com/e7canasta/orion-care-sensor/modules/image-convert/internal/omxil"
)

func TestSession_EmptySourceAborts(t *testing.T) {
	p := newTestPipeline(t, false)

	_, err := p.convert(t, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionAborted)
}

// TestSession_ShortReaderAborts feeds a reader holding fewer bytes than
// the declared size. The session must fail instead of rescanning the
// pool forever waiting for bytes that will never come.
func TestSession_ShortReaderAborts(t *testing.T) {
	p := newTestPipeline(t, false)

	input := hwsim.SynthesizeJPEG(1920, 1080, 32*1024)
	sess := NewSession(p.decoder, p.resizer, p.neg)

	done := make(chan error, 1)
	go func() {
		_, err := sess.Run(bytes.NewReader(input), int64(2*len(input)))
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSessionAborted)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return on a reader shorter than the declared size")
	}
}

func TestSession_MultiChunkInput(t *testing.T) {
	p := newTestPipeline(t, false)

	// Larger than the input buffer pool can hold at once, so the loop
	// has to cycle buffers across several passes.
	input := hwsim.SynthesizeJPEG(1920, 1080, 400*1024)
	n, err := p.convert(t, input)
	require.NoError(t, err)
	assert.Equal(t, int64(len(input)), n)

	out := p.neg.OutputPool().Buffer(0)
	assert.Equal(t, 640*368*4, out.FilledLen)
}

func TestSession_RepeatedRunsProduceIdenticalOutput(t *testing.T) {
	p := newTestPipeline(t, false)

	input := hwsim.SynthesizeJPEG(1920, 1080, 96*1024)

	_, err := p.convert(t, input)
	require.NoError(t, err)
	out := p.neg.OutputPool().Buffer(0)
	first := append([]byte(nil), out.Data[:out.FilledLen]...)

	_, err = p.convert(t, input)
	require.NoError(t, err)
	second := out.Data[:out.FilledLen]

	assert.True(t, bytes.Equal(first, second),
		"same input through the same pipeline must fill identical bytes")
}

func TestSession_BackPressureUnderDecodeLatency(t *testing.T) {
	sim := hwsim.New(hwsim.WithDecodeLatency(2 * time.Millisecond))
	require.NoError(t, sim.Init())

	timeout := 500 * time.Millisecond
	dec, err := NewStage(sim, hwsim.ComponentImageDecode, timeout)
	require.NoError(t, err)
	rsz, err := NewStage(sim, hwsim.ComponentResize, timeout)
	require.NoError(t, err)

	neg, err := NewNegotiator(dec, rsz, OutputConfig{
		Width:      320,
		Height:     240,
		Color:      omxil.ColorRGB565,
		BufferSize: OutputBufferSize(320, 240, 2),
	}, false)
	require.NoError(t, err)
	require.NoError(t, neg.Setup(InputBufferSize(1920, 1080)))

	t.Cleanup(func() {
		dec.RemoveOutTunnel(rsz)
		dec.Close()
		rsz.Close()
		sim.Deinit()
	})

	// More chunks than input buffers, with each decode taking a while:
	// the session has to sit in its backoff path without losing data.
	input := hwsim.SynthesizeJPEG(1920, 1080, 512*1024)
	sess := NewSession(dec, rsz, neg)
	n, err := sess.Run(bytes.NewReader(input), int64(len(input)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(input)), n)

	// align16 geometry for 320x240 RGB565.
	assert.Equal(t, 320*240*2, neg.OutputPool().Buffer(0).FilledLen)
}
