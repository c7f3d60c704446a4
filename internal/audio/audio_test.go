package audio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	assert.Equal(t, FrameSize, SampleRate*int(FrameDuration/time.Millisecond)/1000)
	assert.Equal(t, FrameSize*Channels, FrameSamples)
	assert.Equal(t, FrameSamples*2, FrameBytes)
}

// --- Smoothstep / fades ---

func TestSmoothstepBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Smoothstep(tt.input), "Smoothstep(%v)", tt.input)
	}
}

func TestSmoothstepMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 100; i++ {
		val := Smoothstep(float64(i) / 100.0)
		assert.GreaterOrEqual(t, val, prev)
		prev = val
	}
}

func TestFadeFrame(t *testing.T) {
	full := func() []int16 {
		f := make([]int16, FrameSamples)
		for i := range f {
			f[i] = 10000
		}
		return f
	}

	unchanged := full()
	FadeFrame(unchanged, 1, 1)
	assert.Equal(t, full(), unchanged)

	silent := full()
	FadeFrame(silent, 0, 0)
	assert.Equal(t, make([]int16, FrameSamples), silent)

	rising := full()
	FadeFrame(rising, 0, 1)
	assert.Equal(t, int16(0), rising[0])
	assert.Equal(t, rising[0], rising[1], "channels share a gain")
	for i := Channels; i < len(rising); i += Channels {
		assert.GreaterOrEqual(t, rising[i], rising[i-Channels])
	}
}

// --- SamplesToBytes ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	require.Len(t, buf, len(samples)*2)

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	assert.Equal(t, []byte{0x00, 0x01}, buf[10:12])
	// -1 -> 0xffff
	assert.Equal(t, []byte{0xff, 0xff}, buf[4:6])
}

// --- Param ---

func TestParamSetValueAtTime(t *testing.T) {
	p := NewParam(1)
	p.SetValueAtTime(0, 2)

	assert.Equal(t, 1.0, p.ValueAt(1.999))
	assert.Equal(t, 0.0, p.ValueAt(2))
	assert.Equal(t, 0.0, p.ValueAt(10))
}

func TestParamLinearRamp(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 1)
	p.LinearRampToValueAtTime(0.8, 1.01)

	assert.InDelta(t, 0.4, p.ValueAt(1.005), 1e-9)
	assert.InDelta(t, 0.8, p.ValueAt(1.01), 1e-9)
	assert.InDelta(t, 0.8, p.ValueAt(5), 1e-9)
}

func TestParamExponentialRamp(t *testing.T) {
	p := NewParam(1)
	p.SetValueAtTime(1, 0)
	p.ExponentialRampToValueAtTime(0.25, 1)

	assert.InDelta(t, 0.5, p.ValueAt(0.5), 1e-9, "geometric midpoint")
	assert.InDelta(t, 0.25, p.ValueAt(1), 1e-9)

	// Target zero is raised to a small positive floor.
	p.ExponentialRampToValueAtTime(0, 2)
	assert.Greater(t, p.ValueAt(2), 0.0)
}

func TestParamCancelScheduledValues(t *testing.T) {
	p := NewParam(1)
	p.SetValueAtTime(1, 0)
	p.ExponentialRampToValueAtTime(0.25, 1)
	p.ExponentialRampToValueAtTime(1, 2)

	p.CancelScheduledValues(0.5)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 1.0, p.ValueAt(3))
}

func TestParamPruneKeepsValues(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 1)
	p.LinearRampToValueAtTime(0, 2)

	before := p.ValueAt(1.5)
	p.Prune(1.2)
	assert.Equal(t, 2, p.Len())
	assert.InDelta(t, before, p.ValueAt(1.5), 1e-9)
}

// --- Context ---

func TestContextClockAdvancesPerFrame(t *testing.T) {
	c := NewContext()
	assert.Equal(t, 0.0, c.CurrentTime())

	frame := make([]int16, FrameSamples)
	c.Render(frame)
	assert.InDelta(t, 0.02, c.CurrentTime(), 1e-12)

	for i := 0; i < 49; i++ {
		c.Render(frame)
	}
	assert.InDelta(t, 1.0, c.CurrentTime(), 1e-9)
}

func TestContextSuspendFreezesClock(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Start(NewVoice(0, 1, NewOscillator(Sine, 440, 1))))

	frame := make([]int16, FrameSamples)
	c.Render(frame)
	before := c.CurrentTime()

	c.Suspend()
	assert.Equal(t, Suspended, c.State())
	live := c.Render(frame)
	assert.False(t, live)
	assert.Equal(t, make([]int16, FrameSamples), frame)
	assert.Equal(t, before, c.CurrentTime())

	c.Resume()
	assert.Equal(t, Running, c.State())
	c.Render(frame)
	assert.Greater(t, c.CurrentTime(), before)
}

func TestContextRendersVoice(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Start(NewVoice(0, 1, NewOscillator(Sine, 440, 0.5))))

	frame := make([]int16, FrameSamples)
	assert.True(t, c.Render(frame))

	var peak int16
	for _, s := range frame {
		if s > peak {
			peak = s
		}
	}
	assert.InDelta(t, 0.5*32767, float64(peak), 200)

	c.Master().SetValueAtTime(0, c.CurrentTime())
	c.Render(frame)
	assert.Equal(t, make([]int16, FrameSamples), frame, "muted master")
}

func TestContextReleasesEndedVoices(t *testing.T) {
	c := NewContext()
	ended := 0
	v := NewVoice(0, 0.05, NewOscillator(Sine, 440, 1), NewOscillator(Sine, 880, 0.15)).WithLowpass(2000)
	v.OnEnded(func() { ended++ })
	v.OnEnded(v.Disconnect)
	require.NoError(t, c.Start(v))

	assert.Equal(t, 6, c.Nodes())
	assert.Equal(t, 1, c.ActiveVoices())

	frame := make([]int16, FrameSamples)
	c.Render(frame) // 0.02
	c.Render(frame) // 0.04
	assert.Equal(t, 0, ended)
	c.Render(frame) // 0.06, past stop

	assert.Equal(t, 1, ended)
	assert.Equal(t, 0, c.Nodes())
	assert.Equal(t, 0, c.ActiveVoices())
	assert.Nil(t, v.Oscillators)

	c.Render(frame)
	assert.Equal(t, 1, ended, "released once")
}

func TestContextCloseReleasesAndIsTerminal(t *testing.T) {
	c := NewContext()
	ended := 0
	for i := 0; i < 3; i++ {
		v := NewVoice(1, 2, NewOscillator(Square, 220, 1))
		v.OnEnded(func() { ended++ })
		require.NoError(t, c.Start(v))
	}

	c.Close()
	c.Close()

	assert.Equal(t, 3, ended)
	assert.Equal(t, 0, c.Nodes())
	assert.Equal(t, Closed, c.State())
	assert.ErrorIs(t, c.Start(NewVoice(0, 1)), ErrClosed)

	c.Resume()
	assert.Equal(t, Closed, c.State(), "resume cannot reopen")
}

func TestOscillatorShapes(t *testing.T) {
	for _, wave := range []Waveform{Sine, Square, Sawtooth, Triangle} {
		o := NewOscillator(wave, 1000, 1)
		for i := 0; i < 480; i++ {
			v := o.next(1000)
			assert.False(t, math.IsNaN(v))
			assert.LessOrEqual(t, math.Abs(v), 1.0)
		}
	}
}

// --- Pipeline ---

type constSource struct {
	value int16
	live  bool
}

func (s *constSource) Render(dst []int16) bool {
	if !s.live {
		clear(dst)
		return false
	}
	for i := range dst {
		dst[i] = s.value
	}
	return true
}

func TestPipelineFadesInAfterSilence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &constSource{value: 20000}
	p := NewPipeline(src, 100*time.Millisecond, WithPipelineClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	next := func() []int16 {
		t.Helper()
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(FrameDuration)
		select {
		case f := <-p.Frames():
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("no frame")
			return nil
		}
	}

	silent := next()
	assert.Equal(t, make([]int16, FrameSamples), silent)

	src.live = true
	first := next()
	assert.Equal(t, int16(0), first[0], "fade starts from silence")
	assert.Less(t, first[len(first)-1], int16(20000))

	for i := 0; i < 4; i++ {
		next()
	}
	steady := next()
	assert.Equal(t, int16(20000), steady[0])

	frames, live := p.Status()
	assert.Equal(t, int64(7), frames)
	assert.True(t, live)
}

func TestPipelineClosesFramesOnCancel(t *testing.T) {
	p := NewPipeline(&constSource{}, 0, WithPipelineClock(clockwork.NewFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	_, ok := <-p.Frames()
	assert.False(t, ok)
}
