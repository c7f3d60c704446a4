// Package synth realizes sequencer events as voices on an audio context.
// Each routine builds a small oscillator graph with its own envelope, starts
// it at an absolute audio time and lets the context release it when done.
package synth

import (
	"fmt"
	"math/rand/v2"

	"github.com/satindergrewal/nyanrace/internal/audio"
	"github.com/satindergrewal/nyanrace/internal/sequencer"
)

const (
	toneCutoff  = 2000.0
	toneTail    = 0.3 // envelope tail past the note duration
	toneRelease = 0.5 // stop time past the note duration

	clickLength = 0.05

	bellSpacing = 0.1
	bellLength  = 0.8
	bellGain    = 0.15

	effectLength = 0.2
	effectGain   = 0.5
)

// BellFrequency is the root of the chime arpeggio.
const BellFrequency = 740.0

var bellRatios = [...]float64{1, 1.26, 1.5}

// Tone plays a piano-like note: the fundamental plus a soft octave and a
// slightly detuned unison, low-passed, under a strike-and-decay envelope.
// A zero frequency is a rest and builds nothing.
func Tone(ctx *audio.Context, t, freq, dur, vol float64) error {
	if freq <= 0 || vol <= 0 {
		return nil
	}
	v := audio.NewVoice(t, t+dur+toneRelease,
		audio.NewOscillator(audio.Sine, freq, 1),
		audio.NewOscillator(audio.Sine, freq*2, 0.15),
		audio.NewOscillator(audio.Sine, freq*1.002, 0.1),
	).WithLowpass(toneCutoff)

	env := v.Envelope
	env.SetValueAtTime(0, t)
	env.LinearRampToValueAtTime(vol*0.8, t+0.01)
	env.ExponentialRampToValueAtTime(vol*0.5, t+0.2)
	env.ExponentialRampToValueAtTime(vol*0.3, t+dur*0.7)
	env.ExponentialRampToValueAtTime(0.001, t+dur+toneTail)

	return start(ctx, v)
}

// Click plays a short square-wave tick at a randomized pitch.
func Click(ctx *audio.Context, t, vol float64, rng *rand.Rand) error {
	if vol <= 0 {
		return nil
	}
	freq := 200 + rng.Float64()*100
	v := audio.NewVoice(t, t+clickLength, audio.NewOscillator(audio.Square, freq, 1))
	v.Envelope.SetValueAtTime(vol, t)
	v.Envelope.ExponentialRampToValueAtTime(0.001, t+clickLength)
	return start(ctx, v)
}

// Bell plays a rising three-note arpeggio on freq, each partial with a
// quieter overtone at twice its pitch.
func Bell(ctx *audio.Context, t, freq, vol float64) error {
	if freq <= 0 || vol <= 0 {
		return nil
	}
	for i, ratio := range bellRatios {
		at := t + float64(i)*bellSpacing
		f := freq * ratio
		v := audio.NewVoice(at, at+bellLength,
			audio.NewOscillator(audio.Sine, f, 1),
			audio.NewOscillator(audio.Sine, f*2, 0.3),
		)
		v.Envelope.SetValueAtTime(0, at)
		v.Envelope.LinearRampToValueAtTime(vol*bellGain, at+0.01)
		v.Envelope.ExponentialRampToValueAtTime(0.001, at+bellLength)
		if err := start(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Effect plays a quick up-then-down pitch sweep.
func Effect(ctx *audio.Context, t, vol float64) error {
	if vol <= 0 {
		return nil
	}
	osc := audio.NewOscillator(audio.Sine, 800, 1)
	osc.Frequency.SetValueAtTime(800, t)
	osc.Frequency.ExponentialRampToValueAtTime(1200, t+0.1)
	osc.Frequency.ExponentialRampToValueAtTime(600, t+effectLength)

	v := audio.NewVoice(t, t+effectLength, osc)
	v.Envelope.SetValueAtTime(0, t)
	v.Envelope.LinearRampToValueAtTime(vol*effectGain, t+0.05)
	v.Envelope.ExponentialRampToValueAtTime(0.001, t+effectLength)
	return start(ctx, v)
}

// Play realizes one event with the voice its kind names.
func Play(ctx *audio.Context, ev sequencer.Event, rng *rand.Rand) error {
	switch ev.Kind {
	case sequencer.Tone:
		return Tone(ctx, ev.Time, ev.Frequency, ev.Duration, ev.Volume)
	case sequencer.Click:
		return Click(ctx, ev.Time, ev.Volume, rng)
	case sequencer.Bell:
		freq := ev.Frequency
		if freq == 0 {
			freq = BellFrequency
		}
		return Bell(ctx, ev.Time, freq, ev.Volume)
	case sequencer.Effect:
		return Effect(ctx, ev.Time, ev.Volume)
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func start(ctx *audio.Context, v *audio.Voice) error {
	v.OnEnded(v.Disconnect)
	if err := ctx.Start(v); err != nil {
		return fmt.Errorf("start voice at %.3f: %w", v.Start(), err)
	}
	return nil
}
