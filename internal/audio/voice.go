package audio

import "math"

// Waveform selects an oscillator shape.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
	Triangle
)

// Oscillator is a periodic source with an automatable frequency and a fixed
// output gain.
type Oscillator struct {
	Wave      Waveform
	Frequency *Param
	Gain      float64

	phase float64
}

// NewOscillator creates an oscillator at a constant frequency.
func NewOscillator(wave Waveform, freq, gain float64) *Oscillator {
	return &Oscillator{Wave: wave, Frequency: NewParam(freq), Gain: gain}
}

func (o *Oscillator) next(freq float64) float64 {
	var v float64
	switch o.Wave {
	case Square:
		if o.phase < 0.5 {
			v = 1
		} else {
			v = -1
		}
	case Sawtooth:
		v = 2*o.phase - 1
	case Triangle:
		v = 1 - 4*math.Abs(o.phase-0.5)
	default:
		v = math.Sin(2 * math.Pi * o.phase)
	}
	o.phase += freq * SampleDuration
	o.phase -= math.Floor(o.phase)
	return v * o.Gain
}

// Voice is a short-lived graph: oscillators summed through an optional
// one-pole low-pass, then an envelope gain. It plays from Start to Stop.
type Voice struct {
	Oscillators []*Oscillator
	Cutoff      float64 // low-pass cutoff in Hz, 0 for none
	Envelope    *Param

	start, stop float64
	lp          float64
	alpha       float64
	onEnded     []func()
	released    bool

	freqBuf []float64
	envBuf  []float64
}

// NewVoice creates a voice with a unity envelope that plays over [start, stop).
func NewVoice(start, stop float64, oscs ...*Oscillator) *Voice {
	return &Voice{
		Oscillators: oscs,
		Envelope:    NewParam(1),
		start:       start,
		stop:        stop,
	}
}

// WithLowpass routes the oscillators through a low-pass at cutoff Hz.
func (v *Voice) WithLowpass(cutoff float64) *Voice {
	v.Cutoff = cutoff
	return v
}

// OnEnded registers fn to run once when the voice finishes or its context closes.
func (v *Voice) OnEnded(fn func()) {
	v.onEnded = append(v.onEnded, fn)
}

// Disconnect drops the voice's node references.
func (v *Voice) Disconnect() {
	v.Oscillators = nil
	v.Envelope = nil
}

// Start and Stop bound the voice on the audio timeline.
func (v *Voice) Start() float64 { return v.start }
func (v *Voice) Stop() float64  { return v.stop }

// Nodes counts the graph nodes the voice holds: one per oscillator and its
// gain, the filter when present and the envelope gain.
func (v *Voice) Nodes() int {
	n := 2*len(v.Oscillators) + 1
	if v.Cutoff > 0 {
		n++
	}
	return n
}

// render adds n samples starting at t0 into mix.
func (v *Voice) render(mix []float64, t0 float64) {
	n := len(mix)
	if cap(v.envBuf) < n {
		v.envBuf = make([]float64, n)
		v.freqBuf = make([]float64, n)
	}
	env := v.envBuf[:n]
	freq := v.freqBuf[:n]
	v.Envelope.Fill(env, t0)

	if v.Cutoff > 0 && v.alpha == 0 {
		v.alpha = 1 - math.Exp(-2*math.Pi*v.Cutoff*SampleDuration)
	}

	for i := range mix {
		t := t0 + float64(i)*SampleDuration
		if t < v.start || t >= v.stop {
			continue
		}
		var s float64
		for _, o := range v.Oscillators {
			o.Frequency.Fill(freq[i:i+1], t)
			s += o.next(freq[i])
		}
		if v.Cutoff > 0 {
			v.lp += v.alpha * (s - v.lp)
			s = v.lp
		}
		mix[i] += s * env[i]
	}
}

func (v *Voice) release() {
	if v.released {
		return
	}
	v.released = true
	for _, fn := range v.onEnded {
		fn()
	}
	v.onEnded = nil
}
