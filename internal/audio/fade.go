package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1]: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeFrame scales an interleaved frame in place along a smoothstep curve,
// going from progress from at the first sample to progress to at the last.
func FadeFrame(frame []int16, from, to float64) {
	n := len(frame) / Channels
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		pos := from + (to-from)*float64(i)/float64(n)
		gain := Smoothstep(pos)
		for ch := 0; ch < Channels; ch++ {
			idx := i*Channels + ch
			frame[idx] = int16(float64(frame[idx]) * gain)
		}
	}
}
