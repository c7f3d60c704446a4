// Package audio is a small render graph: parameter automation, oscillator
// voices, a sample-counting render clock and a real-time frame pump.
package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// DefaultFadeIn ramps the output up when the soundtrack starts or resumes.
const DefaultFadeIn = 200 * time.Millisecond

// SampleDuration is the length of one sample in seconds of audio time.
const SampleDuration = 1.0 / SampleRate

// Source produces interleaved PCM frames. Render fills dst and reports
// whether anything audible was written.
type Source interface {
	Render(dst []int16) bool
}
