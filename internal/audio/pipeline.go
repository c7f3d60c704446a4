package audio

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Pipeline pulls PCM frames from a Source at real-time rate and publishes
// them. When the source turns audible after silence the first frames are faded in.
type Pipeline struct {
	src        Source
	frameCh    chan []int16
	clock      clockwork.Clock
	fadeFrames int

	mu      sync.RWMutex
	frames  int64
	live    bool
	fadePos int
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineClock sets the clock driving the frame ticker.
func WithPipelineClock(c clockwork.Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = c }
}

// NewPipeline creates a pipeline over src with the given fade-in duration.
func NewPipeline(src Source, fade time.Duration, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		src:        src,
		frameCh:    make(chan []int16, 100),
		clock:      clockwork.NewRealClock(),
		fadeFrames: int(fade / FrameDuration),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.fadePos = p.fadeFrames
	return p
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Status returns how many frames have been produced and whether the source
// was audible on the last one.
func (p *Pipeline) Status() (frames int64, live bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frames, p.live
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := p.clock.NewTicker(FrameDuration)
	defer ticker.Stop()

	log.Info().Int("fade_frames", p.fadeFrames).Msg("audio pipeline started")
	defer log.Info().Msg("audio pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		frame := p.nextFrame()

		select {
		case p.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) nextFrame() []int16 {
	frame := make([]int16, FrameSamples)
	live := p.src.Render(frame)

	p.mu.Lock()
	defer p.mu.Unlock()

	if live && !p.live {
		p.fadePos = 0
	}
	if live && p.fadePos < p.fadeFrames {
		from := float64(p.fadePos) / float64(p.fadeFrames)
		to := float64(p.fadePos+1) / float64(p.fadeFrames)
		FadeFrame(frame, from, to)
		p.fadePos++
	}
	p.live = live
	p.frames++
	return frame
}
