package audio

import (
	"errors"
	"sync"
)

// ErrClosed is returned when starting a voice on a closed context.
var ErrClosed = errors.New("audio context closed")

// State is the lifecycle of a Context.
type State int

const (
	Running State = iota
	Suspended
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context owns the render clock and the live voices. CurrentTime advances only
// as frames are rendered, so it is the timeline every schedule is measured on.
type Context struct {
	mu      sync.Mutex
	state   State
	samples int64
	master  *Param
	voices  []*Voice
	nodes   int

	mix  []float64
	gain []float64
}

// NewContext creates a running context at time zero with unity master gain.
func NewContext() *Context {
	return &Context{master: NewParam(1)}
}

// CurrentTime is the audio time in seconds of the next sample to be rendered.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.samples) * SampleDuration
}

// State returns the lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Master is the output gain applied after mixing.
func (c *Context) Master() *Param {
	return c.master
}

// Suspend freezes the clock. Rendering produces silence until Resume.
func (c *Context) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		c.state = Suspended
	}
}

// Resume restarts a suspended clock. It has no effect once closed.
func (c *Context) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Suspended {
		c.state = Running
	}
}

// Close stops the context for good and releases every live voice.
func (c *Context) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	voices := c.voices
	c.voices = nil
	c.nodes = 0
	c.mu.Unlock()

	for _, v := range voices {
		v.release()
	}
}

// Start connects a voice. It is released after its stop time has been rendered.
func (c *Context) Start(v *Voice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	c.voices = append(c.voices, v)
	c.nodes += v.Nodes()
	return nil
}

// Nodes returns the number of graph nodes held by live voices.
func (c *Context) Nodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes
}

// ActiveVoices returns the number of live voices.
func (c *Context) ActiveVoices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices)
}

// Render mixes one block of interleaved PCM into dst and advances the clock.
// It reports whether any voice was live during the block.
func (c *Context) Render(dst []int16) bool {
	c.mu.Lock()

	if c.state != Running {
		c.mu.Unlock()
		clear(dst)
		return false
	}

	n := len(dst) / Channels
	if cap(c.mix) < n {
		c.mix = make([]float64, n)
		c.gain = make([]float64, n)
	}
	mix := c.mix[:n]
	gain := c.gain[:n]
	clear(mix)

	t0 := float64(c.samples) * SampleDuration
	for _, v := range c.voices {
		v.render(mix, t0)
	}
	c.master.Fill(gain, t0)
	for i, s := range mix {
		out := toInt16(s * gain[i])
		for ch := 0; ch < Channels; ch++ {
			dst[i*Channels+ch] = out
		}
	}

	live := len(c.voices) > 0
	c.samples += int64(n)
	now := float64(c.samples) * SampleDuration
	c.master.Prune(now)

	var ended []*Voice
	kept := c.voices[:0]
	for _, v := range c.voices {
		if v.stop <= now {
			ended = append(ended, v)
			c.nodes -= v.Nodes()
			continue
		}
		kept = append(kept, v)
	}
	clear(c.voices[len(kept):])
	c.voices = kept
	c.mu.Unlock()

	for _, v := range ended {
		v.release()
	}
	return live
}
