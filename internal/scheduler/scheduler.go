// Package scheduler keeps the soundtrack queued ahead of the audio clock.
//
// A coarse ticker wakes the scheduler every few milliseconds. Each pass asks
// the sequencer for whole measures, stamped with absolute audio times, until
// the cursor is one look-ahead window past the clock. Tick jitter never
// reaches the output because playback timing comes from the stamps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/audio"
	"github.com/satindergrewal/nyanrace/internal/sequencer"
	"github.com/satindergrewal/nyanrace/internal/synth"
)

const (
	DefaultTick        = 25 * time.Millisecond
	DefaultAhead       = 100 * time.Millisecond
	DefaultVolume      = 0.1
	DefaultDip         = 0.25
	DefaultDuckAttack  = 100 * time.Millisecond
	DefaultDuckRelease = time.Second
)

// ErrClosed is returned by Init after Close.
var ErrClosed = errors.New("scheduler closed")

// State is the audio lifecycle.
type State int

const (
	Uninitialized State = iota
	Running
	Suspended
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
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

// InitError reports that the audio context could not be created.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("audio initialization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Factory creates the audio context on first use.
type Factory func() (*audio.Context, error)

// DefaultFactory creates an in-process render context.
func DefaultFactory() (*audio.Context, error) {
	return audio.NewContext(), nil
}

// Pass summarizes one look-ahead pass that queued at least one measure.
type Pass struct {
	Measures int
	Cursor   float64
	Voices   int
}

// Scheduler owns the audio context, the sequencer and the cursor.
type Scheduler struct {
	factory Factory
	clock   clockwork.Clock
	tick    time.Duration
	ahead   float64
	measure float64
	volume  float64
	dip     float64
	attack  float64
	release float64
	observe func(Pass)
	rng     *rand.Rand

	mu    sync.Mutex
	state State
	ac    *audio.Context
	seq   *sequencer.Sequencer
	next  float64
	muted bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock driving the look-ahead ticker.
func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithTick sets how often the look-ahead loop wakes up.
func WithTick(d time.Duration) Option { return func(s *Scheduler) { s.tick = d } }

// WithAhead sets how far past the audio clock measures are queued.
func WithAhead(d time.Duration) Option { return func(s *Scheduler) { s.ahead = d.Seconds() } }

// WithMeasure sets the length of one measure.
func WithMeasure(d time.Duration) Option { return func(s *Scheduler) { s.measure = d.Seconds() } }

// WithVolume sets the base volume handed to the sequencer.
func WithVolume(v float64) Option { return func(s *Scheduler) { s.volume = v } }

// WithDip sets the master gain floor reached while ducking.
func WithDip(v float64) Option { return func(s *Scheduler) { s.dip = v } }

// WithObserver registers fn to hear every pass that queued at least one measure.
func WithObserver(fn func(Pass)) Option { return func(s *Scheduler) { s.observe = fn } }

// WithRand sets the source used for click pitch variation.
func WithRand(r *rand.Rand) Option { return func(s *Scheduler) { s.rng = r } }

// WithDuck sets how long the dip takes to reach its floor and to recover.
func WithDuck(attack, release time.Duration) Option {
	return func(s *Scheduler) {
		s.attack = attack.Seconds()
		s.release = release.Seconds()
	}
}

// New creates an uninitialized scheduler. Nothing is built until Init.
func New(factory Factory, opts ...Option) *Scheduler {
	if factory == nil {
		factory = DefaultFactory
	}
	s := &Scheduler{
		factory: factory,
		clock:   clockwork.NewRealClock(),
		tick:    DefaultTick,
		ahead:   DefaultAhead.Seconds(),
		measure: sequencer.Measure,
		volume:  DefaultVolume,
		dip:     DefaultDip,
		attack:  DefaultDuckAttack.Seconds(),
		release: DefaultDuckRelease.Seconds(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init builds the audio context and starts the look-ahead loop. Calling it
// again while running or suspended does nothing.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running, Suspended:
		return nil
	case Closed:
		return ErrClosed
	}

	ac, err := s.factory()
	if err != nil {
		return &InitError{Err: err}
	}
	if ac == nil {
		return &InitError{Err: errors.New("factory returned no context")}
	}

	s.ac = ac
	s.seq = sequencer.New(s.volume)
	s.next = ac.CurrentTime()
	s.state = Running
	if s.muted {
		ac.Master().SetValueAtTime(0, s.next)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	log.Info().
		Dur("tick", s.tick).
		Float64("ahead", s.ahead).
		Float64("measure", s.measure).
		Msg("audio scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.schedule()

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// schedule queues measures until the cursor is a full window past the clock.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}

	horizon := s.ac.CurrentTime() + s.ahead
	measures := 0
	for s.next < horizon {
		for _, ev := range s.seq.Next(s.next) {
			if err := synth.Play(s.ac, ev, s.rng); err != nil {
				log.Warn().Err(err).Str("kind", ev.Kind.String()).Msg("dropping event")
			}
		}
		s.next += s.measure
		measures++
	}
	pass := Pass{Measures: measures, Cursor: s.next, Voices: s.ac.ActiveVoices()}
	s.mu.Unlock()

	if measures > 0 {
		log.Debug().
			Int("measures", pass.Measures).
			Float64("cursor", pass.Cursor).
			Int("voices", pass.Voices).
			Msg("scheduled ahead")
		if s.observe != nil {
			s.observe(pass)
		}
	}
}

// NextEventTime returns the cursor: the audio time of the next unscheduled measure.
func (s *Scheduler) NextEventTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Context returns the audio context, nil before Init.
func (s *Scheduler) Context() *audio.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ac
}

// Suspend pauses the audio clock, e.g. while nobody is watching.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return
	}
	s.ac.Suspend()
	s.state = Suspended
	log.Debug().Msg("audio suspended")
}

// Resume restarts a suspended clock.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Suspended {
		return
	}
	s.ac.Resume()
	s.state = Running
	log.Debug().Msg("audio resumed")
}

// Close stops the loop and the audio context. It is safe to call in any
// state, more than once, and cannot be undone.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	cancel, done, ac := s.cancel, s.done, s.ac
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if ac != nil {
		ac.Close()
	}
	log.Info().Msg("audio scheduler closed")
}

// Duck dips the output and brings it back, using exponential ramps so the
// change has no audible edge. It reports whether a dip was scheduled.
func (s *Scheduler) Duck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.muted {
		return false
	}

	now := s.ac.CurrentTime()
	gain := s.ac.Master()
	current := gain.ValueAt(now)
	gain.CancelScheduledValues(now)
	gain.SetValueAtTime(current, now)
	gain.ExponentialRampToValueAtTime(s.dip, now+s.attack)
	gain.ExponentialRampToValueAtTime(1, now+s.attack+s.release)
	return true
}

// SetMuted silences or restores the output at the current audio time.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if s.ac == nil || s.state == Closed {
		return
	}
	level := 1.0
	if muted {
		level = 0
	}
	now := s.ac.CurrentTime()
	gain := s.ac.Master()
	gain.CancelScheduledValues(now)
	gain.SetValueAtTime(level, now)
}

// Muted reports the mute flag.
func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Chime queues a bell arpeggio one look-ahead window from now.
func (s *Scheduler) Chime() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.muted {
		return false
	}
	at := s.ac.CurrentTime() + s.ahead
	if err := synth.Bell(s.ac, at, synth.BellFrequency, s.volume); err != nil {
		log.Warn().Err(err).Msg("chime failed")
		return false
	}
	return true
}

// Render fills dst from the audio context, or with silence before Init and after Close.
func (s *Scheduler) Render(dst []int16) bool {
	s.mu.Lock()
	ac := s.ac
	s.mu.Unlock()

	if ac == nil {
		clear(dst)
		return false
	}
	return ac.Render(dst)
}
