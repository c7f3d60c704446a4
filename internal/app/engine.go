// Package app wires the poll loop, the race model, the audio scheduler and
// the transports into one running race.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/audio"
	"github.com/satindergrewal/nyanrace/internal/config"
	"github.com/satindergrewal/nyanrace/internal/fetch"
	"github.com/satindergrewal/nyanrace/internal/metrics"
	"github.com/satindergrewal/nyanrace/internal/petition"
	"github.com/satindergrewal/nyanrace/internal/poll"
	"github.com/satindergrewal/nyanrace/internal/race"
	"github.com/satindergrewal/nyanrace/internal/scheduler"
	"github.com/satindergrewal/nyanrace/internal/stream"
)

// AudioInitFailed is the toast shown when the soundtrack cannot start.
const AudioInitFailed = "Audio initialization failed - music disabled"

// streamName labels the soundtrack on both transports.
const streamName = "nyanrace"

// Deps are the collaborators a test may replace. Zero values get the
// production implementations.
type Deps struct {
	Clock   clockwork.Clock
	Counter poll.Counter
	Factory scheduler.Factory
	Metrics *metrics.Collector
}

// Engine owns every long-lived piece of the race.
type Engine struct {
	cfg     *config.Config
	clock   clockwork.Clock
	metrics *metrics.Collector
	bounds  race.Bounds
	names   [2]race.Named

	poller   *poll.Engine
	sched    *scheduler.Scheduler
	pipeline *audio.Pipeline
	bcast    *stream.Broadcaster
	hub      *stream.Hub
	mp3      *stream.HTTPHandler
	webrtc   *stream.WebRTCHandler

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu         sync.Mutex
	started    bool
	status     string
	view       race.View
	hasView    bool
	generation uint64
	leader     race.Side
	settle     clockwork.Timer
}

// New builds an engine from cfg. Nothing runs until Start.
func New(cfg *config.Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if deps.Factory == nil {
		deps.Factory = scheduler.DefaultFactory
	}
	if deps.Counter == nil {
		fetcher := fetch.New(
			fetch.WithClock(deps.Clock),
			fetch.WithTimeout(cfg.RequestTimeout),
			fetch.WithBaseDelay(cfg.RetryDelay),
			fetch.WithObserver(deps.Metrics.RecordFetchAttempt),
		)
		deps.Counter = petition.NewClient(cfg.APIBase, fetcher, cfg.RetryAttempts)
	}

	e := &Engine{
		cfg:     cfg,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		bounds:  race.Bounds{Min: cfg.MinPosition, Max: cfg.MaxPosition, Bias: cfg.AdvanceBias},
		names: [2]race.Named{
			{ID: cfg.EntityAID, Name: cfg.EntityAName},
			{ID: cfg.EntityBID, Name: cfg.EntityBName},
		},
	}
	e.life, e.stop = context.WithCancel(context.Background())

	e.poller = poll.New(deps.Counter,
		petition.NewEntity(cfg.EntityAID, cfg.EntityAName),
		petition.NewEntity(cfg.EntityBID, cfg.EntityBName),
		poll.WithClock(deps.Clock),
		poll.WithPeriod(cfg.PollInterval),
		poll.WithObserver(deps.Metrics.RecordCycle),
	)

	e.sched = scheduler.New(deps.Factory,
		scheduler.WithClock(deps.Clock),
		scheduler.WithTick(cfg.LookaheadTick),
		scheduler.WithAhead(cfg.ScheduleAhead),
		scheduler.WithMeasure(cfg.MeasureDuration),
		scheduler.WithVolume(cfg.Volume),
		scheduler.WithDip(cfg.VolumeDip),
		scheduler.WithDuck(cfg.DuckAttack, cfg.DuckRelease),
		scheduler.WithObserver(deps.Metrics.RecordPass),
	)
	e.pipeline = audio.NewPipeline(e.sched, audio.DefaultFadeIn, audio.WithPipelineClock(deps.Clock))

	e.bcast = stream.NewBroadcaster()
	e.bcast.OnListenerChange(deps.Metrics.ListenerDelta)
	e.mp3 = stream.NewHTTPHandler(e.bcast, streamName, stream.DefaultMP3Bitrate)
	e.webrtc = stream.NewWebRTCHandler(e.bcast, streamName, cfg.OpusBitrate)

	e.hub = stream.NewHub(stream.DefaultHubConfig())
	e.hub.OnCommand(e.handleCommand)
	e.hub.OnClientCount(deps.Metrics.SetViewClients)

	return e
}

// Start launches the poll loop, the render pipeline and the transports. The
// engine stops when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	if e.life.Err() != nil {
		return errors.New("engine stopped")
	}
	e.started = true
	context.AfterFunc(ctx, e.stop)

	e.spawn(func(ctx context.Context) { e.hub.Run(ctx) })
	e.spawn(func(ctx context.Context) { e.pipeline.Run(ctx) })
	e.spawn(func(ctx context.Context) { e.bcast.Run(ctx, e.pipeline.Frames()) })
	e.spawn(func(ctx context.Context) { e.poller.Run(ctx, e.handleCycle) })

	a, b := e.poller.Entities()[0], e.poller.Entities()[1]
	log.Info().
		Str("a", a.Name).
		Str("b", b.Name).
		Dur("poll", e.poller.Period()).
		Msg("race started")
	return nil
}

func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.life)
	}()
}

// Stop cancels every loop, closes the audio context and waits for the
// goroutines to exit. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stop()
	e.sched.Close()

	e.mu.Lock()
	if e.settle != nil {
		e.settle.Stop()
	}
	e.mu.Unlock()

	e.wg.Wait()
	log.Info().Msg("race stopped")
}

// Hub serves the view socket.
func (e *Engine) Hub() *stream.Hub { return e.hub }

// MP3 serves the soundtrack over HTTP.
func (e *Engine) MP3() *stream.HTTPHandler { return e.mp3 }

// WebRTC answers soundtrack offers.
func (e *Engine) WebRTC() *stream.WebRTCHandler { return e.webrtc }

// Metrics returns the collector the engine records into.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Scheduler exposes the audio scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// PollOnce runs a single cycle outside the loop and applies it.
func (e *Engine) PollOnce(ctx context.Context) poll.Cycle {
	c := e.poller.PollOnce(ctx)
	e.handleCycle(c)
	return c
}
