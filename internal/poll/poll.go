// Package poll runs the periodic two-entity count poll with failure suppression.
package poll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/petition"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPeriod = 15 * time.Second

	StatusFailed = "Update failed - retrying..."
)

// Kind classifies one entity's result for a cycle.
type Kind int

const (
	Success Kind = iota
	Suppressed
	Failed
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Suppressed:
		return "suppressed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is one entity's result. On Suppressed and Failed, Count holds the
// last known count when Cached is true.
type Outcome struct {
	Kind   Kind
	Count  int64
	Cached bool
	Err    error
	At     time.Time // when the fetch settled, after any retries; zero when suppressed
}

// Usable reports whether the outcome carries a count the race can be drawn with.
func (o Outcome) Usable() bool {
	return o.Kind == Success || o.Cached
}

// Cycle is the joined result of one poll.
type Cycle struct {
	ID       string
	At       time.Time // cycle start
	Done     time.Time // both fetches settled
	Entities [2]*petition.Entity // read-only after the commit
	Outcomes [2]Outcome
	Counts   [2]int64 // counts to draw with, valid when Updated
	Previous [2]int64 // last known counts before this cycle
	Updated  bool
	Notice   string // user-facing toast, set only when both fetches failed
	Status   string
}

// Counter fetches one petition count.
type Counter interface {
	Count(ctx context.Context, id string) (int64, error)
}

// Observer receives every completed cycle, e.g. for metrics.
type Observer func(Cycle)

// Engine polls two entities. Entities are mutated only in PollOnce's commit step.
type Engine struct {
	counter  Counter
	entities [2]*petition.Entity
	clock    clockwork.Clock
	period   time.Duration
	observe  Observer

	trigger chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for suppression windows and the poll ticker.
func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithPeriod sets the poll period. The suppression window is twice this.
func WithPeriod(d time.Duration) Option { return func(e *Engine) { e.period = d } }

// WithObserver registers a cycle observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observe = o } }

// New creates a poll engine for the pair a, b.
func New(counter Counter, a, b *petition.Entity, opts ...Option) *Engine {
	e := &Engine{
		counter:  counter,
		entities: [2]*petition.Entity{a, b},
		clock:    clockwork.NewRealClock(),
		period:   DefaultPeriod,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Entities returns the tracked pair.
func (e *Engine) Entities() [2]*petition.Entity {
	return e.entities
}

// Period returns the poll period.
func (e *Engine) Period() time.Duration {
	return e.period
}

// Trigger requests an immediate poll from Run. Extra triggers coalesce.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run polls immediately, then every period and on Trigger. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sink func(Cycle)) {
	ticker := e.clock.NewTicker(e.period)
	defer ticker.Stop()

	log.Info().Dur("period", e.period).Msg("poll loop started")
	defer log.Info().Msg("poll loop stopped")

	for {
		sink(e.PollOnce(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-e.trigger:
		}
	}
}

// PollOnce fetches both entities concurrently, waits for both to settle and
// then commits the results in one step.
func (e *Engine) PollOnce(ctx context.Context) Cycle {
	now := e.clock.Now()
	cycle := Cycle{
		ID:       uuid.NewString()[:8],
		At:       now,
		Entities: e.entities,
	}

	// Snapshot before the fetches so the goroutines never touch shared state.
	var snaps [2]petition.Entity
	for i, ent := range e.entities {
		snaps[i] = *ent
		cycle.Previous[i] = ent.LastKnownCount
	}

	var g errgroup.Group
	for i := range snaps {
		g.Go(func() error {
			cycle.Outcomes[i] = e.fetchOne(ctx, now, snaps[i])
			return nil
		})
	}
	g.Wait()
	cycle.Done = e.clock.Now()

	e.commit(&cycle)

	if e.observe != nil {
		e.observe(cycle)
	}
	return cycle
}

func (e *Engine) fetchOne(ctx context.Context, now time.Time, ent petition.Entity) Outcome {
	if !ent.LastFailure.IsZero() && now.Sub(ent.LastFailure) < 2*e.period {
		log.Debug().
			Str("entity", ent.Name).
			Time("last_failure", ent.LastFailure).
			Msg("skipping fetch inside suppression window")
		return Outcome{Kind: Suppressed, Count: ent.LastKnownCount, Cached: ent.HasCount}
	}

	count, err := e.counter.Count(ctx, ent.ID)
	if err != nil {
		log.Error().Err(err).Str("entity", ent.Name).Str("id", ent.ID).Msg("count fetch failed")
		return Outcome{Kind: Failed, Count: ent.LastKnownCount, Cached: ent.HasCount, Err: err, At: e.clock.Now()}
	}
	return Outcome{Kind: Success, Count: count, At: e.clock.Now()}
}

func (e *Engine) commit(c *Cycle) {
	anySuccess := false
	for i, ent := range e.entities {
		out := c.Outcomes[i]
		switch out.Kind {
		case Success:
			ent.LastKnownCount = out.Count
			ent.HasCount = true
			ent.LastFailure = time.Time{}
			anySuccess = true
		case Failed:
			ent.LastFailure = out.At
		}
		c.Counts[i] = out.Count
	}

	c.Updated = anySuccess && c.Outcomes[0].Usable() && c.Outcomes[1].Usable()

	if c.Outcomes[0].Kind == Failed && c.Outcomes[1].Kind == Failed {
		c.Notice = failureNotice(e.entities, c.Outcomes)
	}

	if c.Updated {
		c.Status = "Last updated: " + c.Done.Format("15:04:05")
	} else {
		c.Status = StatusFailed
	}

	log.Debug().
		Str("cycle", c.ID).
		Str("a", c.Outcomes[0].Kind.String()).
		Str("b", c.Outcomes[1].Kind.String()).
		Bool("updated", c.Updated).
		Msg("poll cycle committed")
}

func failureNotice(ents [2]*petition.Entity, outs [2]Outcome) string {
	names := make([]string, 0, 2)
	for _, ent := range ents {
		names = append(names, ent.Name)
	}
	msg := fmt.Sprintf("Failed to fetch %s data", strings.Join(names, " and "))
	if outs[0].Err != nil {
		msg += ": " + outs[0].Err.Error()
	}
	return msg
}
