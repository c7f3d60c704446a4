package app

import (
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/poll"
	"github.com/satindergrewal/nyanrace/internal/race"
	"github.com/satindergrewal/nyanrace/internal/scheduler"
	"github.com/satindergrewal/nyanrace/internal/stream"
)

// Snapshot is the current race as served on /api/state.
type Snapshot struct {
	View        *race.View `json:"view,omitempty"`
	Status      string     `json:"status"`
	Audio       string     `json:"audio"`
	Muted       bool       `json:"muted"`
	Listeners   int        `json:"listeners"`
	Peers       int        `json:"webrtc_peers"`
	ViewClients int        `json:"view_clients"`
}

// Snapshot returns the latest view and the audio state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	s := Snapshot{Status: e.status}
	if e.hasView {
		v := e.view
		s.View = &v
	}
	e.mu.Unlock()

	s.Audio = e.sched.State().String()
	s.Muted = e.sched.Muted()
	s.Listeners = e.bcast.ListenerCount()
	s.Peers = e.webrtc.PeerCount()
	s.ViewClients = e.hub.ClientCount()
	return s
}

// handleCycle is the poll sink: it turns a committed cycle into views, toasts
// and audio cues.
func (e *Engine) handleCycle(c poll.Cycle) {
	if c.Notice != "" {
		e.toast(c.Notice)
	}

	if !c.Updated {
		e.mu.Lock()
		e.status = c.Status
		v, ok := e.view, e.hasView
		if ok {
			v.Status = c.Status
			e.view = v
		}
		e.mu.Unlock()
		if ok {
			e.hub.PublishView(v)
		}
		return
	}

	st := race.Compute(e.bounds, c.Counts[0], c.Counts[1], c.Previous[0], c.Previous[1])
	v := race.BuildView(e.names, c.Counts, st, c.Status, e.cfg.AnimationDuration, c.Done)

	e.mu.Lock()
	e.status = c.Status
	e.view = v
	e.hasView = true
	e.generation++
	gen := e.generation
	changed := st.Leader != race.SideNone && e.leader != race.SideNone && st.Leader != e.leader
	if st.Leader != race.SideNone {
		e.leader = st.Leader
	}
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}
	if st.Advancing() {
		e.settle = e.clock.AfterFunc(e.cfg.AnimationDuration, func() { e.settleView(gen) })
	}
	e.mu.Unlock()

	e.hub.PublishView(v)
	e.metrics.RecordView(v)

	if st.Advancing() {
		e.sched.Duck()
	}
	if changed {
		e.metrics.RecordLeaderChange()
		e.sched.Chime()
		log.Info().Str("leader", v.Entities[st.Leader-1].Name).Msg("lead changed")
	}

	log.Debug().
		Str("cycle", c.ID).
		Int64("a", c.Counts[0]).
		Int64("b", c.Counts[1]).
		Str("leader", st.Leader.String()).
		Bool("advancing", st.Advancing()).
		Msg("race view published")
}

// settleView pushes the resting positions once the advance animation is over,
// unless a newer cycle replaced the view in the meantime.
func (e *Engine) settleView(gen uint64) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	v := race.Settle(e.view)
	e.view = v
	e.settle = nil
	e.mu.Unlock()

	e.hub.PublishView(v)
}

func (e *Engine) toast(msg string) {
	e.hub.PublishToast(msg, e.cfg.ToastDuration)
	e.metrics.RecordToast()
}

// Gesture is the user's click: the first one starts the soundtrack, later ones
// toggle mute.
func (e *Engine) Gesture() error {
	if e.sched.State() != scheduler.Uninitialized {
		e.ToggleMute()
		return nil
	}
	if err := e.sched.Init(e.life); err != nil {
		log.Error().Err(err).Msg("audio init failed")
		e.toast(AudioInitFailed)
		return err
	}
	return nil
}

// ToggleMute flips the mute flag and reports the new value. Before the audio
// has started there is nothing to mute and ok is false.
func (e *Engine) ToggleMute() (muted, ok bool) {
	switch e.sched.State() {
	case scheduler.Uninitialized, scheduler.Closed:
		return e.sched.Muted(), false
	}
	muted = !e.sched.Muted()
	e.sched.SetMuted(muted)
	log.Debug().Bool("muted", muted).Msg("mute toggled")
	return muted, true
}

// SetVisible follows page visibility: hidden suspends the audio clock, visible
// resumes it and polls straight away.
func (e *Engine) SetVisible(visible bool) {
	if !visible {
		e.sched.Suspend()
		return
	}
	e.sched.Resume()
	e.poller.Trigger()
}

func (e *Engine) handleCommand(cmd stream.Command) {
	switch cmd.Type {
	case "gesture":
		e.Gesture()
	case "mute":
		e.ToggleMute()
	case "visibility":
		if cmd.Visible != nil {
			e.SetVisible(*cmd.Visible)
		}
	default:
		log.Debug().Str("type", cmd.Type).Msg("unknown view command")
	}
}
