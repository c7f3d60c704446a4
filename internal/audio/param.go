package audio

import (
	"math"
	"sort"
	"sync"
)

type rampKind int

const (
	rampNone rampKind = iota // step at the event time
	rampLinear
	rampExponential
)

type automationEvent struct {
	time  float64
	value float64
	ramp  rampKind
}

// Param is an automatable value on the audio timeline. Events are kept in time
// order; a ramp event interpolates from the previous event to itself.
type Param struct {
	mu     sync.Mutex
	value  float64 // value before the first event
	events []automationEvent
}

// NewParam creates a param holding v until automation says otherwise.
func NewParam(v float64) *Param {
	return &Param{value: v}
}

// SetValueAtTime steps to v at time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.insert(automationEvent{time: t, value: v, ramp: rampNone})
}

// LinearRampToValueAtTime ramps linearly from the previous event to v at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.insert(automationEvent{time: t, value: v, ramp: rampLinear})
}

// ExponentialRampToValueAtTime ramps exponentially from the previous event to
// v at t. v must be positive; non-positive targets are raised to a tiny epsilon.
func (p *Param) ExponentialRampToValueAtTime(v, t float64) {
	if v <= 0 {
		v = 1e-4
	}
	p.insert(automationEvent{time: t, value: v, ramp: rampExponential})
}

// CancelScheduledValues drops every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// ValueAt returns the automated value at time t.
func (p *Param) ValueAt(t float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueAt(t)
}

// Fill writes the value for each sample starting at t0 into dst.
func (p *Param) Fill(dst []float64, t0 float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		for i := range dst {
			dst[i] = p.value
		}
		return
	}
	for i := range dst {
		dst[i] = p.valueAt(t0 + float64(i)*SampleDuration)
	}
}

// Prune forgets events that can no longer affect values at or after t.
func (p *Param) Prune(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Keep the last event at or before t: it anchors any ramp still running.
	last := -1
	for i, ev := range p.events {
		if ev.time > t {
			break
		}
		last = i
	}
	if last <= 0 {
		return
	}
	p.value = p.events[last-1].value
	p.events = append(p.events[:0], p.events[last:]...)
}

// Len returns the number of pending automation events.
func (p *Param) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *Param) insert(ev automationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Equal times keep insertion order.
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > ev.time })
	p.events = append(p.events, automationEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}

func (p *Param) valueAt(t float64) float64 {
	prevTime, prevValue := 0.0, p.value
	for _, ev := range p.events {
		if ev.time <= t {
			prevTime, prevValue = ev.time, ev.value
			continue
		}
		span := ev.time - prevTime
		if span <= 0 {
			return prevValue
		}
		frac := (t - prevTime) / span
		switch ev.ramp {
		case rampLinear:
			return prevValue + (ev.value-prevValue)*frac
		case rampExponential:
			if prevValue <= 0 {
				return prevValue
			}
			return prevValue * math.Pow(ev.value/prevValue, frac)
		default:
			return prevValue
		}
	}
	return prevValue
}
