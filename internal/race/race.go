// Package race maps two counts onto track positions and a leader.
// Everything here is pure; callers own the side effects.
package race

import "math"

// Bounds are the track limits in percent, plus the forward bias applied to an
// advancing entity for one animation cycle.
type Bounds struct {
	Min  float64
	Max  float64
	Bias float64
}

// DefaultBounds bias the track toward a shared starting region.
var DefaultBounds = Bounds{Min: 50, Max: 80, Bias: 2}

// Side identifies one of the two entities.
type Side int

const (
	SideNone Side = iota
	SideA
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	default:
		return "none"
	}
}

// Standing is one entity's derived position for a cycle.
type Standing struct {
	Percent   float64 // target for this cycle, including any bias
	Baseline  float64 // steady-state percent the marker decays back to
	Advancing bool
	Delta     int64 // count change since the previous cycle; 0 on first observation
}

// State is the derived race for one cycle.
type State struct {
	A      Standing
	B      Standing
	Leader Side
}

// Advancing reports whether either entity moved forward this cycle.
func (s State) Advancing() bool {
	return s.A.Advancing || s.B.Advancing
}

// Share is count's fraction of the combined total, 0.5 when both are zero.
func Share(count, other int64) float64 {
	total := count + other
	if total <= 0 {
		return 0.5
	}
	return float64(count) / float64(total)
}

// Percent is the steady-state track position for count against other.
func Percent(b Bounds, count, other int64) float64 {
	return b.Min + Share(count, other)*(b.Max-b.Min)
}

// LeaderOf is strict: a tie has no leader.
func LeaderOf(a, b int64) Side {
	switch {
	case a > b:
		return SideA
	case b > a:
		return SideB
	default:
		return SideNone
	}
}

// Compute derives the race state from the current and previous counts.
func Compute(b Bounds, countA, countB, prevA, prevB int64) State {
	return State{
		A:      standing(b, countA, countB, prevA),
		B:      standing(b, countB, countA, prevB),
		Leader: LeaderOf(countA, countB),
	}
}

func standing(b Bounds, count, other, prev int64) Standing {
	base := clamp(Percent(b, count, other), b.Min, b.Max)
	s := Standing{Percent: base, Baseline: base}

	if prev > 0 {
		s.Delta = count - prev
	}
	// A first observation (prev == 0) or a decrease never counts as advancing.
	if count > prev && prev > 0 {
		s.Advancing = true
		s.Percent = clamp(base+b.Bias, b.Min, b.Max)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
