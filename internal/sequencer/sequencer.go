// Package sequencer turns a measure counter into timed note events from a
// fixed 16-measure arrangement.
package sequencer

import "sort"

// Measure is the length of one pattern in seconds of audio time.
const Measure = 2.0

// Cycle is the number of measures before the arrangement repeats.
const Cycle = 16

// EffectOffset is where the effect lands inside the last measure of a cycle.
const EffectOffset = 0.7

// Note is one melodic step relative to the start of its measure. A zero
// Frequency is a rest.
type Note struct {
	Frequency float64
	Time      float64
	Duration  float64
}

// Pattern is a named melodic phrase.
type Pattern struct {
	Name  string
	Notes []Note
}

// Hit is one rhythm click.
type Hit struct {
	Time   float64
	Volume float64
}

var (
	Main = Pattern{Name: "main", Notes: []Note{
		{523, 0.0, 0.3}, {659, 0.3, 0.15}, {784, 0.45, 0.15}, {1047, 0.6, 0.4},
		{784, 1.0, 0.2}, {659, 1.2, 0.2}, {523, 1.4, 0.2},
	}}
	Variation = Pattern{Name: "variation", Notes: []Note{
		{784, 0.0, 0.3}, {784, 0.3, 0.3}, {880, 0.6, 0.3}, {784, 0.9, 0.2},
		{698, 1.1, 0.2}, {659, 1.3, 0.3},
	}}
	Bridge = Pattern{Name: "bridge", Notes: []Note{
		{1047, 0.0, 0.2}, {1175, 0.2, 0.2}, {1319, 0.4, 0.4}, {1175, 0.8, 0.2},
		{1047, 1.0, 0.2}, {880, 1.2, 0.2}, {784, 1.4, 0.2},
	}}

	Harmony = []Note{{330, 0.0, 0.5}, {349, 0.5, 0.5}, {392, 1.0, 0.5}, {330, 1.5, 0.5}}
	Bass    = []Note{{131, 0.0, 0.5}, {175, 0.5, 0.5}, {196, 1.0, 0.5}, {131, 1.5, 0.5}}

	Rhythm = []Hit{{0, 0.12}, {0.5, 0.06}, {1.0, 0.10}, {1.5, 0.06}, {1.75, 0.04}}
)

// Section is one slot of the arrangement.
type Section struct {
	Pattern   *Pattern
	Intensity float64 // scales the rhythm clicks
	Volume    float64 // scales the melody
}

// Schedule is the arrangement, indexed by measure mod Cycle.
var Schedule = [Cycle]Section{
	{&Main, 1.0, 1.0}, {&Main, 1.0, 1.0},
	{&Variation, 1.2, 1.0}, {&Variation, 1.2, 1.0},
	{&Main, 0.7, 1.0}, {&Main, 0.7, 1.0},
	{&Variation, 1.4, 1.1}, {&Variation, 1.4, 1.1},
	{&Main, 1.0, 1.0}, {&Main, 1.0, 1.0},
	{&Variation, 0.8, 1.0}, {&Variation, 0.8, 1.0},
	{&Bridge, 0.6, 0.8}, {&Bridge, 0.6, 0.8},
	{&Variation, 1.5, 1.0}, {&Variation, 1.5, 1.0},
}

// SectionAt returns the arrangement slot for a measure counter.
func SectionAt(measure int) Section {
	return Schedule[measure%Cycle]
}

// Kind is the voice an event is realized with.
type Kind int

const (
	Tone Kind = iota
	Click
	Bell
	Effect
)

func (k Kind) String() string {
	switch k {
	case Tone:
		return "tone"
	case Click:
		return "click"
	case Bell:
		return "bell"
	case Effect:
		return "effect"
	default:
		return "unknown"
	}
}

// Event is one voice to realize at an absolute audio time.
type Event struct {
	Time      float64
	Kind      Kind
	Frequency float64
	Duration  float64
	Volume    float64
}

// Sequencer walks the arrangement one measure per call.
type Sequencer struct {
	base    float64
	measure int
}

// New creates a sequencer at measure 0 with the given base volume.
func New(baseVolume float64) *Sequencer {
	return &Sequencer{base: baseVolume}
}

// Measure returns the counter of the next measure Next will produce.
func (s *Sequencer) Measure() int {
	return s.measure
}

// Next returns the events of the current measure starting at audio time
// start, sorted by time, and moves to the following measure.
func (s *Sequencer) Next(start float64) []Event {
	sec := SectionAt(s.measure)
	cycle := s.measure % Cycle
	s.measure++

	melodyVol := s.base * 0.9 * sec.Volume
	events := make([]Event, 0, len(sec.Pattern.Notes)+len(Harmony)+len(Bass)+len(Rhythm)+1)

	for _, n := range sec.Pattern.Notes {
		events = append(events, Event{Time: start + n.Time, Kind: Tone, Frequency: n.Frequency, Duration: n.Duration, Volume: melodyVol})
	}
	for _, n := range Harmony {
		events = append(events, Event{Time: start + n.Time, Kind: Tone, Frequency: n.Frequency, Duration: n.Duration, Volume: s.base * 0.3})
	}
	for _, n := range Bass {
		events = append(events, Event{Time: start + n.Time, Kind: Tone, Frequency: n.Frequency, Duration: n.Duration, Volume: s.base * 0.4})
	}
	for _, h := range Rhythm {
		events = append(events, Event{Time: start + h.Time, Kind: Click, Volume: h.Volume * sec.Intensity})
	}
	if cycle == Cycle-1 {
		events = append(events, Event{Time: start + EffectOffset, Kind: Effect, Volume: s.base})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Time < events[j].Time })
	return events
}
