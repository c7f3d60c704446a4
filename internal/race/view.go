package race

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.BritishEnglish)

// FormatCount groups digits the way the page displays them, e.g. 12,345.
func FormatCount(n int64) string {
	return printer.Sprintf("%d", n)
}

// EntityView is what the renderer needs for one marker.
type EntityView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Percent   float64 `json:"percent"`
	Baseline  float64 `json:"baseline"`
	Leader    bool    `json:"leader"`
	Advancing bool    `json:"advancing"`
	Count     string  `json:"count"`
	Delta     int64   `json:"delta"`
}

// View is one frame of the race handed to the rendering layer.
type View struct {
	Entities     [2]EntityView `json:"entities"`
	Announcement string        `json:"announcement"`
	Status       string        `json:"status"`
	AnimationMS  int64         `json:"animation_ms"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Named is the identity of one side, as configured.
type Named struct {
	ID   string
	Name string
}

// BuildView turns a computed state into the renderer's view.
func BuildView(names [2]Named, counts [2]int64, st State, status string, anim time.Duration, at time.Time) View {
	standings := [2]Standing{st.A, st.B}
	sides := [2]Side{SideA, SideB}

	v := View{
		Status:      status,
		AnimationMS: anim.Milliseconds(),
		UpdatedAt:   at,
	}
	for i := range v.Entities {
		v.Entities[i] = EntityView{
			ID:        names[i].ID,
			Name:      names[i].Name,
			Percent:   standings[i].Percent,
			Baseline:  standings[i].Baseline,
			Leader:    st.Leader == sides[i],
			Advancing: standings[i].Advancing,
			Count:     FormatCount(counts[i]),
			Delta:     standings[i].Delta,
		}
	}
	v.Announcement = Announce(names, counts, st.Leader)
	return v
}

// Settle returns the view after the advance animation: markers back on their
// baselines and the moving flags cleared.
func Settle(v View) View {
	for i := range v.Entities {
		v.Entities[i].Percent = v.Entities[i].Baseline
		v.Entities[i].Advancing = false
		v.Entities[i].Delta = 0
	}
	return v
}

// Announce builds the screen-reader summary of the race.
func Announce(names [2]Named, counts [2]int64, leader Side) string {
	switch leader {
	case SideA:
		return printer.Sprintf("%s petition leads with %d signatures, %s petition has %d",
			names[0].Name, counts[0], names[1].Name, counts[1])
	case SideB:
		return printer.Sprintf("%s petition leads with %d signatures, %s petition has %d",
			names[1].Name, counts[1], names[0].Name, counts[0])
	default:
		return printer.Sprintf("Tied at %d signatures each", counts[0])
	}
}
