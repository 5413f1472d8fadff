package archive

import (
	"encoding/json"
	"math"
)

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Event is one message of an archive job. A job sends any number of
// progress events followed by exactly one complete or error event.
type Event struct {
	Kind        EventKind
	Fraction    float64 // progress in [0,1]
	ZipFileName string
	Message     string
}

// Percent is the progress as a percentage rounded to two decimals.
func (e Event) Percent() float64 {
	return math.Round(e.Fraction*10000) / 100
}

func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// MarshalJSON renders the wire form, e.g. {"event":"progress","progress":42.5}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventProgress:
		return json.Marshal(struct {
			Event    EventKind `json:"event"`
			Progress float64   `json:"progress"`
		}{e.Kind, e.Percent()})
	case EventComplete:
		return json.Marshal(struct {
			Event       EventKind `json:"event"`
			Progress    float64   `json:"progress"`
			ZipFileName string    `json:"zipFileName"`
		}{e.Kind, e.Percent(), e.ZipFileName})
	default:
		return json.Marshal(struct {
			Event   EventKind `json:"event"`
			Message string    `json:"message"`
		}{e.Kind, e.Message})
	}
}

// tracker turns processed byte counts into a clamped, non-decreasing fraction.
type tracker struct {
	total     int64
	processed int64
	last      float64
}

func newTracker(total int64) *tracker {
	return &tracker{total: total}
}

func (t *tracker) add(n int64) float64 {
	t.processed += n

	f := 1.0
	if t.total > 0 {
		f = float64(t.processed) / float64(t.total)
	}
	f = math.Min(math.Max(f, 0), 1)

	if f > t.last {
		t.last = f
	}
	return t.last
}
