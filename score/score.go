// Package score holds the symbolic note representation and its Standard MIDI
// File encoding.
package score

import (
	"fmt"
	"math"
	"slices"

	"github.com/RyanBlaney/sonido-scribe/algorithms/common"
)

const (
	// TicksPerFrame is the number of MIDI ticks in one analysis hop
	TicksPerFrame = 10

	// fallbackPPQ is used when the exact resolution does not fit in 15 bits
	fallbackPPQ = 960
	maxPPQ      = 32767
)

// Note is one sounding pitch
type Note struct {
	Pitch    int     `json:"pitch"`    // MIDI 0..127
	Velocity int     `json:"velocity"` // 1..127
	Start    float64 `json:"start"`    // seconds
	End      float64 `json:"end"`      // seconds, > Start
}

// Duration returns End - Start in seconds
func (n Note) Duration() float64 {
	return n.End - n.Start
}

// Validate checks ranges
func (n Note) Validate() error {
	if n.Pitch < 0 || n.Pitch > 127 {
		return fmt.Errorf("pitch out of range: %d", n.Pitch)
	}
	if n.Velocity < 1 || n.Velocity > 127 {
		return fmt.Errorf("velocity out of range: %d", n.Velocity)
	}
	if n.Start < 0 || math.IsNaN(n.Start) {
		return fmt.Errorf("invalid start: %f", n.Start)
	}
	if !(n.End > n.Start) {
		return fmt.Errorf("note end %.6f not after start %.6f", n.End, n.Start)
	}
	return nil
}

// Timebase maps seconds to MIDI ticks
type Timebase struct {
	PPQ              uint16 `json:"ppq"`
	MicrosPerQuarter uint32 `json:"micros_per_quarter"`
}

// TimebaseFor picks a resolution and tempo in which one hop of hopSize
// samples at sampleRate is exactly TicksPerFrame ticks.
//
// A quarter note of PPQ ticks lasts PPQ*hop*1e6/(TicksPerFrame*sr) us, which
// is an integer when PPQ = sr / gcd(sr, hop*1e5). For 22050/512 that is
// 441 PPQ at 1,024,000 us per quarter.
func TimebaseFor(sampleRate, hopSize int) Timebase {
	sr := int64(sampleRate)
	num := int64(hopSize) * 1_000_000 / TicksPerFrame

	ppq := sr / common.GCD(sr, num)
	if ppq > maxPPQ {
		ppq = fallbackPPQ
	}

	return Timebase{
		PPQ:              uint16(ppq),
		MicrosPerQuarter: uint32(math.Round(float64(ppq) * float64(num) / float64(sr))),
	}
}

// DefaultTimebase is the timebase of the default analysis layout
func DefaultTimebase() Timebase {
	return TimebaseFor(22050, 512)
}

// SecondsPerTick returns the duration of one tick
func (tb Timebase) SecondsPerTick() float64 {
	return float64(tb.MicrosPerQuarter) / 1e6 / float64(tb.PPQ)
}

// BPM returns the tempo in quarter notes per minute
func (tb Timebase) BPM() float64 {
	return 60e6 / float64(tb.MicrosPerQuarter)
}

// SecondsToTicks rounds a time to the nearest tick
func (tb Timebase) SecondsToTicks(s float64) int64 {
	return int64(math.Round(s / tb.SecondsPerTick()))
}

// TicksToSeconds converts ticks to seconds
func (tb Timebase) TicksToSeconds(ticks int64) float64 {
	return float64(ticks) * float64(tb.MicrosPerQuarter) / 1e6 / float64(tb.PPQ)
}

// Sequence is an insertion-ordered list of notes and the timebase they are
// written with. No two notes of the same pitch overlap.
type Sequence struct {
	Notes    []Note   `json:"notes"`
	Timebase Timebase `json:"timebase"`
}

// NewSequence creates an empty sequence
func NewSequence(tb Timebase) *Sequence {
	return &Sequence{Notes: []Note{}, Timebase: tb}
}

// Add validates and appends a note
func (s *Sequence) Add(n Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.Notes = append(s.Notes, n)
	return nil
}

// Len returns the number of notes
func (s *Sequence) Len() int {
	return len(s.Notes)
}

// Clone returns a deep copy
func (s *Sequence) Clone() *Sequence {
	return &Sequence{Notes: slices.Clone(s.Notes), Timebase: s.Timebase}
}

// Sorted returns the notes ordered by start, then pitch, then end
func (s *Sequence) Sorted() []Note {
	notes := slices.Clone(s.Notes)
	slices.SortStableFunc(notes, compareNotes)
	return notes
}

func compareNotes(a, b Note) int {
	switch {
	case a.Start != b.Start:
		if a.Start < b.Start {
			return -1
		}
		return 1
	case a.Pitch != b.Pitch:
		return a.Pitch - b.Pitch
	case a.End < b.End:
		return -1
	case a.End > b.End:
		return 1
	}
	return 0
}

// Validate checks every note and the same-pitch overlap invariant
func (s *Sequence) Validate() error {
	lastEnd := map[int]float64{}
	for i, n := range s.Sorted() {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("note %d: %w", i, err)
		}
		if end, ok := lastEnd[n.Pitch]; ok && n.Start < end {
			return fmt.Errorf("pitch %d overlaps at %.3fs", n.Pitch, n.Start)
		}
		lastEnd[n.Pitch] = n.End
	}
	return nil
}

// Duration is the latest note end
func (s *Sequence) Duration() float64 {
	end := 0.0
	for _, n := range s.Notes {
		end = math.Max(end, n.End)
	}
	return end
}
