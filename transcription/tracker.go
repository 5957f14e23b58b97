package transcription

import (
	"fmt"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/RyanBlaney/sonido-scribe/score"
)

// pitchState is the per-pitch state machine record. startFrame is only
// meaningful while active.
type pitchState struct {
	active     bool
	startFrame int
}

// Tracker turns frame-by-frame activity into notes. Frames must be fed in
// order; every pitch is either inactive or active since startFrame.
type Tracker struct {
	states      []pitchState
	pitchOffset int
	hopDuration float64
	config      Config

	frame        int
	notes        []score.Note
	polyphonyMax int
	warnings     diagnostics.Warnings
	flushed      bool
}

// NewTracker creates a tracker for numBins pitches, bin b sounding MIDI
// pitch b+pitchOffset
func NewTracker(numBins, pitchOffset int, hopDuration float64, cfg Config) *Tracker {
	return &Tracker{
		states:      make([]pitchState, numBins),
		pitchOffset: pitchOffset,
		hopDuration: hopDuration,
		config:      cfg.withDefaults(),
		notes:       []score.Note{},
	}
}

// Step consumes the activity of the next frame
func (tr *Tracker) Step(active []bool) error {
	if tr.flushed {
		return fmt.Errorf("tracker already flushed")
	}
	if len(active) != len(tr.states) {
		return fmt.Errorf("frame %d has %d bins, expected %d", tr.frame, len(active), len(tr.states))
	}

	count := 0
	for b, on := range active {
		state := &tr.states[b]
		switch {
		case on:
			count++
			if !state.active {
				state.active = true
				state.startFrame = tr.frame
			}
		case state.active:
			tr.close(b, tr.frame)
		}
	}

	tr.polyphonyMax = max(tr.polyphonyMax, count)
	if count > tr.config.MaxPolyphony {
		tr.warnings.Add("High polyphony detected at %.2fs", float64(tr.frame)*tr.hopDuration)
	}

	tr.frame++
	return nil
}

// Flush closes every pitch still sounding at the frame after the last one
func (tr *Tracker) Flush() {
	if tr.flushed {
		return
	}
	for b := range tr.states {
		if tr.states[b].active {
			tr.close(b, tr.frame)
		}
	}
	tr.flushed = true
}

// close ends pitch b at endFrame and emits a note when long enough
func (tr *Tracker) close(b, endFrame int) {
	state := &tr.states[b]
	start := float64(state.startFrame) * tr.hopDuration
	end := float64(endFrame) * tr.hopDuration
	state.active = false

	if end-start > tr.config.MinDuration {
		tr.notes = append(tr.notes, score.Note{
			Pitch:    b + tr.pitchOffset,
			Velocity: tr.config.Velocity,
			Start:    start,
			End:      end,
		})
	}
}

// Notes returns the emitted notes in emission order
func (tr *Tracker) Notes() []score.Note {
	return tr.notes
}

// PolyphonyMax is the largest number of pitches active in one frame
func (tr *Tracker) PolyphonyMax() int {
	return tr.polyphonyMax
}

// Warnings returns the advisory warnings raised so far
func (tr *Tracker) Warnings() diagnostics.Warnings {
	return tr.warnings
}

// Frames is the number of frames consumed
func (tr *Tracker) Frames() int {
	return tr.frame
}
