package transcription

import (
	"testing"

	"github.com/RyanBlaney/sonido-scribe/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(numBins int, on ...int) []bool {
	f := make([]bool, numBins)
	for _, b := range on {
		f[b] = true
	}
	return f
}

func TestTrackerEmitsOnRelease(t *testing.T) {
	tr := NewTracker(4, 24, hop, DefaultConfig())
	for range 5 {
		require.NoError(t, tr.Step(frame(4, 1)))
	}
	require.NoError(t, tr.Step(frame(4)))

	require.Len(t, tr.Notes(), 1)
	n := tr.Notes()[0]
	assert.Equal(t, 25, n.Pitch)
	assert.InDelta(t, 0.0, n.Start, 1e-12)
	assert.InDelta(t, 5*hop, n.End, 1e-12)
}

func TestTrackerDropsShortBlips(t *testing.T) {
	tr := NewTracker(2, 60, hop, DefaultConfig())
	// two frames is 46 ms, three is 70 ms
	require.NoError(t, tr.Step(frame(2, 0, 1)))
	require.NoError(t, tr.Step(frame(2, 0, 1)))
	require.NoError(t, tr.Step(frame(2, 1)))
	require.NoError(t, tr.Step(frame(2)))

	require.Len(t, tr.Notes(), 1)
	assert.Equal(t, 61, tr.Notes()[0].Pitch)
}

func TestTrackerFlushClosesAtEnd(t *testing.T) {
	tr := NewTracker(3, 24, hop, DefaultConfig())
	require.NoError(t, tr.Step(frame(3)))
	for range 9 {
		require.NoError(t, tr.Step(frame(3, 2)))
	}
	assert.Empty(t, tr.Notes())

	tr.Flush()
	require.Len(t, tr.Notes(), 1)
	assert.InDelta(t, hop, tr.Notes()[0].Start, 1e-12)
	assert.InDelta(t, 10*hop, tr.Notes()[0].End, 1e-12)
	assert.Equal(t, 10, tr.Frames())

	assert.Error(t, tr.Step(frame(3)))
}

func TestTrackerRetriggerDoesNotOverlap(t *testing.T) {
	tr := NewTracker(1, 69, hop, DefaultConfig())
	pattern := []bool{true, true, true, false, true, true, true, true}
	for _, on := range pattern {
		require.NoError(t, tr.Step([]bool{on}))
	}
	tr.Flush()

	seq := score.NewSequence(score.DefaultTimebase())
	for _, n := range tr.Notes() {
		require.NoError(t, seq.Add(n))
	}
	assert.Equal(t, 2, seq.Len())
	assert.NoError(t, seq.Validate())
}

func TestTrackerPolyphonyWarning(t *testing.T) {
	tr := NewTracker(30, 24, hop, DefaultConfig())
	all := make([]int, 25)
	for i := range all {
		all[i] = i
	}

	require.NoError(t, tr.Step(frame(30, all[:20]...)))
	assert.Empty(t, tr.Warnings())

	require.NoError(t, tr.Step(frame(30, all...)))
	assert.Equal(t, 25, tr.PolyphonyMax())
	require.Len(t, tr.Warnings(), 1)
	assert.Equal(t, "High polyphony detected at 0.02s", tr.Warnings()[0])
}

func TestTrackerRejectsWrongWidth(t *testing.T) {
	tr := NewTracker(4, 24, hop, DefaultConfig())
	assert.Error(t, tr.Step(make([]bool, 3)))
}
