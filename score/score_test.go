package score

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hop(frames int) float64 {
	return float64(frames) * 512 / 22050
}

func testSequence(t *testing.T) *Sequence {
	t.Helper()
	seq := NewSequence(DefaultTimebase())
	require.NoError(t, seq.Add(Note{Pitch: 60, Velocity: 100, Start: hop(0), End: hop(10)}))
	require.NoError(t, seq.Add(Note{Pitch: 64, Velocity: 90, Start: hop(2), End: hop(8)}))
	// back-to-back with the first note
	require.NoError(t, seq.Add(Note{Pitch: 60, Velocity: 80, Start: hop(10), End: hop(20)}))
	return seq
}

func TestDefaultTimebase(t *testing.T) {
	tb := DefaultTimebase()
	assert.Equal(t, uint16(441), tb.PPQ)
	assert.Equal(t, uint32(1_024_000), tb.MicrosPerQuarter)
	assert.Equal(t, int64(TicksPerFrame), tb.SecondsToTicks(hop(1)))
	assert.Equal(t, int64(10*TicksPerFrame), tb.SecondsToTicks(hop(10)))
	assert.InDelta(t, 58.59375, tb.BPM(), 1e-12)
}

func TestTimebaseFallsBackWhenResolutionOverflows(t *testing.T) {
	tb := TimebaseFor(44101, 512)
	assert.Equal(t, uint16(fallbackPPQ), tb.PPQ)
}

func TestMIDIRoundTrip(t *testing.T) {
	seq := testSequence(t)
	data, err := seq.MIDIBytes()
	require.NoError(t, err)

	back, err := ReadMIDI(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, seq.Timebase, back.Timebase)

	want := seq.Sorted()
	require.Len(t, back.Notes, len(want))
	for i := range want {
		assert.Equal(t, want[i].Pitch, back.Notes[i].Pitch)
		assert.Equal(t, want[i].Velocity, back.Notes[i].Velocity)
		assert.InDelta(t, want[i].Start, back.Notes[i].Start, 1e-9)
		assert.InDelta(t, want[i].End, back.Notes[i].End, 1e-9)
	}
}

func TestMIDIBytesAreDeterministic(t *testing.T) {
	a, err := testSequence(t).MIDIBytes()
	require.NoError(t, err)
	b, err := testSequence(t).MIDIBytes()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmptySequenceWritesValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mid")
	require.NoError(t, NewSequence(DefaultTimebase()).WriteFile(path))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, back.Len())
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.mid"))
	assert.True(t, diagnostics.IsResourceNotFound(err))
}

func TestValidateRejectsOverlap(t *testing.T) {
	seq := NewSequence(DefaultTimebase())
	require.NoError(t, seq.Add(Note{Pitch: 60, Velocity: 100, Start: 0, End: 1}))
	require.NoError(t, seq.Add(Note{Pitch: 60, Velocity: 100, Start: 0.5, End: 1.5}))
	assert.Error(t, seq.Validate())

	_, err := seq.MIDIBytes()
	assert.Error(t, err)
}

func TestNoteValidate(t *testing.T) {
	assert.Error(t, Note{Pitch: 128, Velocity: 100, Start: 0, End: 1}.Validate())
	assert.Error(t, Note{Pitch: 60, Velocity: 0, Start: 0, End: 1}.Validate())
	assert.Error(t, Note{Pitch: 60, Velocity: 100, Start: 1, End: 1}.Validate())
	assert.NoError(t, Note{Pitch: 60, Velocity: 127, Start: 0, End: 0.1}.Validate())
}
