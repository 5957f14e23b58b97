package score

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/RyanBlaney/sonido-scribe/diagnostics"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const noteChannel = 0

type noteEvent struct {
	tick     int64
	on       bool
	pitch    uint8
	velocity uint8
}

// WriteMIDI encodes the sequence as a format 1 Standard MIDI File: a tempo
// track followed by one note track on channel 0. Output is deterministic.
func (s *Sequence) WriteMIDI(w io.Writer) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid sequence: %w", err)
	}

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(s.Timebase.PPQ)

	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(s.Timebase.BPM()))
	tempo.Close(0)

	var notes smf.Track
	var last int64
	for _, ev := range s.events() {
		msg := midi.NoteOff(noteChannel, ev.pitch)
		if ev.on {
			msg = midi.NoteOn(noteChannel, ev.pitch, ev.velocity)
		}
		notes.Add(uint32(ev.tick-last), msg)
		last = ev.tick
	}
	notes.Close(0)

	if err := file.Add(tempo); err != nil {
		return fmt.Errorf("failed to add tempo track: %w", err)
	}
	if err := file.Add(notes); err != nil {
		return fmt.Errorf("failed to add note track: %w", err)
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write midi: %w", err)
	}
	return nil
}

// events flattens notes into tick-ordered on/off events. At equal ticks note
// offs come first so back-to-back notes of one pitch stay distinct.
func (s *Sequence) events() []noteEvent {
	events := make([]noteEvent, 0, 2*len(s.Notes))
	for _, n := range s.Notes {
		start := s.Timebase.SecondsToTicks(n.Start)
		end := max(s.Timebase.SecondsToTicks(n.End), start+1)
		events = append(events,
			noteEvent{tick: start, on: true, pitch: uint8(n.Pitch), velocity: uint8(n.Velocity)},
			noteEvent{tick: end, on: false, pitch: uint8(n.Pitch)},
		)
	}

	slices.SortStableFunc(events, func(a, b noteEvent) int {
		if a.tick != b.tick {
			if a.tick < b.tick {
				return -1
			}
			return 1
		}
		if a.on != b.on {
			if !a.on {
				return -1
			}
			return 1
		}
		return int(a.pitch) - int(b.pitch)
	})
	return events
}

// MIDIBytes returns the encoded file
func (s *Sequence) MIDIBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteMIDI(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the sequence to path through a temp file and rename
func (s *Sequence) WriteFile(path string) error {
	data, err := s.MIDIBytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ReadMIDI decodes a Standard MIDI File. Notes on every channel and track
// are collected, paired first-in first-out per pitch, and returned in onset
// order. Only the first tempo event is honoured.
func ReadMIDI(r io.Reader) (*Sequence, error) {
	file, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse midi: %w", err)
	}

	mt, ok := file.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("unsupported midi time format: %v", file.TimeFormat)
	}
	tb := Timebase{PPQ: uint16(mt), MicrosPerQuarter: 500_000}

	type pending struct {
		tick     int64
		velocity uint8
	}
	type span struct {
		start, end int64
		pitch      uint8
		velocity   uint8
	}

	tempoSet := false
	var spans []span
	for _, track := range file.Tracks {
		open := map[[2]uint8][]pending{}
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)

			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				if !tempoSet && bpm > 0 {
					tb.MicrosPerQuarter = uint32(60e6/bpm + 0.5)
					tempoSet = true
				}
				continue
			}

			var ch, key, vel uint8
			msg := midi.Message(ev.Message)
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				k := [2]uint8{ch, key}
				open[k] = append(open[k], pending{tick: tick, velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				k := [2]uint8{ch, key}
				if len(open[k]) == 0 {
					continue
				}
				p := open[k][0]
				open[k] = open[k][1:]
				spans = append(spans, span{start: p.tick, end: tick, pitch: key, velocity: p.velocity})
			}
		}
	}

	seq := NewSequence(tb)
	for _, sp := range spans {
		if sp.end <= sp.start {
			continue
		}
		seq.Notes = append(seq.Notes, Note{
			Pitch:    int(sp.pitch),
			Velocity: int(sp.velocity),
			Start:    tb.TicksToSeconds(sp.start),
			End:      tb.TicksToSeconds(sp.end),
		})
	}
	seq.Notes = seq.Sorted()

	return seq, nil
}

// ReadFile reads a MIDI file, reporting a missing file as ResourceNotFoundError
func ReadFile(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &diagnostics.ResourceNotFoundError{Kind: "score", Path: path}
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return ReadMIDI(f)
}
