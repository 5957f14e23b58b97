// Package chroma folds semitone-spaced constant-Q magnitudes into 12 pitch
// classes and compares chromagram sequences.
package chroma

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Bins is the number of pitch classes
const Bins = 12

// energyFloor below which a frame counts as silent
const energyFloor = 1e-10

// Labels returns the pitch-class names starting at C
func Labels() []string {
	return []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
}

// FromCQT sums squared magnitudes of every bin into its pitch class. Bin k
// has MIDI pitch k+pitchOffset and the CQT must have one bin per semitone.
// Frames are normalized to unit sum; silent frames stay zero.
func FromCQT(cqt [][]float64, pitchOffset int) [][]float64 {
	chromagram := make([][]float64, len(cqt))

	for t, frame := range cqt {
		chroma := make([]float64, Bins)
		for k, mag := range frame {
			class := (k + pitchOffset) % Bins
			if class < 0 {
				class += Bins
			}
			chroma[class] += mag * mag
		}

		if total := floats.Sum(chroma); total > energyFloor {
			floats.Scale(1/total, chroma)
		}
		chromagram[t] = chroma
	}

	return chromagram
}

// CosineSimilarity of two chroma vectors, 0 when either is silent
func CosineSimilarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na < energyFloor || nb < energyFloor {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// SequenceSimilarity is the mean frame-by-frame cosine similarity over the
// frames both sequences share. Frames silent in both are skipped; a frame
// silent in only one scores 0. Returns 0 when nothing is compared.
func SequenceSimilarity(a, b [][]float64) float64 {
	n := min(len(a), len(b))
	total, count := 0.0, 0

	for t := range n {
		silentA := floats.Sum(a[t]) < energyFloor
		silentB := floats.Sum(b[t]) < energyFloor
		if silentA && silentB {
			continue
		}
		total += CosineSimilarity(a[t], b[t])
		count++
	}

	if count == 0 {
		return 0
	}
	return math.Min(1, total/float64(count))
}
