// Package humanize adds seeded Gaussian variation to note velocities and
// onsets.
package humanize

import (
	"math"
	"math/rand/v2"

	"github.com/RyanBlaney/sonido-scribe/algorithms/common"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/score"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config holds humanization parameters
type Config struct {
	VelocitySigma float64 `json:"velocity_sigma" yaml:"velocity_sigma"`
	TimingSigma   float64 `json:"timing_sigma" yaml:"timing_sigma"` // ticks
	Timing        bool    `json:"timing" yaml:"timing"`
}

// DefaultConfig returns the default humanization parameters
func DefaultConfig() Config {
	return Config{
		VelocitySigma: 5,
		TimingSigma:   2,
		Timing:        true,
	}
}

// Humanizer perturbs sequences. Every Apply starts from the same seed, so
// identical input gives identical output.
type Humanizer struct {
	seed   int64
	config Config
	logger logging.Logger
}

// New creates a humanizer for a run seed
func New(seed int64, cfg Config) *Humanizer {
	return &Humanizer{
		seed:   seed,
		config: cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "humanizer",
		}),
	}
}

// Apply returns a perturbed copy of seq. For each note, in order, one draw
// jitters the velocity and, when timing is enabled, a second draw shifts the
// start by whole ticks. Ends never move, and a start never crosses the end
// of the previous note of the same pitch.
func (h *Humanizer) Apply(seq *score.Sequence) *score.Sequence {
	src := rand.NewPCG(uint64(h.seed), uint64(h.seed))
	velocity := distuv.Normal{Mu: 0, Sigma: h.config.VelocitySigma, Src: src}
	timing := distuv.Normal{Mu: 0, Sigma: h.config.TimingSigma, Src: src}

	tick := seq.Timebase.SecondsPerTick()
	lower := previousEnds(seq.Notes)

	out := seq.Clone()
	shifted := 0
	for i := range out.Notes {
		n := &out.Notes[i]
		n.Velocity = common.ClampInt(n.Velocity+int(math.Trunc(velocity.Rand())), 1, 127)

		if h.config.Timing {
			delta := math.Trunc(timing.Rand())
			if delta != 0 {
				shifted++
			}
			start := n.Start + delta*tick
			start = math.Min(start, n.End-tick)
			n.Start = math.Max(start, lower[i])
		}
	}

	h.logger.Debug("Sequence humanized", logging.Fields{
		"function": "Apply",
		"notes":    out.Len(),
		"shifted":  shifted,
		"seed":     h.seed,
	})

	return out
}

// previousEnds finds, for each note, the latest end among notes of the same
// pitch that start earlier, floored at zero
func previousEnds(notes []score.Note) []float64 {
	lower := make([]float64, len(notes))
	for i, n := range notes {
		for _, other := range notes {
			if other.Pitch == n.Pitch && other.Start < n.Start {
				lower[i] = math.Max(lower[i], other.End)
			}
		}
	}
	return lower
}
