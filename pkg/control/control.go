// Package control implements the learning controller that self-tunes the
// Muninn engine.
//
// Nothing in here is configured per run. The controller watches how well
// generated output tracks targets and turns that into four pressures, which
// in turn set the effective learning rate for the next episode. A brain
// that predicts badly learns fast; a brain that predicts well coasts.
package control

import (
	"github.com/orneryd/muninn/pkg/graph"
)

// Smoothing and loop constants. Error and confidence are exponential moving
// averages so a single odd episode cannot whipsaw the learning rate.
const (
	ErrorSmoothing      = 0.9
	ConfidenceSmoothing = 0.9
	LoopSpike           = 0.9
	LoopDecay           = 0.95
	VarianceWindow      = 50

	RateMin = 0.01
	RateMax = 1.0
)

// Pressures is a read-only snapshot of the controller's state.
type Pressures struct {
	// Learning rises with the squared smoothed error rate. High when the
	// brain keeps getting targets wrong.
	Learning float64 `json:"learning_pressure"`
	// PatternConfidence rises as learned patterns keep predicting the
	// observed targets.
	PatternConfidence float64 `json:"pattern_confidence"`
	// OutputVariance is the unique-symbol ratio over the recent output
	// window. Near zero means the brain is stuck saying the same thing.
	OutputVariance float64 `json:"output_variance"`
	// Loop spikes when generation falls into a repeating cycle and decays
	// once the loops stop.
	Loop float64 `json:"loop_pressure"`
}

// Controller tracks pressure state across episodes.
type Controller struct {
	errorRate  float64
	confidence float64
	loop       float64
	recent     []graph.Symbol
	episodes   int
}

// New returns a controller with a pessimistic initial error rate, so a
// fresh brain starts learning at full tilt.
func New() *Controller {
	return &Controller{errorRate: 1.0}
}

// Update feeds one finished training episode into the controller: the
// generated output against the target it should have been.
func (c *Controller) Update(output, target []graph.Symbol) {
	c.episodes++

	n := len(target)
	if len(output) > n {
		n = len(output)
	}
	mismatches := 0
	for i := 0; i < n; i++ {
		if i >= len(output) || i >= len(target) || output[i] != target[i] {
			mismatches++
		}
	}
	rawErr := 0.0
	if n > 0 {
		rawErr = float64(mismatches) / float64(n)
	}
	c.errorRate = ErrorSmoothing*c.errorRate + (1-ErrorSmoothing)*rawErr

	c.recent = append(c.recent, output...)
	if len(c.recent) > VarianceWindow {
		c.recent = c.recent[len(c.recent)-VarianceWindow:]
	}

	c.loop *= LoopDecay
}

// ObserveLoop spikes the loop pressure when the propagator detected a
// repeating cycle this episode.
func (c *Controller) ObserveLoop(detected bool) {
	if detected && c.loop < LoopSpike {
		c.loop = LoopSpike
	}
}

// ObservePatterns folds one episode's pattern-learning outcome into the
// confidence pressure: hits are reinforcements of predictions that matched
// the target again, attempts is everything learned this episode.
func (c *Controller) ObservePatterns(hits, attempts int) {
	if attempts == 0 {
		return
	}
	rate := float64(hits) / float64(attempts)
	c.confidence = ConfidenceSmoothing*c.confidence + (1-ConfidenceSmoothing)*rate
}

// Rate converts current pressures into the effective learning rate.
// High learning pressure and active loops push it up; high pattern
// confidence winds it down. Always within [RateMin, RateMax].
func (c *Controller) Rate(base float64) float64 {
	rate := base * c.Learning() * (1 + c.loop) * (2 - c.confidence) / 2
	if rate < RateMin {
		return RateMin
	}
	if rate > RateMax {
		return RateMax
	}
	return rate
}

// ErrorRate returns the smoothed error rate.
func (c *Controller) ErrorRate() float64 { return c.errorRate }

// Learning returns the learning pressure, the square of the error rate.
func (c *Controller) Learning() float64 { return c.errorRate * c.errorRate }

// Confidence returns the pattern confidence pressure.
func (c *Controller) Confidence() float64 { return c.confidence }

// Episodes returns how many training episodes the controller has seen.
func (c *Controller) Episodes() int { return c.episodes }

// Pressures returns a snapshot of all four pressures.
func (c *Controller) Pressures() Pressures {
	return Pressures{
		Learning:          c.Learning(),
		PatternConfidence: c.confidence,
		OutputVariance:    c.outputVariance(),
		Loop:              c.loop,
	}
}

func (c *Controller) outputVariance() float64 {
	if len(c.recent) == 0 {
		return 0
	}
	seen := make(map[graph.Symbol]struct{}, len(c.recent))
	for _, s := range c.recent {
		seen[s] = struct{}{}
	}
	return float64(len(seen)) / float64(len(c.recent))
}

// Restore overwrites the smoothed state, used when loading a brain file so
// a saved brain resumes with the pressures it was saved with.
func (c *Controller) Restore(errorRate, confidence, loop float64) {
	c.errorRate = clamp01(errorRate)
	c.confidence = clamp01(confidence)
	c.loop = clamp01(loop)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
