// Package muninn is the public face of the Muninn associative learning
// engine.
//
// A Brain ties the pieces together: the weighted symbol graph, the pattern
// store, the wave propagator, and the learning controller. Callers interact
// through episodes. A training episode carries an input and a target; the
// brain generates output for the input, scores itself against the target,
// and adjusts weights, patterns, and pressures. An inference episode
// carries only an input and mutates nothing but node energies, so repeated
// inference on the same input returns the same output.
//
// Brains persist as human-readable text files, see package brainfmt.
//
// Example:
//
//	b := muninn.New()
//	for i := 0; i < 30; i++ {
//		b.Train("cat", "cats")
//	}
//	out := b.Infer("cat")
//	_ = b.Save("muninn.brain")
//
// A Brain is not safe for concurrent use; serialize access externally.
package muninn

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/orneryd/muninn/pkg/brainfmt"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/control"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/logging"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/propagate"
)

// ErrBrainNotFound is returned by Load when the brain file does not exist.
var ErrBrainNotFound = errors.New("brain file not found")

// Brain is one learning engine instance.
type Brain struct {
	graph      *graph.Graph
	patterns   *pattern.Store
	controller *control.Controller
	rules      config.Rules

	lastOutput []graph.Symbol
	lastLoop   bool
}

// New returns an empty brain with default rules.
func New() *Brain {
	return NewWithRules(config.DefaultRules())
}

// NewWithRules returns an empty brain with the given rules.
func NewWithRules(rules config.Rules) *Brain {
	return &Brain{
		graph:      graph.New(),
		patterns:   pattern.NewStore(rules.PatternFireThreshold, rules.FirePolicy),
		controller: control.New(),
		rules:      rules,
	}
}

// Symbols converts a string into engine symbols.
func Symbols(s string) []graph.Symbol {
	out := make([]graph.Symbol, 0, len(s))
	for _, r := range s {
		out = append(out, graph.Symbol(r))
	}
	return out
}

// String converts engine symbols back into a string.
func String(symbols []graph.Symbol) string {
	var b strings.Builder
	for _, s := range symbols {
		b.WriteRune(rune(s))
	}
	return b.String()
}

// RunEpisode runs one episode: generate output for input, then, when a
// target is given, learn from the mismatch. Returns the generated output.
// A nil target makes this a pure inference episode that leaves weights,
// patterns, and pressures untouched.
func (b *Brain) RunEpisode(input, target []graph.Symbol) []graph.Symbol {
	b.patterns.ResetEpisode()

	prop := propagate.New(b.graph, b.patterns, b.rules, b.controller.Confidence())
	prop.Seed(input)
	output := prop.Run()

	b.lastOutput = output
	b.lastLoop = prop.LoopDetected()

	if target == nil {
		return output
	}

	b.controller.Update(output, target)
	b.controller.ObserveLoop(prop.LoopDetected())
	rate := b.controller.Rate(b.rules.BaseLearningRate)

	b.reinforceEdges(input, target, rate)
	hits, attempts := b.learnPatterns(input, target, rate)
	b.controller.ObservePatterns(hits, attempts)

	merged := b.patterns.Merge()
	pruned := b.patterns.Prune(b.rules.PruneFloor)

	logging.Debug("episode trained", map[string]interface{}{
		"input":  String(input),
		"target": String(target),
		"output": String(output),
		"rate":   fmt.Sprintf("%.4f", rate),
		"merged": merged,
		"pruned": pruned,
		"loop":   prop.LoopDetected(),
		"fired":  len(prop.FiredEvents()),
		"err":    fmt.Sprintf("%.4f", b.controller.ErrorRate()),
	})
	return output
}

// Train runs a training episode on strings.
func (b *Brain) Train(input, target string) string {
	return String(b.RunEpisode(Symbols(input), Symbols(target)))
}

// Infer runs an inference episode on a string.
func (b *Brain) Infer(input string) string {
	return String(b.RunEpisode(Symbols(input), nil))
}

// reinforceEdges strengthens the sequential structure of this episode:
// consecutive input symbols, consecutive target symbols, and the bridge
// from the last input symbol to the first target symbol, which is what
// lets a short cue pull in an unrelated completion.
func (b *Brain) reinforceEdges(input, target []graph.Symbol, rate float64) {
	delta := rate * b.rules.EdgeDelta
	for i := 0; i+1 < len(input); i++ {
		b.graph.Reinforce(input[i], input[i+1], delta)
	}
	for i := 0; i+1 < len(target); i++ {
		b.graph.Reinforce(target[i], target[i+1], delta)
	}
	if len(input) > 0 && len(target) > 0 {
		b.graph.Reinforce(input[len(input)-1], target[0], delta)
	}
}

// learnPatterns extracts the literal contexts this episode supports and
// feeds them to the store. Three families: contexts inside the target,
// input windows aligned against the target position they precede, and the
// target's own tail predicting the end marker. Returns how many learned
// pairs were reinforcements of existing knowledge versus total, the raw
// material for the confidence pressure.
func (b *Brain) learnPatterns(input, target []graph.Symbol, rate float64) (hits, attempts int) {
	type pair struct {
		ctx  string
		pred graph.Symbol
	}
	pairs := make(map[pair][]graph.Symbol)

	add := func(ctx []graph.Symbol, pred graph.Symbol) {
		key := pair{ctx: String(ctx), pred: pred}
		if _, ok := pairs[key]; !ok {
			pairs[key] = append([]graph.Symbol(nil), ctx...)
		}
	}

	for _, length := range []int{2, 3} {
		for i := length; i < len(target); i++ {
			add(target[i-length:i], target[i])
		}
		for p := 0; p+length <= len(input) && p+length < len(target); p++ {
			add(input[p:p+length], target[p+length])
		}
		if len(target) >= length {
			add(target[len(target)-length:], graph.Symbol(b.rules.EndMarker))
		}
	}

	keys := make([]pair, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ctx != keys[j].ctx {
			return keys[i].ctx < keys[j].ctx
		}
		return keys[i].pred < keys[j].pred
	})

	for _, k := range keys {
		res := b.patterns.Learn(pairs[k], k.pred, rate)
		attempts++
		if res.Reinforced {
			hits++
		}
	}
	return hits, attempts
}

// Output returns the output of the most recent episode.
func (b *Brain) Output() string { return String(b.lastOutput) }

// OutputSymbols returns the most recent output as symbols.
func (b *Brain) OutputSymbols() []graph.Symbol {
	return append([]graph.Symbol(nil), b.lastOutput...)
}

// LoopDetected reports whether the most recent episode looped.
func (b *Brain) LoopDetected() bool { return b.lastLoop }

// Pressures returns the controller's current pressure snapshot.
func (b *Brain) Pressures() control.Pressures { return b.controller.Pressures() }

// ErrorRate returns the smoothed error rate.
func (b *Brain) ErrorRate() float64 { return b.controller.ErrorRate() }

// LearningRate returns the effective learning rate the next training
// episode would use.
func (b *Brain) LearningRate() float64 {
	return b.controller.Rate(b.rules.BaseLearningRate)
}

// Episodes returns how many training episodes this brain has seen since it
// was created or loaded.
func (b *Brain) Episodes() int { return b.controller.Episodes() }

// EdgeWeight returns the association weight between two symbols, 0 when
// they were never associated.
func (b *Brain) EdgeWeight(from, to rune) float64 {
	return b.graph.EdgeWeight(graph.Symbol(from), graph.Symbol(to))
}

// NodeCount returns the number of known symbols.
func (b *Brain) NodeCount() int { return b.graph.NodeCount() }

// EdgeCount returns the number of associations.
func (b *Brain) EdgeCount() int { return b.graph.EdgeCount() }

// PatternCount returns the number of stored patterns.
func (b *Brain) PatternCount() int { return b.patterns.Len() }

// Rules returns the brain's rule set.
func (b *Brain) Rules() config.Rules { return b.rules }

// Contents assembles a persistence snapshot of the brain.
func (b *Brain) Contents() *brainfmt.Contents {
	p := b.controller.Pressures()
	return &brainfmt.Contents{
		Graph:    b.graph,
		Patterns: b.patterns,
		Rules:    b.rules,
		State: brainfmt.ControllerState{
			ErrorRate:  b.controller.ErrorRate(),
			Confidence: p.PatternConfidence,
			Loop:       p.Loop,
		},
	}
}

// FromContents builds a brain from decoded file contents.
func FromContents(c *brainfmt.Contents) *Brain {
	b := &Brain{
		graph:      c.Graph,
		patterns:   c.Patterns,
		controller: control.New(),
		rules:      c.Rules,
	}
	b.controller.Restore(c.State.ErrorRate, c.State.Confidence, c.State.Loop)
	return b
}

// SaveTo writes the brain to w in brain file format.
func (b *Brain) SaveTo(w io.Writer) error {
	return brainfmt.Encode(w, b.Contents())
}

// Save writes the brain to path, replacing any previous file.
func (b *Brain) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create brain file: %w", err)
	}
	if err := b.SaveTo(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close brain file: %w", err)
	}
	return nil
}

// LoadFrom reads a brain from r. Diagnostics list every line the decoder
// skipped or adjusted.
func LoadFrom(r io.Reader) (*Brain, []brainfmt.Diagnostic, error) {
	c, diags, err := brainfmt.Decode(r)
	if err != nil {
		return nil, nil, err
	}
	return FromContents(c), diags, nil
}

// Load reads a brain from path. A missing file is ErrBrainNotFound; the
// caller decides whether that means "start fresh" or "abort".
func Load(path string) (*Brain, []brainfmt.Diagnostic, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrBrainNotFound, path)
		}
		return nil, nil, fmt.Errorf("open brain file: %w", err)
	}
	defer f.Close()

	b, diags, err := LoadFrom(f)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range diags {
		logging.Warn("brain file line skipped", map[string]interface{}{
			"line":   d.Line,
			"reason": d.Reason,
		})
	}
	return b, diags, nil
}
