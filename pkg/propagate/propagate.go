// Package propagate implements wave propagation: how Muninn turns seeded
// input energy into an output symbol sequence.
//
// Each emitted symbol is the result of one Step. A step runs a fixed number
// of propagation rounds in which node energy decays and spreads along
// weighted edges, then fires the patterns matching the trailing window,
// which inject energy into their predicted nodes. The step finally selects
// the highest scoring node at or above its threshold, where the score is
// the node's energy discounted by a recency penalty plus a
// confidence-scaled bonus for symbols a pattern just predicted.
//
// Generation terminates when the output reaches its maximum length, when no
// node clears its threshold, or when the end-of-sequence symbol wins
// selection. The propagator never blocks and never loops forever.
package propagate

import (
	"errors"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/pool"
)

// Errors for propagation. Both are normal terminations, not failures.
var (
	ErrNoEligibleSymbol = errors.New("no symbol above threshold")
	ErrEndOfSequence    = errors.New("end of sequence")
	ErrTerminated       = errors.New("propagation already terminated")
)

// State tracks where the propagator is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateSeeded
	StatePropagating
	StateSymbolEmitted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSeeded:
		return "seeded"
	case StatePropagating:
		return "propagating"
	case StateSymbolEmitted:
		return "symbol-emitted"
	case StateTerminated:
		return "terminated"
	default:
		return "idle"
	}
}

// Fired records one pattern firing during generation.
type Fired struct {
	Pattern   *pattern.Pattern
	Pos       int
	Predicted graph.Symbol
}

// Propagator drives one episode's worth of generation over a shared graph
// and pattern store. Create a fresh one per episode.
type Propagator struct {
	g     *graph.Graph
	store *pattern.Store
	rules config.Rules

	// confidence is the controller's pattern confidence at episode start.
	// It scales how hard fired predictions push on selection.
	confidence float64

	input        []graph.Symbol
	output       []graph.Symbol
	fired        []Fired
	bonuses      map[graph.Symbol]float64
	state        State
	loopDetected bool
}

// New returns a propagator over g and store using the given rules.
func New(g *graph.Graph, store *pattern.Store, rules config.Rules, confidence float64) *Propagator {
	return &Propagator{
		g:          g,
		store:      store,
		rules:      rules,
		confidence: confidence,
	}
}

// Seed resets all node energies and injects the input as the initial wave.
// Earlier input symbols receive more energy than later ones so the seed
// carries ordering. Seeding twice restarts generation from scratch.
func (p *Propagator) Seed(input []graph.Symbol) {
	p.g.ResetEnergies()
	p.input = append([]graph.Symbol(nil), input...)
	p.output = nil
	p.fired = nil
	p.loopDetected = false

	n := len(input)
	for i, s := range input {
		e := p.rules.SeedEnergy * float64(n-i) / float64(n)
		if e > p.g.Energy(s) {
			p.g.SetEnergy(s, e)
		}
	}
	p.state = StateSeeded
}

// Step runs one full propagation step and emits at most one symbol.
// Termination is reported through ErrNoEligibleSymbol or ErrEndOfSequence;
// both leave the propagator in StateTerminated.
func (p *Propagator) Step() (graph.Symbol, error) {
	if p.state == StateTerminated {
		return 0, ErrTerminated
	}
	p.state = StatePropagating
	p.bonuses = make(map[graph.Symbol]float64)

	for r := 0; r < p.rules.WavePropSteps; r++ {
		p.round()
	}
	p.firePatterns(len(p.output))

	winner, ok := p.selectSymbol()
	if !ok {
		p.state = StateTerminated
		return 0, ErrNoEligibleSymbol
	}
	if winner == graph.Symbol(p.rules.EndMarker) {
		p.state = StateTerminated
		return 0, ErrEndOfSequence
	}

	p.output = append(p.output, winner)
	if n, err := p.g.Node(winner); err == nil {
		n.Energy = graph.ClampEnergy(n.Energy * p.rules.RefractoryFactor)
	}
	p.detectLoop()
	if len(p.output) >= p.rules.MaxOutputLen {
		p.state = StateTerminated
	} else {
		p.state = StateSymbolEmitted
	}
	return winner, nil
}

// Run steps until termination and returns the full output.
func (p *Propagator) Run() []graph.Symbol {
	for p.state != StateTerminated {
		if _, err := p.Step(); err != nil {
			break
		}
	}
	return p.Output()
}

// Output returns a copy of the symbols emitted so far.
func (p *Propagator) Output() []graph.Symbol {
	return append([]graph.Symbol(nil), p.output...)
}

// State returns the current lifecycle state.
func (p *Propagator) State() State { return p.state }

// LoopDetected reports whether generation fell into a repeating cycle.
func (p *Propagator) LoopDetected() bool { return p.loopDetected }

// FiredEvents returns every pattern firing of this episode in order.
func (p *Propagator) FiredEvents() []Fired {
	return append([]Fired(nil), p.fired...)
}

// firePatterns matches patterns against the trailing window of input plus
// output and fires the eligible ones. A firing pattern injects energy into
// its predicted node and registers a selection bonus for this step.
func (p *Propagator) firePatterns(pos int) {
	window := pool.GetSymbolSlice()
	defer func() { pool.PutSymbolSlice(window) }()
	window = append(window, p.input...)
	window = append(window, p.output...)

	for _, m := range p.store.Match(window) {
		predicted, err := p.store.Fire(m, pos)
		if err != nil {
			continue
		}
		p.g.EnsureNode(predicted)
		p.g.SetEnergy(predicted, p.g.Energy(predicted)+p.rules.BoostFactor*m.Strength)

		bonus := p.rules.PatternWeight * m.Strength * p.confidence
		if bonus > p.bonuses[predicted] {
			p.bonuses[predicted] = bonus
		}
		p.fired = append(p.fired, Fired{Pattern: m, Pos: pos, Predicted: predicted})
	}
}

// round advances the wave one tick: retained energy plus inflow over edges.
// Iteration is over sorted nodes and edges so summation order, and with it
// the float result, is identical across runs.
func (p *Propagator) round() {
	nodes := p.g.Nodes()
	cur := pool.GetEnergyMap()
	defer pool.PutEnergyMap(cur)
	for _, n := range nodes {
		cur[n.Symbol] = n.Energy
	}

	next := pool.GetEnergyMap()
	defer pool.PutEnergyMap(next)
	for _, n := range nodes {
		next[n.Symbol] = p.rules.EnergyRetain * cur[n.Symbol]
	}
	for _, e := range p.g.Edges() {
		next[e.To] += cur[e.From] * e.Weight * p.rules.SpreadFactor
	}
	for _, n := range nodes {
		n.Energy = graph.ClampEnergy(next[n.Symbol])
	}
}

// selectSymbol picks the emission: highest penalized score among nodes at
// or above threshold, ties broken toward the lowest symbol.
func (p *Propagator) selectSymbol() (graph.Symbol, bool) {
	var winner graph.Symbol
	best := -1.0
	found := false

	for _, n := range p.g.Nodes() {
		if n.Energy < n.Threshold {
			continue
		}
		score := n.Energy*(1-p.penalty(n.Symbol)) + p.bonuses[n.Symbol]
		if p.loopDetected && p.inRecentOutput(n.Symbol, 3) {
			score *= 0.1
		}
		if score > best {
			best = score
			winner = n.Symbol
			found = true
		}
	}
	return winner, found
}

// penalty discounts symbols that appear in the trailing history window of
// input plus output. Recent occurrences weigh more. Capped at 0.9 so even a
// droning symbol keeps a sliver of score.
func (p *Propagator) penalty(s graph.Symbol) float64 {
	window := p.rules.HistoryWindow
	history := pool.GetSymbolSlice()
	defer func() { pool.PutSymbolSlice(history) }()
	history = append(history, p.input...)
	history = append(history, p.output...)
	if len(history) > window {
		history = history[len(history)-window:]
	}

	total := 0.0
	for i, h := range history {
		if h != s {
			continue
		}
		age := len(history) - i // 1 = most recent
		total += p.rules.RecencyWeight * float64(window-age+1) / float64(window)
	}
	if total > 0.9 {
		total = 0.9
	}
	return total
}

func (p *Propagator) inRecentOutput(s graph.Symbol, n int) bool {
	start := len(p.output) - n
	if start < 0 {
		start = 0
	}
	for _, o := range p.output[start:] {
		if o == s {
			return true
		}
	}
	return false
}

// detectLoop looks for a repeating cycle of period 1 to 3 at the end of the
// output. Once set, the flag sticks for the rest of the episode.
func (p *Propagator) detectLoop() {
	if p.loopDetected {
		return
	}
	n := len(p.output)
	for period := 1; period <= 3; period++ {
		if n < 2*period {
			continue
		}
		match := true
		for i := 0; i < period; i++ {
			if p.output[n-1-i] != p.output[n-1-period-i] {
				match = false
				break
			}
		}
		if match {
			p.loopDetected = true
			return
		}
	}
}
