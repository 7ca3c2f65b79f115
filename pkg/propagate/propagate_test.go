package propagate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/pattern"
)

func symbols(s string) []graph.Symbol {
	out := make([]graph.Symbol, 0, len(s))
	for _, r := range s {
		out = append(out, graph.Symbol(r))
	}
	return out
}

func newFixture() (*graph.Graph, *pattern.Store, config.Rules) {
	rules := config.DefaultRules()
	g := graph.New()
	store := pattern.NewStore(rules.PatternFireThreshold, rules.FirePolicy)
	return g, store, rules
}

func TestPropagator_Seed(t *testing.T) {
	t.Run("descending_energy_gradient", func(t *testing.T) {
		g, store, rules := newFixture()
		p := New(g, store, rules, 0)
		p.Seed(symbols("cat"))

		assert.Equal(t, StateSeeded, p.State())
		assert.InDelta(t, 1.0, g.Energy('c'), 1e-9)
		assert.InDelta(t, 2.0/3.0, g.Energy('a'), 1e-9)
		assert.InDelta(t, 1.0/3.0, g.Energy('t'), 1e-9)
	})

	t.Run("reseeding_clears_previous_wave", func(t *testing.T) {
		g, store, rules := newFixture()
		p := New(g, store, rules, 0)
		p.Seed(symbols("ab"))
		p.Seed(symbols("c"))

		assert.Equal(t, 0.0, g.Energy('a'))
		assert.Equal(t, 0.0, g.Energy('b'))
		assert.InDelta(t, 1.0, g.Energy('c'), 1e-9)
		assert.Empty(t, p.Output())
	})

	t.Run("empty_input_terminates_immediately", func(t *testing.T) {
		g, store, rules := newFixture()
		p := New(g, store, rules, 0)
		p.Seed(nil)

		out := p.Run()
		assert.Empty(t, out)
		assert.Equal(t, StateTerminated, p.State())
	})
}

func TestPropagator_Step(t *testing.T) {
	t.Run("strong_edge_pulls_successor", func(t *testing.T) {
		g, store, rules := newFixture()
		g.Reinforce('a', 'b', 1.0) // clamps to max weight

		p := New(g, store, rules, 0)
		p.Seed(symbols("a"))

		got, err := p.Step()
		require.NoError(t, err)
		assert.Equal(t, graph.Symbol('b'), got)
		assert.Equal(t, StateSymbolEmitted, p.State())
	})

	t.Run("exhausted_wave_terminates", func(t *testing.T) {
		g, store, rules := newFixture()
		p := New(g, store, rules, 0)
		p.Seed(symbols("a"))

		for p.State() != StateTerminated {
			if _, err := p.Step(); err != nil {
				assert.ErrorIs(t, err, ErrNoEligibleSymbol)
			}
		}
		_, err := p.Step()
		assert.ErrorIs(t, err, ErrTerminated)
	})

	t.Run("fired_pattern_wins_selection", func(t *testing.T) {
		g, store, rules := newFixture()
		store.Add(pattern.ParseContext("at"), 's', 1.0)

		p := New(g, store, rules, 1.0)
		p.Seed(symbols("cat"))

		got, err := p.Step()
		require.NoError(t, err)
		assert.Equal(t, graph.Symbol('s'), got)

		events := p.FiredEvents()
		require.Len(t, events, 1)
		assert.Equal(t, graph.Symbol('s'), events[0].Predicted)
		assert.Equal(t, 0, events[0].Pos)
	})

	t.Run("end_marker_terminates_without_emitting", func(t *testing.T) {
		g, store, rules := newFixture()
		store.Add(pattern.ParseContext("at"), 's', 1.0)
		store.Add(pattern.ParseContext("ts"), graph.Symbol(rules.EndMarker), 1.0)

		p := New(g, store, rules, 1.0)
		p.Seed(symbols("cat"))

		out := p.Run()
		assert.Equal(t, symbols("s"), out)
		assert.Equal(t, StateTerminated, p.State())
	})

	t.Run("weak_pattern_stays_quiet", func(t *testing.T) {
		g, store, rules := newFixture()
		store.Add(pattern.ParseContext("at"), 's', 0.05) // below fire threshold

		p := New(g, store, rules, 1.0)
		p.Seed(symbols("cat"))
		p.Step()

		assert.Empty(t, p.FiredEvents())
	})
}

func TestPropagator_FireOncePerEpisode(t *testing.T) {
	// The pattern matches again later in the episode but has spent its one
	// firing, so the prediction is not re-injected. This can truncate or
	// loop the output and is the documented behavior of the default policy.
	g, store, rules := newFixture()
	store.Add(pattern.ParseContext("at"), 's', 1.0)

	p := New(g, store, rules, 1.0)
	p.Seed(symbols("atat"))

	p.Run()
	fired := 0
	for _, ev := range p.FiredEvents() {
		if ev.Pattern.ContextString() == "at" {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestPropagator_Bounds(t *testing.T) {
	t.Run("output_never_exceeds_max_len", func(t *testing.T) {
		g, store, rules := newFixture()
		rules.MaxOutputLen = 5
		// A tight two-node cycle keeps energy alive indefinitely.
		g.Reinforce('a', 'b', 1.0)
		g.Reinforce('b', 'a', 1.0)

		p := New(g, store, rules, 0)
		p.Seed(symbols("ab"))

		out := p.Run()
		assert.LessOrEqual(t, len(out), 5)
		assert.Equal(t, StateTerminated, p.State())
	})

	t.Run("energies_stay_clamped", func(t *testing.T) {
		g, store, rules := newFixture()
		g.Reinforce('a', 'b', 1.0)
		g.Reinforce('b', 'a', 1.0)
		store.Add(pattern.ParseContext("ab"), 'a', 1.0)

		p := New(g, store, rules, 1.0)
		p.Seed(symbols("ab"))
		p.Run()

		for _, n := range g.Nodes() {
			assert.GreaterOrEqual(t, n.Energy, graph.EnergyMin)
			assert.LessOrEqual(t, n.Energy, graph.EnergyMax)
		}
	})
}

func TestPropagator_Determinism(t *testing.T) {
	build := func() *Propagator {
		g, store, rules := newFixture()
		g.Reinforce('c', 'a', 0.7)
		g.Reinforce('a', 't', 0.7)
		g.Reinforce('t', 's', 0.9)
		store.Add(pattern.ParseContext("at"), 's', 0.8)
		store.Add(pattern.ParseContext("ca"), 't', 0.8)
		return New(g, store, rules, 0.9)
	}

	p1 := build()
	p1.Seed(symbols("cat"))
	out1 := p1.Run()

	p2 := build()
	p2.Seed(symbols("cat"))
	out2 := p2.Run()

	assert.Equal(t, out1, out2)

	// Re-seeding the same propagator reproduces the run exactly, because
	// seeding resets energies and generation does not touch weights.
	p1.store.ResetEpisode()
	p1.Seed(symbols("cat"))
	assert.Equal(t, out1, p1.Run())
}

func TestPropagator_LoopDetection(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"period_one", "aa", true},
		{"period_two", "abab", true},
		{"period_three", "xyzxyz", true},
		{"no_repeat", "abcdef", false},
		{"too_short", "a", false},
		{"near_miss", "abaab", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, store, rules := newFixture()
			p := New(g, store, rules, 0)
			p.output = symbols(tt.output)
			p.detectLoop()
			assert.Equal(t, tt.want, p.LoopDetected())
		})
	}

	t.Run("flag_sticks_once_set", func(t *testing.T) {
		g, store, rules := newFixture()
		p := New(g, store, rules, 0)
		p.output = symbols("aa")
		p.detectLoop()
		require.True(t, p.LoopDetected())

		p.output = symbols("aabcdef")
		p.detectLoop()
		assert.True(t, p.LoopDetected())
	})
}
