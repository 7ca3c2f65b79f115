// Package pattern implements Muninn's pattern store: learned sequence
// completions that sit one level above raw edge weights.
//
// A pattern says "when the recent output ends with this context, the next
// symbol is probably X". Contexts are short token sequences; a token is
// either a literal symbol or a wildcard that matches exactly one arbitrary
// symbol. Wildcards are how the engine generalizes: two literal patterns
// that agree everywhere except one position and predict the same symbol
// merge into a single wildcard pattern.
//
// Pattern strength lives in [0, 1] and doubles as the utility signal the
// learning controller reads. Firing is rationed per episode so a single
// strong pattern cannot flood the output.
package pattern

import (
	"errors"
	"sort"
	"strings"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/graph"
)

// Errors for pattern operations.
var (
	ErrNotEligible = errors.New("pattern not eligible to fire")
)

// Kind discriminates literal patterns from wildcard-generalized ones.
type Kind string

const (
	KindLiteral     Kind = "literal"
	KindGeneralized Kind = "generalized"
)

// WildcardRune is how a wildcard token is written in brain files. A literal
// underscore in training data is therefore not representable inside a
// pattern context; inputs containing underscores still train edges normally.
const WildcardRune = '_'

// InitialStrength is the strength a freshly learned pattern starts at.
const InitialStrength = 0.5

// StrengthMax bounds pattern strength.
const StrengthMax = 1.0

// Token is one position of a pattern context.
type Token struct {
	Symbol   graph.Symbol
	Wildcard bool
}

// Pattern is a learned context -> prediction rule.
type Pattern struct {
	Context   []Token
	Predicted graph.Symbol
	Strength  float64
	Kind      Kind

	fireCount    int
	lastFiredPos int
}

// Matches reports whether the trailing symbols of window satisfy the
// pattern's context. A wildcard consumes exactly one symbol.
func (p *Pattern) Matches(window []graph.Symbol) bool {
	n := len(p.Context)
	if len(window) < n {
		return false
	}
	tail := window[len(window)-n:]
	for i, tok := range p.Context {
		if tok.Wildcard {
			continue
		}
		if tail[i] != tok.Symbol {
			return false
		}
	}
	return true
}

// ContextString renders the context with wildcards as underscores, the same
// encoding used in brain files.
func (p *Pattern) ContextString() string {
	var b strings.Builder
	for _, tok := range p.Context {
		if tok.Wildcard {
			b.WriteRune(WildcardRune)
		} else {
			b.WriteRune(rune(tok.Symbol))
		}
	}
	return b.String()
}

// FireCount returns how many times the pattern fired this episode.
func (p *Pattern) FireCount() int { return p.fireCount }

// ParseContext converts a brain-file context string into tokens,
// interpreting underscores as wildcards.
func ParseContext(s string) []Token {
	var tokens []Token
	for _, r := range s {
		if r == WildcardRune {
			tokens = append(tokens, Token{Wildcard: true})
		} else {
			tokens = append(tokens, Token{Symbol: graph.Symbol(r)})
		}
	}
	return tokens
}

// LiteralContext converts plain symbols into literal tokens.
func LiteralContext(symbols []graph.Symbol) []Token {
	tokens := make([]Token, len(symbols))
	for i, s := range symbols {
		tokens[i] = Token{Symbol: s}
	}
	return tokens
}

func kindOf(context []Token) Kind {
	for _, tok := range context {
		if tok.Wildcard {
			return KindGeneralized
		}
	}
	return KindLiteral
}

func key(context []Token, predicted graph.Symbol) string {
	var b strings.Builder
	for _, tok := range context {
		if tok.Wildcard {
			b.WriteRune(WildcardRune)
		} else {
			b.WriteRune(rune(tok.Symbol))
		}
	}
	b.WriteRune(0)
	b.WriteRune(rune(predicted))
	return b.String()
}

// LearnResult describes what Learn did, so the caller can feed the
// controller's pattern-confidence signal.
type LearnResult struct {
	// Created is true when a new pattern was inserted.
	Created bool
	// Reinforced is true when an identical pattern already existed and was
	// strengthened, evidence that its prediction keeps matching targets.
	Reinforced bool
	// Conflicted is true when another pattern with the same context but a
	// different prediction was weakened.
	Conflicted bool
}

// Store holds all patterns with their firing state.
type Store struct {
	patterns []*Pattern
	byKey    map[string]*Pattern

	// FireThreshold is the minimum strength required to fire.
	FireThreshold float64
	// Policy is one of config.FireOncePerEpisode / FireOncePerPosition.
	Policy string
}

// NewStore returns an empty store with the given firing threshold and
// policy.
func NewStore(fireThreshold float64, policy string) *Store {
	return &Store{
		byKey:         make(map[string]*Pattern),
		FireThreshold: fireThreshold,
		Policy:        policy,
	}
}

// Len returns the number of patterns.
func (s *Store) Len() int { return len(s.patterns) }

// Patterns returns all patterns sorted by context length, context string
// and prediction. The slice is a copy; the patterns are not.
func (s *Store) Patterns() []*Pattern {
	out := make([]*Pattern, len(s.patterns))
	copy(out, s.patterns)
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Context) != len(out[j].Context) {
			return len(out[i].Context) < len(out[j].Context)
		}
		ci, cj := out[i].ContextString(), out[j].ContextString()
		if ci != cj {
			return ci < cj
		}
		return out[i].Predicted < out[j].Predicted
	})
	return out
}

// Add inserts a pattern, or reinforces the existing one when an identical
// context and prediction is already stored. Used by the brain file loader
// and by Merge; Learn is the training-time entry point.
func (s *Store) Add(context []Token, predicted graph.Symbol, strength float64) *Pattern {
	k := key(context, predicted)
	if existing, ok := s.byKey[k]; ok {
		if strength > existing.Strength {
			existing.Strength = clampStrength(strength)
		}
		return existing
	}
	p := &Pattern{
		Context:      append([]Token(nil), context...),
		Predicted:    predicted,
		Strength:     clampStrength(strength),
		Kind:         kindOf(context),
		lastFiredPos: -1,
	}
	s.patterns = append(s.patterns, p)
	s.byKey[k] = p
	return p
}

// Learn inserts or reinforces the literal pattern context -> predicted.
// Patterns that share the context but predict something else are weakened,
// which is how stale completions fade once evidence turns against them.
func (s *Store) Learn(context []graph.Symbol, predicted graph.Symbol, delta float64) LearnResult {
	var res LearnResult
	tokens := LiteralContext(context)
	ctxStr := (&Pattern{Context: tokens}).ContextString()

	for _, p := range s.patterns {
		if p.Kind != KindLiteral || p.Predicted == predicted {
			continue
		}
		if p.ContextString() == ctxStr {
			p.Strength = clampStrength(p.Strength - delta*p.Strength)
			res.Conflicted = true
		}
	}

	k := key(tokens, predicted)
	if existing, ok := s.byKey[k]; ok {
		existing.Strength = clampStrength(existing.Strength + delta*(StrengthMax-existing.Strength))
		res.Reinforced = true
		return res
	}

	s.Add(tokens, predicted, InitialStrength)
	res.Created = true
	return res
}

// Match returns every pattern whose context matches the trailing window,
// ranked longest context first, literal before generalized, then by context
// string and prediction so ordering is stable.
func (s *Store) Match(window []graph.Symbol) []*Pattern {
	var matched []*Pattern
	for _, p := range s.patterns {
		if p.Matches(window) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if len(a.Context) != len(b.Context) {
			return len(a.Context) > len(b.Context)
		}
		if a.Kind != b.Kind {
			return a.Kind == KindLiteral
		}
		ca, cb := a.ContextString(), b.ContextString()
		if ca != cb {
			return ca < cb
		}
		return a.Predicted < b.Predicted
	})
	return matched
}

// Eligible reports whether p may fire at output position pos under the
// store's threshold and fire policy.
func (s *Store) Eligible(p *Pattern, pos int) bool {
	if p.Strength < s.FireThreshold {
		return false
	}
	switch s.Policy {
	case config.FireOncePerPosition:
		return p.lastFiredPos != pos
	default: // config.FireOncePerEpisode
		return p.fireCount == 0
	}
}

// Fire marks p as fired at pos and returns its prediction. Returns
// ErrNotEligible when the threshold or fire policy forbids it.
func (s *Store) Fire(p *Pattern, pos int) (graph.Symbol, error) {
	if !s.Eligible(p, pos) {
		return 0, ErrNotEligible
	}
	p.fireCount++
	p.lastFiredPos = pos
	return p.Predicted, nil
}

// ResetEpisode clears per-episode firing state on every pattern.
func (s *Store) ResetEpisode() {
	for _, p := range s.patterns {
		p.fireCount = 0
		p.lastFiredPos = -1
	}
}

// Merge generalizes the store: every pair of equal-length literal patterns
// that predict the same symbol and differ in exactly one context position
// produces a wildcard pattern at that position, with the weaker parent's
// strength. Parents are kept. Running Merge twice in a row creates nothing
// new the second time.
func (s *Store) Merge() int {
	literals := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.Patterns() {
		if p.Kind == KindLiteral {
			literals = append(literals, p)
		}
	}

	created := 0
	for i := 0; i < len(literals); i++ {
		for j := i + 1; j < len(literals); j++ {
			a, b := literals[i], literals[j]
			if a.Predicted != b.Predicted || len(a.Context) != len(b.Context) {
				continue
			}
			diff := -1
			for k := range a.Context {
				if a.Context[k].Symbol != b.Context[k].Symbol {
					if diff >= 0 {
						diff = -2
						break
					}
					diff = k
				}
			}
			if diff < 0 {
				continue
			}
			merged := append([]Token(nil), a.Context...)
			merged[diff] = Token{Wildcard: true}
			if _, ok := s.byKey[key(merged, a.Predicted)]; ok {
				continue
			}
			strength := a.Strength
			if b.Strength < strength {
				strength = b.Strength
			}
			s.Add(merged, a.Predicted, strength)
			created++
		}
	}
	return created
}

// Prune drops every pattern whose strength fell below floor and returns the
// number removed.
func (s *Store) Prune(floor float64) int {
	kept := s.patterns[:0]
	removed := 0
	for _, p := range s.patterns {
		if p.Strength < floor {
			delete(s.byKey, key(p.Context, p.Predicted))
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.patterns = kept
	return removed
}

// AverageStrength returns the mean strength across all patterns, or 0 for
// an empty store. The controller reads this as raw pattern confidence.
func (s *Store) AverageStrength() float64 {
	if len(s.patterns) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range s.patterns {
		sum += p.Strength
	}
	return sum / float64(len(s.patterns))
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > StrengthMax {
		return StrengthMax
	}
	return v
}
