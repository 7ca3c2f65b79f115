// Package brainfmt reads and writes Muninn brain files.
//
// A brain file is human-readable, line-oriented text. Blank lines and lines
// starting with '#' are ignored. Four record kinds describe the engine and
// one carries controller state:
//
//	rule pattern_fire_threshold:0.3000
//	state error:1.0000 confidence:0.0000 loop:0.0000
//	node 'c' energy:0.0000 threshold:0.1000
//	edge 'c' -> 'a' weight:0.3100
//	pattern "c_t" -> "s" context:generalized strength:0.8000
//
// Node symbols are single-quoted rune literals; pattern contexts and
// predictions are double-quoted strings with underscores marking wildcard
// positions. Records may appear in any order.
//
// Decoding is tolerant: malformed lines, unknown record kinds, and
// out-of-range values never abort a load. Each problem is skipped or
// clamped and reported as a Diagnostic so callers can log what was dropped.
// Only an unreadable stream is a hard error.
package brainfmt

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/graph"
	"github.com/orneryd/muninn/pkg/pattern"
)

// Header is the comment line Encode writes first. Decode does not require
// it.
const Header = "# muninn brain v1"

// Diagnostic describes one line the decoder could not fully honor.
type Diagnostic struct {
	Line   int    // 1-based line number
	Text   string // the offending line, trimmed
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s (%q)", d.Line, d.Reason, d.Text)
}

// ControllerState is the smoothed learning state carried between sessions.
type ControllerState struct {
	ErrorRate  float64
	Confidence float64
	Loop       float64
}

// Contents is everything a brain file holds.
type Contents struct {
	Graph    *graph.Graph
	Patterns *pattern.Store
	Rules    config.Rules
	State    ControllerState
}

// NewContents returns empty contents with default rules, the state a brand
// new brain starts from.
func NewContents() *Contents {
	rules := config.DefaultRules()
	return &Contents{
		Graph:    graph.New(),
		Patterns: pattern.NewStore(rules.PatternFireThreshold, rules.FirePolicy),
		Rules:    rules,
		State:    ControllerState{ErrorRate: 1.0},
	}
}

// Encode writes c to w in brain file format. Rules come first so a human
// skimming the file sees the knobs before the bulk, then state, nodes,
// edges, and patterns in deterministic sorted order.
func Encode(w io.Writer, c *Contents) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, Header)
	r := c.Rules
	fmt.Fprintf(bw, "rule pattern_fire_threshold:%.4f\n", r.PatternFireThreshold)
	fmt.Fprintf(bw, "rule wave_prop_steps:%d\n", r.WavePropSteps)
	fmt.Fprintf(bw, "rule max_output_len:%d\n", r.MaxOutputLen)
	fmt.Fprintf(bw, "rule energy_retain:%.4f\n", r.EnergyRetain)
	fmt.Fprintf(bw, "rule spread_factor:%.4f\n", r.SpreadFactor)
	fmt.Fprintf(bw, "rule boost_factor:%.4f\n", r.BoostFactor)
	fmt.Fprintf(bw, "rule pattern_weight:%.4f\n", r.PatternWeight)
	fmt.Fprintf(bw, "rule recency_weight:%.4f\n", r.RecencyWeight)
	fmt.Fprintf(bw, "rule history_window:%d\n", r.HistoryWindow)
	fmt.Fprintf(bw, "rule refractory_factor:%.4f\n", r.RefractoryFactor)
	fmt.Fprintf(bw, "rule seed_energy:%.4f\n", r.SeedEnergy)
	fmt.Fprintf(bw, "rule edge_delta:%.4f\n", r.EdgeDelta)
	fmt.Fprintf(bw, "rule base_learning_rate:%.4f\n", r.BaseLearningRate)
	fmt.Fprintf(bw, "rule prune_floor:%.4f\n", r.PruneFloor)
	fmt.Fprintf(bw, "rule fire_policy:%s\n", r.FirePolicy)
	fmt.Fprintf(bw, "rule end_marker:%d\n", r.EndMarker)

	fmt.Fprintf(bw, "state error:%.4f confidence:%.4f loop:%.4f\n",
		c.State.ErrorRate, c.State.Confidence, c.State.Loop)

	for _, n := range c.Graph.Nodes() {
		fmt.Fprintf(bw, "node %s energy:%.4f threshold:%.4f\n",
			strconv.QuoteRune(rune(n.Symbol)), n.Energy, n.Threshold)
	}
	for _, e := range c.Graph.Edges() {
		fmt.Fprintf(bw, "edge %s -> %s weight:%.4f\n",
			strconv.QuoteRune(rune(e.From)), strconv.QuoteRune(rune(e.To)), e.Weight)
	}
	for _, p := range c.Patterns.Patterns() {
		fmt.Fprintf(bw, "pattern %s -> %s context:%s strength:%.4f\n",
			strconv.Quote(p.ContextString()), strconv.Quote(string(rune(p.Predicted))),
			p.Kind, p.Strength)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write brain: %w", err)
	}
	return nil
}

var (
	ruleRe    = regexp.MustCompile(`^rule\s+([a-z_]+):(\S+)$`)
	stateRe   = regexp.MustCompile(`^state\s+error:(\S+)\s+confidence:(\S+)\s+loop:(\S+)$`)
	nodeRe    = regexp.MustCompile(`^node\s+('(?:[^'\\]|\\.)+')\s+energy:(\S+)\s+threshold:(\S+)$`)
	edgeRe    = regexp.MustCompile(`^edge\s+('(?:[^'\\]|\\.)+')\s+->\s+('(?:[^'\\]|\\.)+')\s+weight:(\S+)$`)
	patternRe = regexp.MustCompile(`^pattern\s+("(?:[^"\\]|\\.)*")\s+->\s+("(?:[^"\\]|\\.)*")\s+context:(\S+)\s+strength:(\S+)$`)
)

// decoder accumulates contents and diagnostics line by line.
type decoder struct {
	c     *Contents
	diags []Diagnostic
}

// Decode parses a brain file. The returned diagnostics list every line that
// was skipped or adjusted; it is empty for a clean file. A read failure on
// the underlying stream is the only hard error and yields no contents.
func Decode(r io.Reader) (*Contents, []Diagnostic, error) {
	d := &decoder{c: NewContents()}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d.line(lineNo, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read brain: %w", err)
	}

	// The store's firing gate follows whatever rules the file carried.
	d.c.Patterns.FireThreshold = d.c.Rules.PatternFireThreshold
	d.c.Patterns.Policy = d.c.Rules.FirePolicy
	return d.c, d.diags, nil
}

func (d *decoder) skip(lineNo int, line, reason string) {
	d.diags = append(d.diags, Diagnostic{Line: lineNo, Text: line, Reason: reason})
}

func (d *decoder) line(lineNo int, line string) {
	switch {
	case strings.HasPrefix(line, "rule "):
		d.rule(lineNo, line)
	case strings.HasPrefix(line, "state "):
		d.state(lineNo, line)
	case strings.HasPrefix(line, "node "):
		d.node(lineNo, line)
	case strings.HasPrefix(line, "edge "):
		d.edge(lineNo, line)
	case strings.HasPrefix(line, "pattern "):
		d.pattern(lineNo, line)
	default:
		d.skip(lineNo, line, "unknown record kind")
	}
}

func (d *decoder) rule(lineNo int, line string) {
	m := ruleRe.FindStringSubmatch(line)
	if m == nil {
		d.skip(lineNo, line, "malformed rule record")
		return
	}
	name, value := m[1], m[2]

	setFloat := func(dst *float64, min, max float64) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			d.skip(lineNo, line, "rule value is not a number")
			return
		}
		if f < min || f > max {
			clamped := f
			if clamped < min {
				clamped = min
			}
			if clamped > max {
				clamped = max
			}
			d.skip(lineNo, line, fmt.Sprintf("rule %s out of range, clamped to %.4f", name, clamped))
			f = clamped
		}
		*dst = f
	}
	setInt := func(dst *int, min int) {
		i, err := strconv.Atoi(value)
		if err != nil {
			d.skip(lineNo, line, "rule value is not an integer")
			return
		}
		if i < min {
			d.skip(lineNo, line, fmt.Sprintf("rule %s below minimum, clamped to %d", name, min))
			i = min
		}
		*dst = i
	}

	r := &d.c.Rules
	switch name {
	case "pattern_fire_threshold":
		setFloat(&r.PatternFireThreshold, 0, 1)
	case "wave_prop_steps":
		setInt(&r.WavePropSteps, 1)
	case "max_output_len":
		setInt(&r.MaxOutputLen, 1)
	case "energy_retain":
		setFloat(&r.EnergyRetain, 0, 1)
	case "spread_factor":
		setFloat(&r.SpreadFactor, 0, 1)
	case "boost_factor":
		setFloat(&r.BoostFactor, 0, 10)
	case "pattern_weight":
		setFloat(&r.PatternWeight, 0, 10)
	case "recency_weight":
		setFloat(&r.RecencyWeight, 0, 1)
	case "history_window":
		setInt(&r.HistoryWindow, 1)
	case "refractory_factor":
		setFloat(&r.RefractoryFactor, 0, 1)
	case "seed_energy":
		setFloat(&r.SeedEnergy, 0, 1)
	case "edge_delta":
		setFloat(&r.EdgeDelta, 0, 1)
	case "base_learning_rate":
		setFloat(&r.BaseLearningRate, 0, 1)
	case "prune_floor":
		setFloat(&r.PruneFloor, 0, 1)
	case "fire_policy":
		if value != config.FireOncePerEpisode && value != config.FireOncePerPosition {
			d.skip(lineNo, line, "unknown fire_policy")
			return
		}
		r.FirePolicy = value
	case "end_marker":
		cp, err := strconv.Atoi(value)
		if err != nil || cp < 0 {
			d.skip(lineNo, line, "end_marker is not a code point")
			return
		}
		r.EndMarker = rune(cp)
	default:
		d.skip(lineNo, line, "unknown rule")
	}
}

func (d *decoder) state(lineNo int, line string) {
	m := stateRe.FindStringSubmatch(line)
	if m == nil {
		d.skip(lineNo, line, "malformed state record")
		return
	}
	vals := make([]float64, 3)
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			d.skip(lineNo, line, "state value is not a number")
			return
		}
		if f < 0 || f > 1 {
			if f < 0 {
				f = 0
			} else {
				f = 1
			}
			d.skip(lineNo, line, "state value out of range, clamped")
		}
		vals[i] = f
	}
	d.c.State = ControllerState{ErrorRate: vals[0], Confidence: vals[1], Loop: vals[2]}
}

func (d *decoder) unquoteRune(lineNo int, line, quoted string) (graph.Symbol, bool) {
	s, err := strconv.Unquote(quoted)
	if err != nil {
		d.skip(lineNo, line, "bad symbol literal")
		return 0, false
	}
	runes := []rune(s)
	if len(runes) != 1 {
		d.skip(lineNo, line, "symbol literal must be a single rune")
		return 0, false
	}
	return graph.Symbol(runes[0]), true
}

func (d *decoder) node(lineNo int, line string) {
	m := nodeRe.FindStringSubmatch(line)
	if m == nil {
		d.skip(lineNo, line, "malformed node record")
		return
	}
	sym, ok := d.unquoteRune(lineNo, line, m[1])
	if !ok {
		return
	}
	energy, err1 := strconv.ParseFloat(m[2], 64)
	threshold, err2 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil {
		d.skip(lineNo, line, "node values are not numbers")
		return
	}
	if energy < graph.EnergyMin || energy > graph.EnergyMax ||
		threshold < graph.EnergyMin || threshold > graph.EnergyMax {
		d.skip(lineNo, line, "node values out of range, clamped")
	}
	n := d.c.Graph.EnsureNode(sym)
	n.Energy = graph.ClampEnergy(energy)
	n.Threshold = graph.ClampEnergy(threshold)
}

func (d *decoder) edge(lineNo int, line string) {
	m := edgeRe.FindStringSubmatch(line)
	if m == nil {
		d.skip(lineNo, line, "malformed edge record")
		return
	}
	from, ok := d.unquoteRune(lineNo, line, m[1])
	if !ok {
		return
	}
	to, ok := d.unquoteRune(lineNo, line, m[2])
	if !ok {
		return
	}
	weight, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		d.skip(lineNo, line, "edge weight is not a number")
		return
	}
	if weight < graph.WeightMin || weight > graph.WeightMax {
		d.skip(lineNo, line, fmt.Sprintf("edge weight out of range, clamped to %.4f", graph.ClampWeight(weight)))
	}
	d.c.Graph.GetOrCreateEdge(from, to).Weight = graph.ClampWeight(weight)
}

func (d *decoder) pattern(lineNo int, line string) {
	m := patternRe.FindStringSubmatch(line)
	if m == nil {
		d.skip(lineNo, line, "malformed pattern record")
		return
	}
	ctxStr, err := strconv.Unquote(m[1])
	if err != nil || ctxStr == "" {
		d.skip(lineNo, line, "bad pattern context")
		return
	}
	predStr, err := strconv.Unquote(m[2])
	if err != nil {
		d.skip(lineNo, line, "bad pattern prediction")
		return
	}
	predRunes := []rune(predStr)
	if len(predRunes) != 1 {
		d.skip(lineNo, line, "pattern prediction must be a single rune")
		return
	}
	if k := m[3]; k != string(pattern.KindLiteral) && k != string(pattern.KindGeneralized) {
		d.skip(lineNo, line, "unknown pattern context kind")
		return
	}
	strength, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		d.skip(lineNo, line, "pattern strength is not a number")
		return
	}
	if strength < 0 || strength > pattern.StrengthMax {
		d.skip(lineNo, line, "pattern strength out of range, clamped")
		if strength < 0 {
			strength = 0
		} else {
			strength = pattern.StrengthMax
		}
	}
	d.c.Patterns.Add(pattern.ParseContext(ctxStr), graph.Symbol(predRunes[0]), strength)
}
