// Package eval provides an evaluation harness for Muninn brains.
//
// The harness answers "did training actually work?" in a repeatable way.
// A scenario lists training pairs, how many rounds to run them, and probes:
// inputs whose generated output must end with an expected suffix. The
// harness trains a fresh brain per scenario, runs the probes, and reports
// pass rates alongside the controller's final pressures.
//
// Example usage:
//
//	h := eval.NewHarness()
//	h.AddScenario(eval.Scenario{
//	    Name:     "plural suffix",
//	    Pairs:    []eval.Pair{{Input: "cat", Target: "cats"}},
//	    Rounds:   30,
//	    Probes:   []eval.Probe{{Input: "cat", WantSuffix: "s"}},
//	})
//	report := h.Run()
//	eval.WriteReport(os.Stdout, report)
package eval

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/muninn"
)

// Pair is one training mapping.
type Pair struct {
	Input  string `json:"input"`
	Target string `json:"target"`
}

// Probe checks generated output after training.
type Probe struct {
	Input string `json:"input"`
	// WantSuffix must terminate the generated output. Empty means the
	// probe only requires non-empty output.
	WantSuffix string `json:"want_suffix"`
}

// Scenario is one self-contained evaluation case.
type Scenario struct {
	Name string `json:"name"`
	// Pairs are trained round-robin, Rounds times each.
	Pairs  []Pair  `json:"pairs"`
	Rounds int     `json:"rounds"`
	Probes []Probe `json:"probes"`
	// Rules overrides the default rule set when non-nil.
	Rules *config.Rules `json:"rules,omitempty"`
}

// ProbeResult is the outcome of a single probe.
type ProbeResult struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Want   string `json:"want_suffix"`
	Passed bool   `json:"passed"`
}

// ScenarioResult aggregates one scenario.
type ScenarioResult struct {
	Name       string        `json:"name"`
	Probes     []ProbeResult `json:"probes"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	ErrorRate  float64       `json:"error_rate"`
	Confidence float64       `json:"confidence"`
	Patterns   int           `json:"patterns"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Report is the outcome of a full harness run.
type Report struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// PassRate returns the fraction of probes that passed, 1.0 for an empty
// report.
func (r Report) PassRate() float64 {
	total := r.Passed + r.Failed
	if total == 0 {
		return 1.0
	}
	return float64(r.Passed) / float64(total)
}

// Harness runs scenarios against fresh brains.
type Harness struct {
	scenarios []Scenario
}

// NewHarness returns an empty harness.
func NewHarness() *Harness {
	return &Harness{}
}

// AddScenario appends a scenario to the run list.
func (h *Harness) AddScenario(s Scenario) {
	h.scenarios = append(h.scenarios, s)
}

// Run trains and probes every scenario and returns the aggregate report.
// Each scenario gets its own brain, so scenarios never contaminate each
// other.
func (h *Harness) Run() Report {
	var report Report
	for _, scenario := range h.scenarios {
		res := h.runScenario(scenario)
		report.Scenarios = append(report.Scenarios, res)
		report.Passed += res.Passed
		report.Failed += res.Failed
	}
	return report
}

func (h *Harness) runScenario(s Scenario) ScenarioResult {
	start := time.Now()

	rules := config.DefaultRules()
	if s.Rules != nil {
		rules = *s.Rules
	}
	brain := muninn.NewWithRules(rules)

	rounds := s.Rounds
	if rounds < 1 {
		rounds = 1
	}
	for i := 0; i < rounds; i++ {
		for _, pair := range s.Pairs {
			brain.Train(pair.Input, pair.Target)
		}
	}

	res := ScenarioResult{Name: s.Name}
	for _, probe := range s.Probes {
		output := brain.Infer(probe.Input)
		passed := output != "" && strings.HasSuffix(output, probe.WantSuffix)
		res.Probes = append(res.Probes, ProbeResult{
			Input:  probe.Input,
			Output: output,
			Want:   probe.WantSuffix,
			Passed: passed,
		})
		if passed {
			res.Passed++
		} else {
			res.Failed++
		}
	}

	res.ErrorRate = brain.ErrorRate()
	res.Confidence = brain.Pressures().PatternConfidence
	res.Patterns = brain.PatternCount()
	res.Elapsed = time.Since(start)
	return res
}

// WriteReport renders a report as an aligned text table.
func WriteReport(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tPROBES\tPASSED\tFAILED\tERR\tCONF\tPATTERNS")
	for _, s := range r.Scenarios {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%d\n",
			s.Name, len(s.Probes), s.Passed, s.Failed, s.ErrorRate, s.Confidence, s.Patterns)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t\t\t\n", r.Passed+r.Failed, r.Passed, r.Failed)
	return tw.Flush()
}
