// Package verify scores Python candidates with a fixed, model-independent
// rubric: a syntax gate followed by an ordered list of static checks.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("codemend.verify")

// Check names.
const (
	CheckSyntax         = "syntax"
	CheckCompile        = "compile"
	CheckUnboundNames   = "unbound_names"
	CheckLengthDivision = "length_division"
	CheckLoopMutation   = "loop_mutation"
)

// MaxUnboundNames caps how many names the unbound check reports.
const MaxUnboundNames = 5

// Weights assigns points to each rubric entry.
type Weights struct {
	Syntax         int `yaml:"syntax" json:"syntax" validate:"gte=0"`
	Compile        int `yaml:"compile" json:"compile" validate:"gte=0"`
	UnboundNames   int `yaml:"unbound_names" json:"unbound_names" validate:"gte=0"`
	LengthDivision int `yaml:"length_division" json:"length_division" validate:"gte=0"`
	LoopMutation   int `yaml:"loop_mutation" json:"loop_mutation" validate:"gte=0"`
}

// DefaultWeights is the 30/20/20/15/15 rubric.
func DefaultWeights() Weights {
	return Weights{Syntax: 30, Compile: 20, UnboundNames: 20, LengthDivision: 15, LoopMutation: 15}
}

// Total is the maximum achievable score for w.
func (w Weights) Total() int {
	return w.Syntax + w.Compile + w.UnboundNames + w.LengthDivision + w.LoopMutation
}

// Finding is a single problem reported by a check.
type Finding struct {
	Check   string
	Line    int
	Name    string
	Message string
}

// Check is one rubric entry after the syntax gate. Run must be pure.
type Check struct {
	Name      string
	Points    int
	Run       func(*Program) []Finding
	Summarize func([]Finding) string
}

// CheckResult records how a check scored.
type CheckResult struct {
	Name     string
	Passed   bool
	Points   int
	Findings []Finding
}

// Result is the verification record of one candidate.
type Result struct {
	SyntaxValid bool
	Importable  bool
	Score       int
	Issues      []string
	Checks      []CheckResult
}

// Passed reports whether the named check ran and passed.
func (r Result) Passed(name string) bool {
	for _, c := range r.Checks {
		if c.Name == name {
			return c.Passed
		}
	}
	return false
}

// Verifier runs the rubric. It holds no per-call state and may be shared.
type Verifier struct {
	syntaxPoints int
	checks       []Check
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWeights replaces the default weights of the built-in checks.
func WithWeights(w Weights) Option {
	return func(v *Verifier) {
		v.syntaxPoints = w.Syntax
		v.checks = builtinChecks(w)
	}
}

// WithCheck appends a custom check after the built-in ones.
func WithCheck(c Check) Option {
	return func(v *Verifier) {
		v.checks = append(v.checks, c)
	}
}

// NewVerifier builds a verifier with the default rubric.
func NewVerifier(opts ...Option) *Verifier {
	w := DefaultWeights()
	v := &Verifier{syntaxPoints: w.Syntax, checks: builtinChecks(w)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MaxScore is the score of a candidate passing every check.
func (v *Verifier) MaxScore() int {
	total := v.syntaxPoints
	for _, c := range v.checks {
		total += c.Points
	}
	return total
}

func builtinChecks(w Weights) []Check {
	return []Check{{
		Name:      CheckCompile,
		Points:    w.Compile,
		Run:       compileErrors,
		Summarize: summarizeCompile,
	}, {
		Name:      CheckUnboundNames,
		Points:    w.UnboundNames,
		Run:       unboundNames,
		Summarize: summarizeUnbound,
	}, {
		Name:      CheckLengthDivision,
		Points:    w.LengthDivision,
		Run:       lengthDivisions,
		Summarize: summarizeLines("Division by zero risk on lines"),
	}, {
		Name:      CheckLoopMutation,
		Points:    w.LoopMutation,
		Run:       loopMutations,
		Summarize: summarizeLines("List modification during iteration on lines"),
	}}
}

// Verify scores code. The same input always produces the same Result.
func (v *Verifier) Verify(ctx context.Context, code string) Result {
	_, span := tracer.Start(ctx, "verify.Verify", trace.WithAttributes(attribute.Int("code.bytes", len(code))))
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return syntaxFailure("empty candidate")
	}
	prog, err := ParsePython(ctx, code)
	if err != nil {
		return syntaxFailure(err.Error())
	}
	defer prog.Close()
	res := v.Score(prog)
	span.SetAttributes(attribute.Int("verify.score", res.Score), attribute.Bool("verify.syntax_valid", res.SyntaxValid))
	return res
}

// Score runs the rubric over an already parsed program.
func (v *Verifier) Score(prog *Program) Result {
	if !prog.Valid() {
		return syntaxFailure(prog.Errors[0].String())
	}
	res := Result{SyntaxValid: true, Importable: true, Score: v.syntaxPoints}
	res.Checks = append(res.Checks, CheckResult{Name: CheckSyntax, Passed: true, Points: v.syntaxPoints})
	for _, check := range v.checks {
		findings := check.Run(prog)
		cr := CheckResult{Name: check.Name, Passed: len(findings) == 0, Findings: findings}
		if cr.Passed {
			cr.Points = check.Points
			res.Score += check.Points
		} else {
			summary := defaultSummary(check.Name, findings)
			if check.Summarize != nil {
				summary = check.Summarize(findings)
			}
			res.Issues = append(res.Issues, summary)
		}
		if check.Name == CheckCompile && !cr.Passed {
			res.Importable = false
		}
		res.Checks = append(res.Checks, cr)
	}
	if res.Score > 100 {
		res.Score = 100
	}
	if res.Score < 0 {
		res.Score = 0
	}
	return res
}

func syntaxFailure(msg string) Result {
	return Result{
		Issues: []string{"Syntax error: " + msg},
		Checks: []CheckResult{{
			Name:     CheckSyntax,
			Findings: []Finding{{Check: CheckSyntax, Message: msg}},
		}},
	}
}

func defaultSummary(name string, findings []Finding) string {
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		msgs = append(msgs, f.Message)
	}
	return fmt.Sprintf("%s: %s", name, strings.Join(msgs, "; "))
}

func summarizeCompile(findings []Finding) string {
	f := findings[0]
	msg := fmt.Sprintf("Import error: %s (line %d)", f.Message, f.Line)
	if len(findings) > 1 {
		msg += fmt.Sprintf(" and %d more", len(findings)-1)
	}
	return msg
}

func summarizeUnbound(findings []Finding) string {
	names := make([]string, 0, len(findings))
	for _, f := range findings {
		names = append(names, f.Name)
	}
	return "Potential unbound variables: " + strings.Join(names, ", ")
}

func summarizeLines(prefix string) func([]Finding) string {
	return func(findings []Finding) string {
		lines := make([]string, 0, len(findings))
		for _, f := range findings {
			lines = append(lines, strconv.Itoa(f.Line))
		}
		return prefix + ": " + strings.Join(lines, ", ")
	}
}

// uniqueLines turns a line set into findings sorted by line.
func uniqueLines(check string, lines map[int]string) []Finding {
	keys := make([]int, 0, len(lines))
	for l := range lines {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	out := make([]Finding, 0, len(keys))
	for _, l := range keys {
		out = append(out, Finding{Check: check, Line: l, Message: lines[l]})
	}
	return out
}
