// Package fix repairs code by alternating model generations with
// deterministic verification until the score clears a threshold or the
// iteration budget runs out.
package fix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/verify"
)

// DefaultThreshold is the score at which a candidate counts as fixed.
const DefaultThreshold = 85

// PartialThreshold is the lower bound of the partial status band.
const PartialThreshold = 50

// ErrInvalidIterations is returned when Fix is asked for fewer than one round.
var ErrInvalidIterations = errors.New("max iterations must be at least 1")

var tracer = otel.Tracer("codemend.agents.fix")

// Status summarizes a report for display.
type Status string

const (
	StatusVerified Status = "verified"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// StatusFor maps a score onto a band.
func StatusFor(score, threshold int) Status {
	switch {
	case score >= threshold:
		return StatusVerified
	case score >= PartialThreshold:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Session tracks one Fix invocation.
type Session struct {
	OriginalCode  string
	CurrentCode   string
	Iteration     int
	MaxIterations int
}

// RoundRecord captures what happened in one round.
type RoundRecord struct {
	Iteration int
	Candidate string
	Score     int
	Issues    []string
	// Diagnostic is set when the generator failed in this round.
	Diagnostic string
	Elapsed    time.Duration
}

// Report is the result of Fix.
type Report struct {
	Code         string
	Verification verify.Result
	Iterations   int
	Success      bool
	Rounds       []RoundRecord
}

// Status returns the band of the final verification.
func (r *Report) Status(threshold int) Status {
	return StatusFor(r.Verification.Score, threshold)
}

// Observer receives per-round and per-run summaries.
type Observer interface {
	ObserveFixRound(score int)
	ObserveFix(iterations int, success bool)
}

// Runner owns the fix loop configuration. It keeps no per-run state.
type Runner struct {
	Generator Generator
	Verifier  *verify.Verifier
	// Threshold is the passing score. Zero selects DefaultThreshold.
	Threshold int
	Telemetry framework.Telemetry
	Observer  Observer
}

// NewRunner builds a runner with the default rubric and threshold.
func NewRunner(gen Generator) *Runner {
	return &Runner{Generator: gen, Verifier: verify.NewVerifier(), Threshold: DefaultThreshold}
}

// Fix runs at most maxIterations generate/verify rounds. It returns early on
// the first candidate that reaches the threshold. Cancellation of ctx is
// checked between rounds; the report covers the rounds that ran.
func (r *Runner) Fix(ctx context.Context, code string, maxIterations int) (*Report, error) {
	if maxIterations < 1 {
		return nil, ErrInvalidIterations
	}
	if r.Generator == nil {
		return nil, errors.New("fix runner missing generator")
	}
	verifier := r.Verifier
	if verifier == nil {
		verifier = verify.NewVerifier()
	}
	threshold := r.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	ctx, span := tracer.Start(ctx, "fix.Fix")
	defer span.End()
	log := clog.FromContext(ctx)

	sess := &Session{OriginalCode: code, CurrentCode: code, MaxIterations: maxIterations}
	report := &Report{}
	r.emit(framework.EventRunStart, 0, "", map[string]interface{}{"max_iterations": maxIterations})

	for sess.Iteration < sess.MaxIterations {
		if err := ctx.Err(); err != nil {
			log.Infof("fix canceled after %d rounds", sess.Iteration)
			span.SetStatus(codes.Error, "canceled")
			break
		}
		sess.Iteration++
		start := time.Now()
		r.emit(framework.EventFixRound, sess.Iteration, "", nil)

		rec := RoundRecord{Iteration: sess.Iteration}
		roundCtx := context.WithoutCancel(ctx)
		raw, err := r.Generator.Generate(roundCtx, sess.CurrentCode)
		candidate := ""
		if err != nil {
			rec.Diagnostic = raw
			if rec.Diagnostic == "" {
				rec.Diagnostic = err.Error()
			}
			log.With("round", sess.Iteration).Warnf("candidate generation failed: %v", err)
		} else {
			candidate = CleanCandidate(raw)
		}

		res := verifier.Verify(roundCtx, candidate)
		rec.Candidate = candidate
		rec.Score = res.Score
		rec.Issues = res.Issues
		rec.Elapsed = time.Since(start)
		report.Rounds = append(report.Rounds, rec)
		report.Code = candidate
		report.Verification = res
		report.Iterations = sess.Iteration

		log.With("round", sess.Iteration, "score", res.Score).Info("fix round verified")
		r.emit(framework.EventFixVerification, sess.Iteration, string(StatusFor(res.Score, threshold)), map[string]interface{}{
			"score":  res.Score,
			"issues": len(res.Issues),
		})
		if r.Observer != nil {
			r.Observer.ObserveFixRound(res.Score)
		}

		if res.Score >= threshold {
			report.Success = true
			break
		}
		if sess.Iteration < sess.MaxIterations {
			base := candidate
			if err != nil {
				base = sess.CurrentCode
			}
			sess.CurrentCode = NextInput(base, Feedback(res))
		}
	}

	span.SetAttributes(
		attribute.Int("fix.iterations", report.Iterations),
		attribute.Int("fix.score", report.Verification.Score),
		attribute.Bool("fix.success", report.Success),
	)
	if r.Observer != nil {
		r.Observer.ObserveFix(report.Iterations, report.Success)
	}
	r.emit(framework.EventRunFinish, report.Iterations, fmt.Sprintf("success=%t", report.Success), nil)
	return report, nil
}

func (r *Runner) emit(t framework.EventType, round int, msg string, meta map[string]interface{}) {
	if r.Telemetry == nil {
		return
	}
	r.Telemetry.Emit(framework.Event{Type: t, Round: round, Message: msg, Timestamp: time.Now().UTC(), Metadata: meta})
}
