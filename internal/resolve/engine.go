// Package resolve drives failing test batches toward a passing state with a
// bounded retry loop: run the batch, send each failing item to a resolver
// agent, and retry while some signal shows movement.
package resolve

import (
	"context"

	"go.uber.org/zap"
)

// State is a terminal engine state.
type State string

const (
	// DonePass means the last batch run reported zero failures.
	DonePass State = "done_pass"
	// DoneFail means attempts were exhausted or no progress signal remained.
	DoneFail State = "done_fail"
)

// Item is one unit-test result.
type Item struct {
	Name             string `json:"test_name"`
	Passed           bool   `json:"passed"`
	ExecutionCommand string `json:"execution_command,omitempty"`
	Purpose          string `json:"test_purpose,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Status is an end-to-end test result status.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// E2EItem is one end-to-end test result. FormatUncertain marks items whose
// failure is a success-shaped response that could not be parsed into the
// required structure; it is set where the response is parsed, never inferred
// from error text here.
type E2EItem struct {
	Name            string   `json:"test_name"`
	Status          Status   `json:"status"`
	SpecPath        string   `json:"test_path,omitempty"`
	Screenshots     []string `json:"screenshots,omitempty"`
	Error           string   `json:"error,omitempty"`
	FormatUncertain bool     `json:"-"`
}

// Failed reports whether the item did not pass.
func (it E2EItem) Failed() bool { return it.Status != StatusPassed }

// Report is the outcome of one unit batch run. A parse failure yields zero
// items with ParseErr recording what went wrong; the engine treats zero
// failures as passing and surfaces ParseErr to the caller.
type Report struct {
	Items    []Item
	ParseErr error
}

// Failures returns the failing items.
func (r Report) Failures() []Item {
	var out []Item
	for _, it := range r.Items {
		if !it.Passed {
			out = append(out, it)
		}
	}
	return out
}

// E2EReport is the outcome of one end-to-end batch run.
type E2EReport struct {
	Items    []E2EItem
	ParseErr error
}

// Failures returns the failing items.
func (r E2EReport) Failures() []E2EItem {
	var out []E2EItem
	for _, it := range r.Items {
		if it.Failed() {
			out = append(out, it)
		}
	}
	return out
}

// Batch runs one unit-test attempt. A non-nil error is an agent-level
// execution error, not a test failure; the engine stops immediately without
// resolution.
type Batch interface {
	Run(ctx context.Context, attempt int) (Report, error)
}

// Resolver attempts to fix one failing unit item. It returns true when the
// resolver agent reported success.
type Resolver interface {
	Resolve(ctx context.Context, item Item, attempt int) bool
}

// E2EBatch runs one end-to-end attempt.
type E2EBatch interface {
	Run(ctx context.Context, attempt int) (E2EReport, error)
}

// E2EResolver attempts to fix one failing end-to-end item.
type E2EResolver interface {
	Resolve(ctx context.Context, item E2EItem, attempt int) bool
}

// Outcome reports how a retry loop ended.
type Outcome struct {
	State    State
	Attempts int
	// Failures holds the last attempt's failing unit items.
	Failures []Item
	// E2EFailures holds the last attempt's failing end-to-end items.
	E2EFailures []E2EItem
	// RunErr is the agent-level execution error that stopped the loop, if any.
	RunErr error
	// ParseErr is the last attempt's result-parse failure, if any.
	ParseErr error
}

// Passed reports whether the loop ended in DonePass.
func (o Outcome) Passed() bool { return o.State == DonePass }

// Engine is the bounded retry-with-resolution driver.
type Engine struct {
	MaxAttempts int
	logger      *zap.Logger
}

// NewEngine creates an engine permitting at most maxAttempts batch runs.
func NewEngine(maxAttempts int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{MaxAttempts: maxAttempts, logger: logger}
}

// RunUnit drives a unit-test batch. The loop stops on the first of: zero
// failures, an agent-level execution error, attempts exhausted, or a
// resolution round resolving nothing.
func (e *Engine) RunUnit(ctx context.Context, batch Batch, resolver Resolver) Outcome {
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		report, err := batch.Run(ctx, attempt)
		if err != nil {
			e.logger.Error("test batch execution failed",
				zap.Int("attempt", attempt), zap.Error(err))
			return Outcome{State: DoneFail, Attempts: attempt, RunErr: err}
		}

		failures := report.Failures()
		e.logger.Info("test batch complete",
			zap.Int("attempt", attempt),
			zap.Int("total", len(report.Items)),
			zap.Int("failed", len(failures)),
		)
		if len(failures) == 0 {
			return Outcome{State: DonePass, Attempts: attempt, ParseErr: report.ParseErr}
		}
		if attempt == e.MaxAttempts {
			return Outcome{State: DoneFail, Attempts: attempt, Failures: failures, ParseErr: report.ParseErr}
		}

		resolved := 0
		for _, item := range failures {
			if resolver.Resolve(ctx, item, attempt) {
				resolved++
			}
		}
		e.logger.Info("resolution round complete",
			zap.Int("attempt", attempt),
			zap.Int("resolved", resolved),
			zap.Int("failed", len(failures)-resolved),
		)
		if resolved == 0 {
			return Outcome{State: DoneFail, Attempts: attempt, Failures: failures, ParseErr: report.ParseErr}
		}
	}
	return Outcome{State: DoneFail, Attempts: e.MaxAttempts}
}

// RunE2E drives an end-to-end batch. Beyond the unit loop it withholds
// format-uncertain failures from the resolver (retrying counts as progress)
// and compares error sets across attempts: a previously seen error now
// absent counts as progress even when the resolver resolved nothing, since
// fixing one bug in a dependent chain can surface the next.
func (e *Engine) RunE2E(ctx context.Context, batch E2EBatch, resolver E2EResolver) Outcome {
	var prevErrors map[string]struct{}

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		report, err := batch.Run(ctx, attempt)
		if err != nil {
			e.logger.Error("e2e batch execution failed",
				zap.Int("attempt", attempt), zap.Error(err))
			return Outcome{State: DoneFail, Attempts: attempt, RunErr: err}
		}

		failures := report.Failures()
		e.logger.Info("e2e batch complete",
			zap.Int("attempt", attempt),
			zap.Int("total", len(report.Items)),
			zap.Int("failed", len(failures)),
		)
		if len(failures) == 0 {
			return Outcome{State: DonePass, Attempts: attempt, ParseErr: report.ParseErr}
		}
		if attempt == e.MaxAttempts {
			return Outcome{State: DoneFail, Attempts: attempt, E2EFailures: failures, ParseErr: report.ParseErr}
		}

		var genuine, uncertain []E2EItem
		for _, item := range failures {
			if item.FormatUncertain {
				uncertain = append(uncertain, item)
			} else {
				genuine = append(genuine, item)
			}
		}

		curErrors := errorSet(failures)
		progressed := errorSetProgress(prevErrors, curErrors)
		prevErrors = curErrors

		resolved := 0
		for _, item := range genuine {
			if resolver.Resolve(ctx, item, attempt) {
				resolved++
			}
		}
		e.logger.Info("e2e resolution round complete",
			zap.Int("attempt", attempt),
			zap.Int("resolved", resolved),
			zap.Int("format_uncertain", len(uncertain)),
			zap.Bool("error_set_progress", progressed),
		)

		if resolved == 0 && !progressed && len(uncertain) == 0 {
			return Outcome{State: DoneFail, Attempts: attempt, E2EFailures: failures, ParseErr: report.ParseErr}
		}
	}
	return Outcome{State: DoneFail, Attempts: e.MaxAttempts}
}

func errorSet(failures []E2EItem) map[string]struct{} {
	set := make(map[string]struct{}, len(failures))
	for _, item := range failures {
		if item.Error != "" {
			set[item.Error] = struct{}{}
		}
	}
	return set
}

// errorSetProgress reports whether at least one previously seen error is
// absent from the current set. The first attempt has no baseline and never
// counts as progress by itself.
func errorSetProgress(prev, cur map[string]struct{}) bool {
	if prev == nil {
		return false
	}
	for e := range prev {
		if _, still := cur[e]; !still {
			return true
		}
	}
	return false
}
