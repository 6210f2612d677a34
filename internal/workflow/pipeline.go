package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pipeline is an ordered phase chain with fail-fast propagation: the first
// phase error halts the chain without attempting subsequent phases.
type Pipeline struct {
	kind   Kind
	phases []Phase
	logger *zap.Logger
}

// NewPipeline assembles the phase chain for kind.
func NewPipeline(rt *Runtime, kind Kind) (*Pipeline, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown workflow %q", kind)
	}

	var phases []Phase
	for _, name := range kind.PhaseNames() {
		switch name {
		case "plan":
			phases = append(phases, &PlanPhase{Runtime: rt})
		case "build":
			phases = append(phases, &BuildPhase{Runtime: rt})
		case "test":
			phases = append(phases, &TestPhase{Runtime: rt, E2EDir: rt.Cfg.Workspace.E2EDir})
		}
	}
	return &Pipeline{kind: kind, phases: phases, logger: rt.Logger}, nil
}

// PhaseTiming records one executed phase.
type PhaseTiming struct {
	Phase   string
	Elapsed time.Duration
	Err     error
}

// Run executes the chain. The returned timings cover every phase that
// started, including a failed one.
func (p *Pipeline) Run(ctx context.Context, issueNumber int, runID string) ([]PhaseTiming, error) {
	p.logger.Info("pipeline starting",
		zap.String("workflow", string(p.kind)),
		zap.Int("issue", issueNumber),
		zap.String("run_id", runID),
	)

	var timings []PhaseTiming
	for _, phase := range p.phases {
		start := time.Now()
		err := phase.Run(ctx, issueNumber, runID)
		elapsed := time.Since(start)
		timings = append(timings, PhaseTiming{Phase: phase.Name(), Elapsed: elapsed, Err: err})

		if err != nil {
			p.logger.Error("phase failed",
				zap.String("phase", phase.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			return timings, fmt.Errorf("%s phase: %w", phase.Name(), err)
		}
		p.logger.Info("phase complete",
			zap.String("phase", phase.Name()),
			zap.Duration("elapsed", elapsed),
		)
	}

	p.logger.Info("pipeline complete",
		zap.String("workflow", string(p.kind)),
		zap.String("run_id", runID),
	)
	return timings, nil
}
