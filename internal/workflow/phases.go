package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/agent"
	"github.com/fyrsmithlabs/devflow/internal/config"
	"github.com/fyrsmithlabs/devflow/internal/github"
	"github.com/fyrsmithlabs/devflow/internal/gitops"
	"github.com/fyrsmithlabs/devflow/internal/state"
)

const (
	commitAuthor = "devflow"
	commitEmail  = "devflow@users.noreply.github.com"
)

// Runtime bundles the collaborators phases share.
type Runtime struct {
	Ops    *Ops
	States *state.Store
	Repo   *gitops.Repo
	Cfg    *config.Config
	Logger *zap.Logger
	// SkipE2E suppresses the end-to-end batch in the test phase even when
	// scenario documents exist. Set per invocation, typically from the CLI.
	SkipE2E bool
}

// NewRunID mints a fresh 8-character run identifier.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// EnsureRunID returns runID unchanged when set, otherwise a fresh one.
func EnsureRunID(runID string) string {
	if runID != "" {
		return runID
	}
	return NewRunID()
}

// Phase is one pipeline stage.
type Phase interface {
	Name() string
	Run(ctx context.Context, issueNumber int, runID string) error
}

// loadOrCreate resumes the run record, creating it on first contact.
func (rt *Runtime) loadOrCreate(issueNumber int, runID string) (*state.Run, error) {
	run, err := rt.States.Load(runID)
	if errors.Is(err, state.ErrNotFound) {
		run, err = rt.States.Create(runID)
	}
	if err != nil {
		return nil, err
	}
	run.Update(map[string]string{state.FieldIssueNumber: strconv.Itoa(issueNumber)})
	return run, nil
}

// finalize commits the phase's changes, pushes, and makes sure a pull
// request exists. A clean worktree commits nothing and is not an error.
func (rt *Runtime) finalize(ctx context.Context, wt *gitops.Worktree, issue *github.Issue, run *state.Run, phaseAgent string) (*github.PullRequest, error) {
	issueClass := run.IssueClass
	if issueClass == "" {
		issueClass = config.ClassChore
	}

	msg, err := rt.Ops.CommitMessage(ctx, phaseAgent, issue, issueClass, run.RunID)
	if err != nil {
		return nil, err
	}
	if _, err := wt.CommitAll(msg, commitAuthor, commitEmail); err != nil {
		return nil, err
	}
	if err := wt.Push(ctx); err != nil {
		return nil, err
	}
	return rt.Ops.EnsurePullRequest(ctx, wt, issue, run.PlanFile, rt.Cfg.Workspace.DefaultBranch)
}

// PlanPhase classifies the issue, provisions the run branch, and has the
// planner write the implementation plan.
type PlanPhase struct {
	*Runtime
}

func (p *PlanPhase) Name() string { return "plan" }

func (p *PlanPhase) Run(ctx context.Context, issueNumber int, runID string) error {
	run, err := p.loadOrCreate(issueNumber, runID)
	if err != nil {
		return err
	}

	issue, err := p.Ops.Tracker.FetchIssue(ctx, issueNumber)
	if err != nil {
		return err
	}
	p.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, "", "starting plan phase")

	if run.IssueClass == "" {
		issueClass, err := p.Ops.ClassifyIssue(ctx, issue, runID)
		if err != nil {
			p.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, "", "plan phase failed: "+err.Error())
			return err
		}
		run.Update(map[string]string{state.FieldIssueClass: issueClass})
		if err := p.States.Save(run, p.Name()); err != nil {
			return err
		}
	}

	if run.BranchName == "" {
		branch, err := p.Ops.GenerateBranchName(ctx, issue, run.IssueClass, runID)
		if err != nil {
			p.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, "", "plan phase failed: "+err.Error())
			return err
		}
		run.Update(map[string]string{state.FieldBranchName: branch})
		if err := p.States.Save(run, p.Name()); err != nil {
			return err
		}
	}

	wt, err := p.Repo.Acquire(ctx, run.BranchName)
	if err != nil {
		return err
	}

	planResp, err := p.Ops.BuildPlan(ctx, issue, run.IssueClass, runID)
	if err != nil {
		p.Ops.Comment(ctx, issueNumber, runID, agent.NamePlanner, planResp.SessionID, "plan phase failed: "+err.Error())
		return err
	}

	planFile, err := p.Ops.FindPlanFile(ctx, issue, runID, planResp.Output)
	if err != nil {
		p.Ops.Comment(ctx, issueNumber, runID, agent.NamePlanFinder, "", "plan phase failed: "+err.Error())
		return err
	}
	run.Update(map[string]string{state.FieldPlanFile: planFile})
	if err := p.States.Save(run, p.Name()); err != nil {
		return err
	}

	pr, err := p.finalize(ctx, wt, issue, run, agent.NamePlanner)
	if err != nil {
		p.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, "", "plan phase failed: "+err.Error())
		return err
	}

	done := fmt.Sprintf("plan phase complete: plan %s on branch %s", planFile, run.BranchName)
	if pr != nil {
		done += ", PR " + pr.URL
	}
	p.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, planResp.SessionID, done)
	return p.States.Save(run, p.Name())
}

// BuildPhase implements the recorded plan on the recorded branch. It fails
// fast when the plan phase has not run.
type BuildPhase struct {
	*Runtime
}

func (b *BuildPhase) Name() string { return "build" }

func (b *BuildPhase) Run(ctx context.Context, issueNumber int, runID string) error {
	run, err := b.States.Load(runID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("no state for run %s, run plan first", runID)
		}
		return err
	}
	if run.BranchName == "" || run.PlanFile == "" {
		return fmt.Errorf("run %s has no branch or plan recorded, run plan first", runID)
	}

	wt, err := b.Repo.Acquire(ctx, run.BranchName)
	if err != nil {
		return err
	}

	issue, err := b.Ops.Tracker.FetchIssue(ctx, issueNumber)
	if err != nil {
		return err
	}
	b.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, "", "starting build phase for plan "+run.PlanFile)

	implResp, err := b.Ops.ImplementPlan(ctx, run.PlanFile, runID)
	if err != nil {
		b.Ops.Comment(ctx, issueNumber, runID, agent.NameImplementor, implResp.SessionID, "build phase failed: "+err.Error())
		return err
	}

	pr, err := b.finalize(ctx, wt, issue, run, agent.NameImplementor)
	if err != nil {
		b.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, "", "build phase failed: "+err.Error())
		return err
	}

	done := "build phase complete on branch " + run.BranchName
	if pr != nil {
		done += ", PR " + pr.URL
	}
	b.Ops.Comment(ctx, issueNumber, runID, agent.NameOps, implResp.SessionID, done)
	return b.States.Save(run, b.Name())
}
