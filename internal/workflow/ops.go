package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/agent"
	"github.com/fyrsmithlabs/devflow/internal/config"
	"github.com/fyrsmithlabs/devflow/internal/github"
	"github.com/fyrsmithlabs/devflow/internal/gitops"
)

// classRe extracts the classification token from agent output, which may
// carry surrounding explanation.
var classRe = regexp.MustCompile(`(/chore|/bug|/feature|0)`)

// Ops are the shared agent-backed operations phases compose. Every
// operation reports failure as an error carrying the agent's diagnostic
// output.
type Ops struct {
	Invoker   agent.Invoker
	Tracker   github.Tracker
	BotMarker string
	Logger    *zap.Logger
}

// issuePayload is the minimal issue shape sent to agents.
type issuePayload struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func issueJSON(issue *github.Issue) string {
	data, _ := json.Marshal(issuePayload{
		Number: issue.Number,
		Title:  issue.Title,
		Body:   issue.Body,
	})
	return string(data)
}

// ClassifyIssue maps an issue to one change kind of the closed set. The
// agent must answer with exactly one recognized token; the "0" sentinel and
// anything else are classification failures.
func (o *Ops) ClassifyIssue(ctx context.Context, issue *github.Issue, runID string) (string, error) {
	resp := o.Invoker.Invoke(ctx, agent.TemplateRequest{
		AgentName:    agent.NameClassifier,
		SlashCommand: "/classify_issue",
		Args:         []string{issueJSON(issue)},
		RunID:        runID,
	})
	if !resp.Success {
		return "", fmt.Errorf("classifying issue #%d: %s", issue.Number, resp.Output)
	}

	token := strings.TrimSpace(resp.Output)
	if m := classRe.FindString(token); m != "" {
		token = m
	}
	switch token {
	case "/chore":
		return config.ClassChore, nil
	case "/bug":
		return config.ClassBug, nil
	case "/feature":
		return config.ClassFeature, nil
	case "0":
		return "", fmt.Errorf("no classification selected: %s", resp.Output)
	}
	return "", fmt.Errorf("invalid classification %q", resp.Output)
}

// GenerateBranchName derives the run's branch name from the issue and its
// change kind.
func (o *Ops) GenerateBranchName(ctx context.Context, issue *github.Issue, issueClass, runID string) (string, error) {
	resp := o.Invoker.Invoke(ctx, agent.TemplateRequest{
		AgentName:    agent.NameBranchGenerator,
		SlashCommand: "/generate_branch_name",
		Args:         []string{issueClass, runID, issueJSON(issue)},
		RunID:        runID,
	})
	if !resp.Success {
		return "", fmt.Errorf("generating branch name: %s", resp.Output)
	}
	branch := strings.TrimSpace(resp.Output)
	if branch == "" {
		return "", fmt.Errorf("agent returned an empty branch name")
	}
	o.Logger.Info("generated branch name", zap.String("branch", branch))
	return branch, nil
}

// BuildPlan asks the planner to write an implementation plan for the issue.
// The slash command is the change kind's template. Returns the planner's
// narrative output, used afterwards to locate the plan file.
func (o *Ops) BuildPlan(ctx context.Context, issue *github.Issue, issueClass, runID string) (agent.Response, error) {
	resp := o.Invoker.Invoke(ctx, agent.TemplateRequest{
		AgentName:    agent.NamePlanner,
		SlashCommand: "/" + issueClass,
		Args:         []string{strconv.Itoa(issue.Number), runID, issueJSON(issue)},
		RunID:        runID,
	})
	if !resp.Success {
		return resp, fmt.Errorf("building plan: %s", resp.Output)
	}
	return resp, nil
}

// FindPlanFile resolves the plan file path out of the planner's output. A
// "0" answer or anything that does not look like a path is a failure.
func (o *Ops) FindPlanFile(ctx context.Context, issue *github.Issue, runID, planOutput string) (string, error) {
	resp := o.Invoker.Invoke(ctx, agent.TemplateRequest{
		AgentName:    agent.NamePlanFinder,
		SlashCommand: "/find_plan_file",
		Args:         []string{strconv.Itoa(issue.Number), runID, planOutput},
		RunID:        runID,
	})
	if !resp.Success {
		return "", fmt.Errorf("finding plan file: %s", resp.Output)
	}

	path := strings.TrimSpace(resp.Output)
	switch {
	case path == "0":
		return "", fmt.Errorf("no plan file found in planner output")
	case path == "" || !strings.Contains(path, "/"):
		return "", fmt.Errorf("invalid plan file path %q", path)
	}
	return path, nil
}

// ImplementPlan asks the implementor to execute the plan file against the
// working tree.
func (o *Ops) ImplementPlan(ctx context.Context, planFile, runID string) (agent.Response, error) {
	resp := o.Invoker.Invoke(ctx, agent.TemplateRequest{
		AgentName:    agent.NameImplementor,
		SlashCommand: "/implement",
		Args:         []string{planFile},
		RunID:        runID,
	})
	if !resp.Success {
		return resp, fmt.Errorf("implementing plan: %s", resp.Output)
	}
	return resp, nil
}

// CommitMessage derives a commit message for the phase's changes. The
// committing actor is the phase agent suffixed with "_committer" so its
// transcript lands in its own directory.
func (o *Ops) CommitMessage(ctx context.Context, agentName string, issue *github.Issue, issueClass, runID string) (string, error) {
	resp := o.Invoker.Invoke(ctx, agent.TemplateRequest{
		AgentName:    agentName + "_committer",
		SlashCommand: "/commit",
		Args:         []string{agentName, issueClass, issueJSON(issue)},
		RunID:        runID,
	})
	if !resp.Success {
		return "", fmt.Errorf("generating commit message: %s", resp.Output)
	}
	msg := strings.TrimSpace(resp.Output)
	if msg == "" {
		return "", fmt.Errorf("agent returned an empty commit message")
	}
	return msg, nil
}

// EnsurePullRequest makes sure an open pull request exists for the
// worktree's branch, creating one when absent. Idempotent: an existing PR
// is returned as-is.
func (o *Ops) EnsurePullRequest(ctx context.Context, wt *gitops.Worktree, issue *github.Issue, planFile, base string) (*github.PullRequest, error) {
	if pr, err := o.Tracker.FindPRForBranch(ctx, wt.Branch); err != nil {
		return nil, err
	} else if pr != nil {
		o.Logger.Debug("pull request already open",
			zap.Int("number", pr.Number), zap.String("branch", wt.Branch))
		return pr, nil
	}

	title := fmt.Sprintf("%s (#%d)", issue.Title, issue.Number)
	var body strings.Builder
	fmt.Fprintf(&body, "Closes #%d.\n", issue.Number)
	if planFile != "" {
		fmt.Fprintf(&body, "\nPlan: `%s`\n", planFile)
	}

	pr, err := o.Tracker.CreatePR(ctx, title, body.String(), wt.Branch, base)
	if err != nil {
		return nil, fmt.Errorf("opening pull request for %s: %w", wt.Branch, err)
	}
	return pr, nil
}

// Comment posts an attributed progress comment on the issue. Posting
// failures are logged, not propagated; progress reporting must never fail
// a phase.
func (o *Ops) Comment(ctx context.Context, issueNumber int, runID, agentName, sessionID, body string) {
	msg := github.BotMessage(o.BotMarker, runID, agentName, sessionID, body)
	if err := o.Tracker.CreateComment(ctx, issueNumber, msg); err != nil {
		o.Logger.Warn("posting progress comment",
			zap.Int("issue", issueNumber), zap.Error(err))
	}
}
