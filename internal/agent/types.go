// Package agent invokes the external coding agent as a subprocess.
//
// The call contract is synchronous and bounded by a configured timeout.
// Ordinary failures (agent exited non-zero, timed out, produced no result
// record) are reported through Response.Success, never as Go errors, so that
// callers have exactly one failure signal to check. The raw transcript and
// the prompt are persisted under the run directory independent of the
// pipeline's own state.
package agent

import (
	"context"
	"fmt"
)

// Agent name constants used across the workflow phases. Each names the
// logical actor a transcript belongs to.
const (
	NamePlanner         = "sdlc_planner"
	NameImplementor     = "sdlc_implementor"
	NameClassifier      = "issue_classifier"
	NamePlanFinder      = "plan_finder"
	NameBranchGenerator = "branch_generator"
	NamePRCreator       = "pr_creator"
	NameTestRunner      = "test_runner"
	NameE2ETestRunner   = "e2e_test_runner"
	NameOps             = "ops"
)

// TemplateRequest asks the agent to execute a slash-command template with
// positional arguments.
type TemplateRequest struct {
	AgentName    string
	SlashCommand string
	Args         []string
	RunID        string
	Model        string
}

// Prompt renders the request as the prompt string sent to the agent.
func (r TemplateRequest) Prompt() string {
	prompt := r.SlashCommand
	for _, arg := range r.Args {
		prompt += " " + arg
	}
	return prompt
}

// Response is the outcome of one agent invocation. Success is the only
// failure signal; Output carries either the agent's result text or a
// diagnostic message.
type Response struct {
	Output    string
	Success   bool
	SessionID string
}

// Invoker is the gateway contract phases depend on. The concrete Gateway
// shells out to the agent CLI; tests substitute mocks.
type Invoker interface {
	Invoke(ctx context.Context, req TemplateRequest) Response
}

// ParseError reports that the agent succeeded but its output could not be
// parsed into the required structured shape. It is a distinct category from
// an agent failure so callers can tell "the agent failed" from "the agent
// answered in the wrong shape".
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing agent output: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
