// Package trigger turns inbound tracker events into workflow launches:
// classification of event text, de-duplication against already-handled
// events, and the polling ingress.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/agent"
	"github.com/fyrsmithlabs/devflow/internal/workflow"
)

// DefaultMarker is the token a human writes in an issue or comment to
// address the engine.
const DefaultMarker = "devflow"

// Event is one inbound tracker event: a freshly opened issue, or a comment
// on one. CommentID is zero for the issue body itself.
type Event struct {
	IssueNumber int
	CommentID   int64
	Body        string
}

// Decision is the classification outcome for one event.
type Decision struct {
	Actionable bool
	Workflow   workflow.Kind
	// RunID is the existing run to resume, empty to mint a new one.
	RunID string
	// Reason explains non-actionable decisions for logging.
	Reason string
}

// Classifier maps events to workflow decisions. Events carrying the bot
// marker are the engine's own comments and are always ignored.
type Classifier struct {
	invoker   agent.Invoker
	botMarker string
	// Marker is the trigger token humans use to address the engine.
	Marker string
	// DefaultWorkflow runs for a fresh issue with no marker.
	DefaultWorkflow workflow.Kind
	logger          *zap.Logger
}

// NewClassifier creates a classifier using invoker for marker extraction.
func NewClassifier(invoker agent.Invoker, botMarker string, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		invoker:         invoker,
		botMarker:       botMarker,
		Marker:          DefaultMarker,
		DefaultWorkflow: workflow.KindPlanBuild,
		logger:          logger,
	}
}

type extraction struct {
	Workflow string `json:"workflow"`
	RunID    string `json:"run_id"`
}

// Classify applies the priority rules: bot comments are ignored; a fresh
// issue without comments gets the default workflow; marker text delegates
// to the agent for a {workflow, run id} pair validated against the closed
// workflow set; everything else is not actionable.
func (c *Classifier) Classify(ctx context.Context, ev Event) Decision {
	if c.botMarker != "" && strings.Contains(ev.Body, c.botMarker) {
		return Decision{Reason: "own comment"}
	}

	if ev.CommentID == 0 {
		return Decision{Actionable: true, Workflow: c.DefaultWorkflow}
	}

	if !strings.Contains(strings.ToLower(ev.Body), c.Marker) {
		return Decision{Reason: "no trigger marker"}
	}

	var ex extraction
	req := agent.TemplateRequest{
		AgentName:    agent.NameClassifier,
		SlashCommand: "/extract_workflow",
		Args:         []string{ev.Body},
		RunID:        "trigger",
	}
	if _, err := agent.InvokeStructured(ctx, c.invoker, req, &ex); err != nil {
		c.logger.Warn("workflow extraction failed",
			zap.Int("issue", ev.IssueNumber), zap.Error(err))
		return Decision{Reason: fmt.Sprintf("extraction failed: %v", err)}
	}

	kind := workflow.Kind(ex.Workflow)
	if !kind.Valid() {
		return Decision{Reason: fmt.Sprintf("unrecognized workflow %q", ex.Workflow)}
	}
	// A build resumes an existing plan; the run id is the only plan locator.
	if kind == workflow.KindBuild && ex.RunID == "" {
		return Decision{Reason: "build requested without a run id"}
	}

	return Decision{Actionable: true, Workflow: kind, RunID: ex.RunID}
}
