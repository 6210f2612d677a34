package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const transcriptFilename = "raw_output.jsonl"

// Gateway executes agent requests by shelling out to the agent CLI.
type Gateway struct {
	command   string
	model     string
	timeout   time.Duration
	agentsDir string
	workDir   string
	logger    *zap.Logger
}

// Config configures a Gateway.
type Config struct {
	// Command is the agent CLI binary.
	Command string
	// Model is the default model, overridable per request.
	Model string
	// Timeout bounds one invocation.
	Timeout time.Duration
	// AgentsDir is where prompts and transcripts are persisted.
	AgentsDir string
	// WorkDir is the working tree the agent operates on.
	WorkDir string
}

// NewGateway creates a gateway for the configured agent CLI.
func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		command:   cfg.Command,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		agentsDir: cfg.AgentsDir,
		workDir:   cfg.WorkDir,
		logger:    logger,
	}
}

// CheckInstalled probes the agent CLI. A non-nil error means the binary is
// missing or unusable, a fatal configuration error.
func (g *Gateway) CheckInstalled() error {
	cmd := exec.Command(g.command, "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("agent CLI not available at %q: %w", g.command, err)
	}
	return nil
}

// Invoke executes one template request. The call blocks until the agent
// finishes or the configured timeout elapses. All ordinary failures are
// reported via Response.Success with a diagnostic in Output.
func (g *Gateway) Invoke(ctx context.Context, req TemplateRequest) Response {
	outputDir := filepath.Join(g.agentsDir, req.RunID, req.AgentName)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Response{Output: fmt.Sprintf("creating transcript directory: %v", err)}
	}

	prompt := req.Prompt()
	g.savePrompt(outputDir, req.SlashCommand, prompt)

	model := req.Model
	if model == "" {
		model = g.model
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	transcriptPath := filepath.Join(outputDir, transcriptFilename)
	transcript, err := os.Create(transcriptPath)
	if err != nil {
		return Response{Output: fmt.Sprintf("creating transcript file: %v", err)}
	}
	defer transcript.Close()

	cmd := exec.CommandContext(ctx, g.command,
		"-p", prompt,
		"--model", model,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	)
	cmd.Dir = g.workDir
	cmd.Stdout = transcript
	var stderr strings.Builder
	cmd.Stderr = &stderr

	g.logger.Debug("invoking agent",
		zap.String("run_id", req.RunID),
		zap.String("agent", req.AgentName),
		zap.String("command", req.SlashCommand),
		zap.String("model", model),
	)

	runErr := cmd.Run()

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("agent invocation timed out after %s", g.timeout)
		g.logger.Warn(msg, zap.String("agent", req.AgentName))
		return Response{Output: msg}
	}
	if runErr != nil {
		msg := fmt.Sprintf("agent exited with error: %v: %s", runErr, strings.TrimSpace(stderr.String()))
		g.logger.Warn("agent invocation failed", zap.String("agent", req.AgentName), zap.Error(runErr))
		return Response{Output: msg}
	}

	// The last result record in the transcript is authoritative.
	_, result, err := ParseTranscript(transcriptPath)
	if err != nil {
		return Response{Output: fmt.Sprintf("reading transcript: %v", err)}
	}
	if result == nil {
		return Response{Output: "agent produced no result record"}
	}
	if result.Subtype == "error_during_execution" {
		return Response{
			Output:    "error during execution: agent encountered an error and did not return a result",
			SessionID: result.SessionID,
		}
	}

	return Response{
		Output:    result.Result,
		Success:   !result.IsError,
		SessionID: result.SessionID,
	}
}

// savePrompt records the prompt next to the transcript for later inspection.
// Failures here are logged and ignored; they must not fail the invocation.
func (g *Gateway) savePrompt(outputDir, slashCommand, prompt string) {
	name := strings.TrimPrefix(slashCommand, "/")
	if name == "" {
		name = "prompt"
	}
	promptDir := filepath.Join(outputDir, "prompts")
	if err := os.MkdirAll(promptDir, 0o755); err != nil {
		g.logger.Warn("creating prompt directory", zap.Error(err))
		return
	}
	path := filepath.Join(promptDir, name+".txt")
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		g.logger.Warn("saving prompt", zap.String("path", path), zap.Error(err))
	}
}

// InvokeStructured invokes the agent and parses its textual output as JSON
// into v, tolerating surrounding prose and markdown fencing. An agent-level
// failure returns an error wrapping the diagnostic output; a successful
// invocation with unparseable output returns a *ParseError.
func InvokeStructured(ctx context.Context, inv Invoker, req TemplateRequest, v any) (Response, error) {
	resp := inv.Invoke(ctx, req)
	if !resp.Success {
		return resp, fmt.Errorf("agent invocation failed: %s", resp.Output)
	}
	if err := ParseJSON(resp.Output, v); err != nil {
		return resp, err
	}
	return resp, nil
}
