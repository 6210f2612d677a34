// Package main implements the devflow CLI: phase commands, the spec
// decomposer, and the webhook and polling ingress daemons.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/agent"
	"github.com/fyrsmithlabs/devflow/internal/config"
	"github.com/fyrsmithlabs/devflow/internal/github"
	"github.com/fyrsmithlabs/devflow/internal/gitops"
	"github.com/fyrsmithlabs/devflow/internal/logging"
	"github.com/fyrsmithlabs/devflow/internal/state"
	"github.com/fyrsmithlabs/devflow/internal/trigger"
	"github.com/fyrsmithlabs/devflow/internal/workflow"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devflow",
	Short: "Issue-driven plan/build/test workflow engine",
	Long: `devflow automates a multi-phase software-change workflow driven by
tracker issues: it plans a change with a coding agent, implements the plan,
and drives failing test batches toward green with bounded retry.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(pollCmd)
}

// env bundles everything a command needs after startup.
type env struct {
	cfg       *config.Config
	logger    *zap.Logger
	gateway   *agent.Gateway
	tracker   *github.Client
	runtime   *workflow.Runtime
	agentsDir string
}

// setup loads configuration and wires the runtime. Configuration errors are
// fatal here, before any work starts.
func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	agentsDir := cfg.Workspace.AgentsDir
	if !filepath.IsAbs(agentsDir) {
		agentsDir = filepath.Join(cfg.Workspace.Root, agentsDir)
	}

	gateway := agent.NewGateway(agent.Config{
		Command:   cfg.Agent.Command,
		Model:     cfg.Agent.Model,
		Timeout:   cfg.Agent.Timeout.Std(),
		AgentsDir: agentsDir,
		WorkDir:   cfg.Workspace.Root,
	}, logger)
	if err := gateway.CheckInstalled(); err != nil {
		return nil, err
	}

	tracker, err := github.NewClient(ctx, cfg.GitHub, logger)
	if err != nil {
		return nil, err
	}
	repo, err := gitops.Open(cfg.Workspace.Root, cfg.GitHub.Token, logger)
	if err != nil {
		return nil, err
	}

	rt := &workflow.Runtime{
		Ops: &workflow.Ops{
			Invoker:   gateway,
			Tracker:   tracker,
			BotMarker: cfg.GitHub.BotMarker,
			Logger:    logger,
		},
		States: state.NewStore(agentsDir, logger),
		Repo:   repo,
		Cfg:    cfg,
		Logger: logger,
	}
	return &env{
		cfg:       cfg,
		logger:    logger,
		gateway:   gateway,
		tracker:   tracker,
		runtime:   rt,
		agentsDir: agentsDir,
	}, nil
}

// runtimeFor clones the runtime with a per-run logger that also appends to
// the run's execution log next to the agent transcripts.
func runtimeFor(e *env, runID string, kind workflow.Kind) *workflow.Runtime {
	logger, err := logging.ForRun(&e.cfg.Logging, filepath.Join(e.agentsDir, runID), runID, string(kind))
	if err != nil {
		e.logger.Warn("per-run log file unavailable", zap.Error(err))
		logger = e.logger.With(zap.String("run_id", runID))
	}
	rt := *e.runtime
	rt.Logger = logger
	return &rt
}

// runPipeline executes one workflow for an issue, minting a run id when the
// caller did not supply one.
func runPipeline(ctx context.Context, e *env, kind workflow.Kind, issueNumber int, runID string) error {
	runID = workflow.EnsureRunID(runID)
	pipe, err := workflow.NewPipeline(runtimeFor(e, runID, kind), kind)
	if err != nil {
		return err
	}

	timings, err := pipe.Run(ctx, issueNumber, runID)
	for _, t := range timings {
		fmt.Printf("%-6s %s\n", t.Phase, t.Elapsed.Round(timeRound))
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	fmt.Printf("run %s complete\n", runID)
	return nil
}

// newLauncher adapts the runtime into the trigger package's launch hook.
// Each launch is an independent run; failures are logged, not propagated.
func newLauncher(e *env) trigger.Launcher {
	return func(ctx context.Context, issueNumber int, dec trigger.Decision) {
		runID := workflow.EnsureRunID(dec.RunID)
		pipe, err := workflow.NewPipeline(runtimeFor(e, runID, dec.Workflow), dec.Workflow)
		if err != nil {
			e.logger.Error("assembling pipeline", zap.Error(err))
			return
		}
		if _, err := pipe.Run(ctx, issueNumber, runID); err != nil {
			e.logger.Error("workflow run failed",
				zap.Int("issue", issueNumber),
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}
}

func parseIssueArg(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue number %q", arg)
	}
	return n, nil
}

func optionalRunID(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}
