package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devflow/internal/workflow"
)

const timeRound = 100 * time.Millisecond

var planCmd = &cobra.Command{
	Use:   "plan <issue-number> [run-id]",
	Short: "Classify an issue, provision its branch, and write a plan",
	Long: `Run the plan phase for a tracker issue.

Examples:
  # Plan issue 42 with a fresh run id
  devflow plan 42

  # Resume an existing run
  devflow plan 42 abc12345`,
	Args: cobra.RangeArgs(1, 2),
	RunE: phaseRunE(workflow.KindPlan),
}

var buildCmd = &cobra.Command{
	Use:   "build <issue-number> <run-id>",
	Short: "Implement the plan recorded for a run",
	Long: `Run the build phase for an existing run. The run id locates the
plan written by the plan phase; build fails fast when no plan is recorded.

Examples:
  devflow build 42 abc12345`,
	Args: cobra.ExactArgs(2),
	RunE: phaseRunE(workflow.KindBuild),
}

var skipE2E bool

var testCmd = &cobra.Command{
	Use:   "test <issue-number> [run-id]",
	Short: "Run the test batches with retry and resolution",
	Long: `Run the test phase. A run without a recorded branch gets a
dedicated test branch, so the phase also works standalone.

Examples:
  devflow test 42
  devflow test 42 abc12345
  devflow test --skip-e2e 42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: phaseRunE(workflow.KindTest),
}

var runWorkflow string

var runCmd = &cobra.Command{
	Use:   "run <issue-number> [run-id]",
	Short: "Run a composite workflow chain",
	Long: `Run a composite workflow for a tracker issue.

Examples:
  # Plan then build (the default)
  devflow run 42

  # The full pipeline
  devflow run --workflow plan_build_test 42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPhase(cmd, args, workflow.Kind(runWorkflow))
	},
}

func init() {
	testCmd.Flags().BoolVar(&skipE2E, "skip-e2e", false,
		"run only the unit batch, even when e2e scenario documents exist")
	runCmd.Flags().StringVar(&runWorkflow, "workflow", string(workflow.KindPlanBuild),
		"workflow to run: plan, build, test, plan_build, plan_build_test")
}

func phaseRunE(kind workflow.Kind) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runPhase(cmd, args, kind)
	}
}

func runPhase(cmd *cobra.Command, args []string, kind workflow.Kind) error {
	issueNumber, err := parseIssueArg(args[0])
	if err != nil {
		return err
	}

	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	e.runtime.SkipE2E = skipE2E

	return runPipeline(cmd.Context(), e, kind, issueNumber, optionalRunID(args))
}
