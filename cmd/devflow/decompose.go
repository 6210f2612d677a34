package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/devflow/internal/scheduler"
)

var (
	decomposeSeed   bool
	decomposeDryRun bool
)

var decomposeCmd = &cobra.Command{
	Use:   "decompose <spec-file>",
	Short: "Decompose a specification into ordered implementation chunks",
	Long: `Parse a specification document's Implementation Chunks section,
compute the dependency-ordered execution waves, and optionally seed one
tracker issue per chunk.

Examples:
  # Show the execution plan
  devflow decompose specs/mvp.md

  # Preview the issues without creating them
  devflow decompose --seed --dry-run specs/mvp.md

  # Create one tracker issue per chunk
  devflow decompose --seed specs/mvp.md`,
	Args: cobra.ExactArgs(1),
	RunE: runDecompose,
}

func init() {
	decomposeCmd.Flags().BoolVar(&decomposeSeed, "seed", false, "create one tracker issue per chunk")
	decomposeCmd.Flags().BoolVar(&decomposeDryRun, "dry-run", false, "with --seed, render issues without creating them")
}

func runDecompose(cmd *cobra.Command, args []string) error {
	doc, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading spec: %w", err)
	}

	spec, err := scheduler.Parse(string(doc))
	if err != nil {
		return err
	}

	waves, err := scheduler.Waves(spec.Chunks)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d chunks in %d waves\n\n", spec.ProjectName, len(spec.Chunks), len(waves))
	byIndex := map[int]scheduler.Chunk{}
	for _, c := range spec.Chunks {
		byIndex[c.Index] = c
	}
	for i, wave := range waves {
		fmt.Printf("wave %d:\n", i+1)
		for _, n := range wave {
			c := byIndex[n]
			deps := "none"
			if len(c.DependsOn) > 0 {
				parts := make([]string, 0, len(c.DependsOn))
				for _, d := range c.DependsOn {
					parts = append(parts, fmt.Sprintf("%d", d))
				}
				deps = strings.Join(parts, ", ")
			}
			fmt.Printf("  chunk %d: %s (depends on: %s)\n", c.Index, c.Title, deps)
		}
	}

	if !decomposeSeed {
		return nil
	}

	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	seeder := scheduler.NewSeeder(e.tracker, e.logger)
	seeder.DryRun = decomposeDryRun
	results, err := seeder.SeedIssues(cmd.Context(), spec)
	if err != nil {
		return err
	}

	fmt.Println()
	for _, r := range results {
		if r.DryRun {
			fmt.Printf("would create: %s\n", r.Title)
			continue
		}
		fmt.Printf("created #%d: %s\n", r.IssueNumber, r.Title)
	}
	return nil
}
