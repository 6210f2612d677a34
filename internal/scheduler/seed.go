package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/github"
)

// SeedResult records one seeded (or rendered) chunk issue.
type SeedResult struct {
	ChunkIndex  int
	Title       string
	IssueNumber int
	DryRun      bool
}

// Seeder creates one tracker issue per implementation chunk.
type Seeder struct {
	tracker github.Tracker
	logger  *zap.Logger
	// DryRun renders issue bodies without creating anything.
	DryRun bool
}

// NewSeeder creates a Seeder posting through tracker.
func NewSeeder(tracker github.Tracker, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{tracker: tracker, logger: logger}
}

// SeedIssues creates one issue per chunk in index order and returns one
// result per chunk. Chunks are validated for schedulability first so a
// cyclic spec fails before any issue is created.
func (s *Seeder) SeedIssues(ctx context.Context, spec *Spec) ([]SeedResult, error) {
	if _, err := Waves(spec.Chunks); err != nil {
		return nil, err
	}

	results := make([]SeedResult, 0, len(spec.Chunks))
	for _, chunk := range spec.Chunks {
		title := fmt.Sprintf("Chunk %d: %s", chunk.Index, chunk.Title)
		body := issueBody(chunk, spec)

		if s.DryRun {
			s.logger.Info("dry run, skipping issue creation",
				zap.Int("chunk", chunk.Index), zap.String("title", title))
			results = append(results, SeedResult{ChunkIndex: chunk.Index, Title: title, DryRun: true})
			continue
		}

		issue, err := s.tracker.CreateIssue(ctx, title, body)
		if err != nil {
			return results, fmt.Errorf("seeding chunk %d: %w", chunk.Index, err)
		}
		results = append(results, SeedResult{
			ChunkIndex:  chunk.Index,
			Title:       title,
			IssueNumber: issue.Number,
		})
	}
	return results, nil
}

// issueBody renders the chunk as a tracker issue body: metadata, objective,
// tasks, deliverables, acceptance criteria, and the dependency list.
func issueBody(chunk Chunk, spec *Spec) string {
	var b strings.Builder

	b.WriteString("## Chunk Metadata\n\n")
	fmt.Fprintf(&b, "- Chunk: %d/%d\n", chunk.Index, len(spec.Chunks))
	fmt.Fprintf(&b, "- Project: %s\n", spec.ProjectName)
	if chunk.Estimate != "" {
		fmt.Fprintf(&b, "- Estimate: Day %s\n", chunk.Estimate)
	}
	if len(chunk.DependsOn) > 0 {
		deps := make([]string, 0, len(chunk.DependsOn))
		for _, n := range chunk.DependsOn {
			deps = append(deps, fmt.Sprintf("Chunk %d", n))
		}
		fmt.Fprintf(&b, "- Dependencies: %s\n", strings.Join(deps, ", "))
	} else {
		b.WriteString("- Dependencies: none (foundation chunk)\n")
	}

	if chunk.Description != "" {
		b.WriteString("\n## Objective\n\n")
		b.WriteString(chunk.Description)
		b.WriteString("\n")
	}

	if len(chunk.Tasks) > 0 {
		b.WriteString("\n## Tasks\n\n")
		for i, task := range chunk.Tasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, task)
		}
	}

	if len(chunk.Deliverables) > 0 {
		b.WriteString("\n## Deliverables\n\n")
		for _, d := range chunk.Deliverables {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	if len(chunk.AcceptanceCriteria) > 0 {
		b.WriteString("\n## Acceptance Criteria\n\n")
		for _, c := range chunk.AcceptanceCriteria {
			fmt.Fprintf(&b, "- [ ] %s\n", c)
		}
	}

	return b.String()
}
