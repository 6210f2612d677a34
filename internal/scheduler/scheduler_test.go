package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/github"
)

const sampleSpec = `# Widget Tracker: MVP Specification

## 1. Overview

A widget tracking application.

## 10. Implementation Chunks

## Chunk 1: Data Model (Day 1)

Define the core schema.

### Tasks

1. Define widget table
2. Add migrations

### Deliverables

- schema.sql
- migration runner

### Acceptance Criteria

- Migrations apply cleanly
- Schema matches design doc

## Chunk 2: API Layer (Day 2)

CRUD endpoints over the data model.

### Tasks

1. Implement handlers

## Chunk 3: Background Jobs (Day 2)

Job queue wiring. Depends on Chunk 1.

## Chunk 4: UI (Day 3)

Builds on Chunk 2 and requires Chunk 3.

## 11. Out of Scope

Nothing else.
`

func TestParseExtractsChunks(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	assert.Equal(t, "Widget Tracker", spec.ProjectName)
	require.Len(t, spec.Chunks, 4)

	first := spec.Chunks[0]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "Data Model", first.Title)
	assert.Equal(t, "1", first.Estimate)
	assert.Equal(t, "Define the core schema.", first.Description)
	assert.Equal(t, []string{"Define widget table", "Add migrations"}, first.Tasks)
	assert.Equal(t, []string{"schema.sql", "migration runner"}, first.Deliverables)
	assert.Len(t, first.AcceptanceCriteria, 2)
}

func TestParseDependencies(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	// Chunk 1 is the foundation, chunk 2 defaults to its predecessor,
	// chunks 3 and 4 state dependencies explicitly.
	assert.Empty(t, spec.Chunks[0].DependsOn)
	assert.Equal(t, []int{1}, spec.Chunks[1].DependsOn)
	assert.Equal(t, []int{1}, spec.Chunks[2].DependsOn)
	assert.Equal(t, []int{2, 3}, spec.Chunks[3].DependsOn)
}

func TestParseMissingChunksSection(t *testing.T) {
	_, err := Parse("# Project: X\n\n## 1. Overview\n\nNothing here.\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Implementation Chunks")
}

func TestWaves(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	waves, err := Waves(spec.Chunks)
	require.NoError(t, err)

	// 1 alone, then 2 and 3 in parallel, then 4.
	assert.Equal(t, [][]int{{1}, {2, 3}, {4}}, waves)
}

func TestWavesEveryChunkScheduledOnce(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	waves, err := Waves(spec.Chunks)
	require.NoError(t, err)

	seen := map[int]int{}
	for _, wave := range waves {
		for _, n := range wave {
			seen[n]++
		}
	}
	assert.Len(t, seen, len(spec.Chunks))
	for n, count := range seen {
		assert.Equal(t, 1, count, "chunk %d scheduled %d times", n, count)
	}
}

func TestWavesCycleNamesStuckSet(t *testing.T) {
	chunks := []Chunk{
		{Index: 1, DependsOn: []int{3}},
		{Index: 2, DependsOn: []int{1}},
		{Index: 3, DependsOn: []int{2}},
		{Index: 4},
	}

	_, err := Waves(chunks)
	require.Error(t, err)

	var cerr *CyclicError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []int{1, 2, 3}, cerr.Remaining)
}

func TestWavesUnknownDependencyIsStuck(t *testing.T) {
	chunks := []Chunk{
		{Index: 1, DependsOn: []int{99}},
		{Index: 2, DependsOn: []int{1}},
	}

	_, err := Waves(chunks)
	require.Error(t, err)

	// A dependency on a chunk the document never defines can never be
	// satisfied, so the chunk and its dependents end up in the stuck set.
	var cerr *CyclicError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []int{1, 2}, cerr.Remaining)
}

type fakeTracker struct {
	github.Tracker
	created []string
	next    int
}

func (f *fakeTracker) CreateIssue(_ context.Context, title, body string) (*github.Issue, error) {
	f.created = append(f.created, title)
	f.next++
	return &github.Issue{Number: f.next, Title: title, Body: body}, nil
}

func TestSeedIssues(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	tracker := &fakeTracker{}
	seeder := NewSeeder(tracker, zap.NewNop())

	results, err := seeder.SeedIssues(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "Chunk 1: Data Model", results[0].Title)
	assert.Equal(t, 1, results[0].IssueNumber)
	assert.Len(t, tracker.created, 4)
}

func TestSeedIssuesDryRunCreatesNothing(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	tracker := &fakeTracker{}
	seeder := NewSeeder(tracker, zap.NewNop())
	seeder.DryRun = true

	results, err := seeder.SeedIssues(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.True(t, results[0].DryRun)
	assert.Empty(t, tracker.created)
}

func TestSeedIssuesRejectsCyclicSpec(t *testing.T) {
	spec := &Spec{
		ProjectName: "X",
		Chunks: []Chunk{
			{Index: 1, DependsOn: []int{2}},
			{Index: 2, DependsOn: []int{1}},
		},
	}
	tracker := &fakeTracker{}

	_, err := NewSeeder(tracker, zap.NewNop()).SeedIssues(context.Background(), spec)
	var cerr *CyclicError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, tracker.created)
}

func TestIssueBody(t *testing.T) {
	spec, err := Parse(sampleSpec)
	require.NoError(t, err)

	body := issueBody(spec.Chunks[3], spec)
	assert.Contains(t, body, "Chunk: 4/4")
	assert.Contains(t, body, "Dependencies: Chunk 2, Chunk 3")

	foundation := issueBody(spec.Chunks[0], spec)
	assert.Contains(t, foundation, "foundation chunk")
	assert.Contains(t, foundation, "- [ ] Migrations apply cleanly")
}
