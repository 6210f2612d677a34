package trigger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/agent"
	"github.com/fyrsmithlabs/devflow/internal/github"
	"github.com/fyrsmithlabs/devflow/internal/workflow"
)

const botMarker = "[DEVFLOW-BOT]"

type stubInvoker struct {
	resp  agent.Response
	calls int
}

func (s *stubInvoker) Invoke(_ context.Context, _ agent.TemplateRequest) agent.Response {
	s.calls++
	return s.resp
}

func TestClassifyIgnoresOwnComments(t *testing.T) {
	inv := &stubInvoker{}
	c := NewClassifier(inv, botMarker, zap.NewNop())

	dec := c.Classify(context.Background(), Event{
		IssueNumber: 7,
		CommentID:   10,
		Body:        botMarker + " abc12345_ops: starting plan phase",
	})

	assert.False(t, dec.Actionable)
	assert.Zero(t, inv.calls, "bot comments must not reach the agent")
}

func TestClassifyFreshIssueGetsDefaultWorkflow(t *testing.T) {
	inv := &stubInvoker{}
	c := NewClassifier(inv, botMarker, zap.NewNop())

	dec := c.Classify(context.Background(), Event{IssueNumber: 7, Body: "Please add widgets"})

	assert.True(t, dec.Actionable)
	assert.Equal(t, workflow.KindPlanBuild, dec.Workflow)
	assert.Empty(t, dec.RunID)
	assert.Zero(t, inv.calls)
}

func TestClassifyMarkerDelegatesToAgent(t *testing.T) {
	inv := &stubInvoker{resp: agent.Response{
		Output:  `{"workflow":"plan_build_test","run_id":"abc12345"}`,
		Success: true,
	}}
	c := NewClassifier(inv, botMarker, zap.NewNop())

	dec := c.Classify(context.Background(), Event{
		IssueNumber: 7,
		CommentID:   11,
		Body:        "devflow plan_build_test abc12345",
	})

	assert.True(t, dec.Actionable)
	assert.Equal(t, workflow.KindPlanBuildTest, dec.Workflow)
	assert.Equal(t, "abc12345", dec.RunID)
	assert.Equal(t, 1, inv.calls)
}

func TestClassifyRejectsUnknownWorkflow(t *testing.T) {
	inv := &stubInvoker{resp: agent.Response{
		Output:  `{"workflow":"deploy","run_id":""}`,
		Success: true,
	}}
	c := NewClassifier(inv, botMarker, zap.NewNop())

	dec := c.Classify(context.Background(), Event{IssueNumber: 7, CommentID: 11, Body: "devflow deploy"})

	assert.False(t, dec.Actionable)
	assert.Contains(t, dec.Reason, "deploy")
}

func TestClassifyBuildWithoutRunIDRejected(t *testing.T) {
	inv := &stubInvoker{resp: agent.Response{
		Output:  `{"workflow":"build","run_id":""}`,
		Success: true,
	}}
	c := NewClassifier(inv, botMarker, zap.NewNop())

	dec := c.Classify(context.Background(), Event{IssueNumber: 7, CommentID: 11, Body: "devflow build"})

	assert.False(t, dec.Actionable)
	assert.Contains(t, dec.Reason, "run id")
}

func TestClassifyNoMarkerNotActionable(t *testing.T) {
	inv := &stubInvoker{}
	c := NewClassifier(inv, botMarker, zap.NewNop())

	dec := c.Classify(context.Background(), Event{IssueNumber: 7, CommentID: 11, Body: "thanks, looks good"})

	assert.False(t, dec.Actionable)
	assert.Zero(t, inv.calls)
}

func TestFileSeenStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")

	s := NewFileSeenStore(path)
	seen, err := s.Seen(7, 11)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(7, 11))
	seen, err = s.Seen(7, 11)
	require.NoError(t, err)
	assert.True(t, seen)

	// A newer comment on the same issue is unseen.
	seen, err = s.Seen(7, 12)
	require.NoError(t, err)
	assert.False(t, seen)

	reopened := NewFileSeenStore(path)
	seen, err = reopened.Seen(7, 11)
	require.NoError(t, err)
	assert.True(t, seen)
}

type pollTracker struct {
	issues   []*github.Issue
	comments map[int][]*github.Comment
}

func (p *pollTracker) FetchIssue(_ context.Context, n int) (*github.Issue, error) { return nil, nil }
func (p *pollTracker) FetchOpenIssues(_ context.Context) ([]*github.Issue, error) {
	return p.issues, nil
}
func (p *pollTracker) FetchComments(_ context.Context, n int) ([]*github.Comment, error) {
	return p.comments[n], nil
}
func (p *pollTracker) CreateComment(_ context.Context, _ int, _ string) error { return nil }
func (p *pollTracker) CreateIssue(_ context.Context, _, _ string) (*github.Issue, error) {
	return nil, nil
}
func (p *pollTracker) FindPRForBranch(_ context.Context, _ string) (*github.PullRequest, error) {
	return nil, nil
}
func (p *pollTracker) CreatePR(_ context.Context, _, _, _, _ string) (*github.PullRequest, error) {
	return nil, nil
}

func TestPollerCycleLaunchesOncePerEvent(t *testing.T) {
	tracker := &pollTracker{
		issues: []*github.Issue{
			{Number: 7, Body: "Please add widgets"},
			{Number: 8, Body: "old issue"},
		},
		comments: map[int][]*github.Comment{
			8: {{ID: 30, Body: "unrelated chatter"}},
		},
	}
	classifier := NewClassifier(&stubInvoker{}, botMarker, zap.NewNop())

	var mu sync.Mutex
	launched := map[int]int{}
	done := make(chan struct{}, 8)
	launch := func(_ context.Context, issue int, _ Decision) {
		mu.Lock()
		launched[issue]++
		mu.Unlock()
		done <- struct{}{}
	}

	p := NewPoller(tracker, classifier, NewMemorySeenStore(), launch, time.Minute, zap.NewNop())

	// Two cycles over the same events must launch at most once per event.
	p.Cycle(context.Background())
	p.Cycle(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no workflow launched")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, launched[7], "fresh issue launched exactly once")
	assert.Zero(t, launched[8], "non-actionable comment never launches")
}

func TestPollerStopIsGraceful(t *testing.T) {
	tracker := &pollTracker{}
	classifier := NewClassifier(&stubInvoker{}, botMarker, zap.NewNop())
	p := NewPoller(tracker, classifier, NewMemorySeenStore(), func(context.Context, int, Decision) {}, time.Minute, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}
