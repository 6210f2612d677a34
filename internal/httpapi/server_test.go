package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/devflow/internal/agent"
	"github.com/fyrsmithlabs/devflow/internal/trigger"
	"github.com/fyrsmithlabs/devflow/internal/workflow"
)

type stubInvoker struct{ resp agent.Response }

func (s *stubInvoker) Invoke(_ context.Context, _ agent.TemplateRequest) agent.Response {
	return s.resp
}

type launchRecorder struct {
	mu     sync.Mutex
	issues []int
	decs   []trigger.Decision
	done   chan struct{}
}

func newLaunchRecorder() *launchRecorder {
	return &launchRecorder{done: make(chan struct{}, 8)}
}

func (r *launchRecorder) launch(_ context.Context, issue int, dec trigger.Decision) {
	r.mu.Lock()
	r.issues = append(r.issues, issue)
	r.decs = append(r.decs, dec)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func newTestServer(t *testing.T, inv agent.Invoker) (*Server, *launchRecorder) {
	t.Helper()
	classifier := trigger.NewClassifier(inv, "[DEVFLOW-BOT]", zap.NewNop())
	rec := newLaunchRecorder()
	srv, err := NewServer(classifier, trigger.NewMemorySeenStore(), rec.launch, zap.NewNop(), nil)
	require.NoError(t, err)
	return srv, rec
}

func postWebhook(t *testing.T, srv *Server, body string) (*httptest.ResponseRecorder, WebhookResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

const echoContentType = "Content-Type"

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubInvoker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhookFreshIssueAccepted(t *testing.T) {
	srv, rec := newTestServer(t, &stubInvoker{})

	w, resp := postWebhook(t, srv, `{"action":"opened","issue":{"number":7,"title":"Add widgets","body":"please"}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, string(workflow.KindPlanBuild), resp.Workflow)
	assert.Len(t, resp.RunID, 8)

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never launched")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int{7}, rec.issues)
	assert.Equal(t, resp.RunID, rec.decs[0].RunID)
}

func TestWebhookBotCommentIgnored(t *testing.T) {
	srv, rec := newTestServer(t, &stubInvoker{})

	_, resp := postWebhook(t, srv, `{"action":"created","issue":{"number":7},"comment":{"id":11,"body":"[DEVFLOW-BOT] abc12345_ops: starting plan phase"}}`)

	assert.Equal(t, "ignored", resp.Status)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.issues)
}

func TestWebhookCommentWithMarkerResumesRun(t *testing.T) {
	inv := &stubInvoker{resp: agent.Response{
		Output:  `{"workflow":"build","run_id":"abc12345"}`,
		Success: true,
	}}
	srv, rec := newTestServer(t, inv)

	_, resp := postWebhook(t, srv, `{"action":"created","issue":{"number":7},"comment":{"id":11,"body":"devflow build abc12345"}}`)

	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, string(workflow.KindBuild), resp.Workflow)
	assert.Equal(t, "abc12345", resp.RunID)

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never launched")
	}
}

func TestWebhookDuplicateEventIgnored(t *testing.T) {
	srv, rec := newTestServer(t, &stubInvoker{})

	_, first := postWebhook(t, srv, `{"action":"opened","issue":{"number":7,"body":"please"}}`)
	assert.Equal(t, "accepted", first.Status)
	<-rec.done

	_, second := postWebhook(t, srv, `{"action":"opened","issue":{"number":7,"body":"please"}}`)
	assert.Equal(t, "ignored", second.Status)
}

type failingSeenStore struct{}

func (failingSeenStore) Seen(int, int64) (bool, error) {
	return false, errors.New("seen store unavailable")
}
func (failingSeenStore) Mark(int, int64) error { return nil }

func TestWebhookSeenStoreErrorLoggedAndEventAccepted(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	classifier := trigger.NewClassifier(&stubInvoker{}, "[DEVFLOW-BOT]", zap.NewNop())
	rec := newLaunchRecorder()
	srv, err := NewServer(classifier, failingSeenStore{}, rec.launch, zap.New(core), nil)
	require.NoError(t, err)

	_, resp := postWebhook(t, srv, `{"action":"opened","issue":{"number":7,"body":"please"}}`)

	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, 1, logs.FilterMessage("reading seen store").Len())
}

func TestWebhookRejectsMissingIssue(t *testing.T) {
	srv, _ := newTestServer(t, &stubInvoker{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"action":"opened"}`))
	req.Header.Set(echoContentType, "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
