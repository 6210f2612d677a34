package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw_output.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTranscriptLastResultWins(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"system","subtype":"init"}`,
		`{"type":"result","is_error":true,"result":"first attempt failed","session_id":"s-1"}`,
		`{"type":"assistant","message":{}}`,
		`{"type":"result","is_error":false,"result":"done","session_id":"s-2","num_turns":4}`,
	)

	records, result, err := ParseTranscript(path)
	require.NoError(t, err)
	assert.Len(t, records, 4)
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.Equal(t, "done", result.Result)
	assert.Equal(t, "s-2", result.SessionID)
	assert.Equal(t, 4, result.NumTurns)
}

func TestParseTranscriptSkipsGarbageLines(t *testing.T) {
	path := writeTranscript(t,
		`not json at all`,
		``,
		`{"type":"result","is_error":false,"result":"ok"}`,
		`{truncated`,
	)

	records, result, err := ParseTranscript(path)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	require.NotNil(t, result)
	assert.Equal(t, "ok", result.Result)
}

func TestParseTranscriptNoResultRecord(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{}}`,
	)

	_, result, err := ParseTranscript(path)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestConvertTranscript(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"system"}`,
		`{"type":"result","result":"ok"}`,
	)

	jsonPath, err := ConvertTranscript(path)
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(jsonPath))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &arr))
	assert.Len(t, arr, 2)
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Class string `json:"issue_class"`
	}

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"bare object", `{"issue_class":"/bug"}`, "/bug"},
		{
			"fenced with info string",
			"Here is the classification:\n```json\n{\"issue_class\":\"/feature\"}\n```\nDone.",
			"/feature",
		},
		{
			"bare fence",
			"```\n{\"issue_class\":\"/chore\"}\n```",
			"/chore",
		},
		{
			"surrounding prose",
			"The result is {\"issue_class\": \"/bug\"} as requested.",
			"/bug",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			require.NoError(t, ParseJSON(tt.output, &p))
			assert.Equal(t, tt.want, p.Class)
		})
	}
}

func TestParseJSONArrayPayload(t *testing.T) {
	var items []struct {
		Name string `json:"test_name"`
	}
	out := "```json\n[{\"test_name\":\"TestFoo\"},{\"test_name\":\"TestBar\"}]\n```"
	require.NoError(t, ParseJSON(out, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "TestBar", items[1].Name)
}

func TestParseJSONFailureIsParseError(t *testing.T) {
	var v map[string]any
	err := ParseJSON("I could not produce the requested output.", &v)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Raw, "could not produce")
}

type stubInvoker struct {
	resp Response
	got  TemplateRequest
}

func (s *stubInvoker) Invoke(_ context.Context, req TemplateRequest) Response {
	s.got = req
	return s.resp
}

func TestInvokeStructured(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		inv := &stubInvoker{resp: Response{Output: `{"branch_name":"feat-x"}`, Success: true}}
		var v struct {
			Branch string `json:"branch_name"`
		}
		resp, err := InvokeStructured(context.Background(), inv, TemplateRequest{SlashCommand: "/generate_branch_name"}, &v)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "feat-x", v.Branch)
	})

	t.Run("agent failure is not a parse error", func(t *testing.T) {
		inv := &stubInvoker{resp: Response{Output: "agent invocation timed out after 5m0s"}}
		var v map[string]any
		_, err := InvokeStructured(context.Background(), inv, TemplateRequest{}, &v)
		require.Error(t, err)
		var perr *ParseError
		assert.False(t, errors.As(err, &perr))
	})

	t.Run("unparseable success output is a parse error", func(t *testing.T) {
		inv := &stubInvoker{resp: Response{Output: "sure, happy to help!", Success: true}}
		var v map[string]any
		_, err := InvokeStructured(context.Background(), inv, TemplateRequest{}, &v)
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
	})
}

func TestTemplateRequestPrompt(t *testing.T) {
	req := TemplateRequest{
		SlashCommand: "/implement",
		Args:         []string{"specs/plan-42.md", "extra"},
	}
	assert.Equal(t, "/implement specs/plan-42.md extra", req.Prompt())

	bare := TemplateRequest{SlashCommand: "/test"}
	assert.Equal(t, "/test", bare.Prompt())
}
