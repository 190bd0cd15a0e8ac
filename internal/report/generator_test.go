package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/types"
)

type fakeResponses struct {
	t      *testing.T
	status int
	body   string
	calls  atomic.Int32
	got    map[string]any
}

func (f *fakeResponses) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	assert.Equal(f.t, http.MethodPost, r.Method)
	assert.Equal(f.t, "/v1/responses", r.URL.Path)
	assert.Equal(f.t, "Bearer sk-test", r.Header.Get("Authorization"))
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.got))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.body))
}

func newTestGenerator(t *testing.T, f *fakeResponses) *Generator {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/v1", "sk-test", WithHTTPClient(srv.Client()), WithLogger(logger.Discard()))
}

func sampleRequest() Request {
	return Request{
		Turns: []types.Turn{
			{Speaker: "A", Text: "Buenos días, vengo a presentar la nueva gama."},
			{Speaker: "B", Text: "Perfecto, cuénteme."},
		},
		Prompt:       types.PromptRef{ID: "pmpt_abc", Version: "3"},
		OutputBudget: 16384,
	}
}

const completedBody = `{
  "id": "resp_1",
  "status": "completed",
  "error": null,
  "incomplete_details": null,
  "output": [
    {"type": "reasoning", "summary": []},
    {"type": "message", "role": "assistant", "content": [
      {"type": "output_text", "text": "# Ficha post-visita\n", "annotations": []},
      {"type": "output_text", "text": "- Cliente interesado", "annotations": []}
    ]}
  ],
  "usage": {"input_tokens": 120, "output_tokens": 480, "total_tokens": 600}
}`

func TestGenerate_Complete(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: completedBody}
	g := newTestGenerator(t, f)

	res, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, types.Complete, res.Status)
	assert.False(t, res.Truncated())
	assert.Equal(t, "# Ficha post-visita\n- Cliente interesado", res.Markdown)
	assert.Equal(t, types.Usage{InputTokens: 120, OutputTokens: 480, TotalTokens: 600}, res.Usage)
	assert.Equal(t, "resp_1", res.ResponseID)

	assert.Equal(t, map[string]any{"id": "pmpt_abc", "version": "3"}, f.got["prompt"])
	assert.Equal(t, "A: Buenos días, vengo a presentar la nueva gama.\nB: Perfecto, cuénteme.", f.got["input"])
	assert.Equal(t, 16384.0, f.got["max_output_tokens"])
	assert.Equal(t, true, f.got["store"])
}

func TestGenerate_OmitsEmptyPromptVersion(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: completedBody}
	g := newTestGenerator(t, f)

	req := sampleRequest()
	req.Prompt.Version = ""
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "pmpt_abc"}, f.got["prompt"])
}

func TestGenerate_VisitDetailsPrefix(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: completedBody}
	g := newTestGenerator(t, f)

	req := sampleRequest()
	req.Visit = types.VisitDetails{CustomerName: "Ferretería Puig", ReportDate: time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC)}
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "DETALLES DE LA VISITA:\n- Cliente: Ferretería Puig\n- Fecha: 2025-05-06\n\n"+
		"A: Buenos días, vengo a presentar la nueva gama.\nB: Perfecto, cuénteme.", f.got["input"])
}

func TestGenerate_IncompleteIsNotAnError(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: `{
  "id": "resp_2",
  "status": "incomplete",
  "incomplete_details": {"reason": "max_output_tokens"},
  "output": [{"type": "message", "content": [{"type": "output_text", "text": "# Ficha\n- Cliente: ..."}]}],
  "usage": {"input_tokens": 100, "output_tokens": 64, "total_tokens": 164}
}`}
	g := newTestGenerator(t, f)

	req := sampleRequest()
	req.OutputBudget = 64
	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.Incomplete, res.Status)
	assert.True(t, res.Truncated())
	assert.Equal(t, "max_output_tokens", res.IncompleteReason)
	assert.Equal(t, "# Ficha\n- Cliente: ...", res.Markdown)
}

func TestGenerate_IncompleteWithoutText(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: `{
  "id": "resp_3", "status": "incomplete",
  "incomplete_details": {"reason": "max_output_tokens"},
  "output": [{"type": "reasoning", "summary": []}]
}`}
	g := newTestGenerator(t, f)

	res, err := g.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, types.Incomplete, res.Status)
	assert.Equal(t, "", res.Markdown)
	assert.Equal(t, "max_output_tokens", res.IncompleteReason)
	assert.Equal(t, "resp_3", res.ResponseID)
}

func TestGenerate_CompletedWithoutTextFails(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: `{
  "id": "resp_4", "status": "completed",
  "output": [{"type": "reasoning", "summary": []}]
}`}
	g := newTestGenerator(t, f)

	_, err := g.Generate(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.Generation))
	assert.Equal(t, "resp_4", failure.DiagnosticID(err))
}

func TestGenerate_ProviderErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{
			name:    "unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`,
			message: "Incorrect API key provided",
		},
		{
			name:    "unknown prompt",
			status:  http.StatusNotFound,
			body:    `{"error": {"message": "Prompt 'pmpt_abc' not found.", "type": "invalid_request_error", "param": "prompt"}}`,
			message: "not found",
		},
		{
			name:    "gateway html",
			status:  http.StatusBadGateway,
			body:    `<html>bad gateway</html>`,
			message: "bad gateway",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeResponses{t: t, status: tc.status, body: tc.body}
			g := newTestGenerator(t, f)

			res, err := g.Generate(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, failure.IsKind(err, failure.Generation))

			var apiErr *openai.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.HTTPStatusCode)
			assert.Contains(t, apiErr.Message, tc.message)
			assert.Equal(t, int32(1), f.calls.Load())
		})
	}
}

func TestGenerate_FailedStatus(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: `{
  "id": "resp_4", "status": "failed",
  "error": {"code": "server_error", "message": "The model failed to generate a response."},
  "output": []
}`}
	g := newTestGenerator(t, f)

	_, err := g.Generate(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.Generation))
	assert.Equal(t, "resp_4", failure.DiagnosticID(err))
	assert.Contains(t, err.Error(), "failed to generate")
}

func TestGenerate_MalformedBody(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: `{"id": "resp_5", "status": `}
	g := newTestGenerator(t, f)

	_, err := g.Generate(context.Background(), sampleRequest())
	assert.True(t, failure.IsKind(err, failure.Generation))
}

func TestGenerate_RejectsBeforeNetwork(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: completedBody}
	g := newTestGenerator(t, f)

	noTurns := sampleRequest()
	noTurns.Turns = nil
	_, err := g.Generate(context.Background(), noTurns)
	assert.True(t, failure.IsKind(err, failure.Generation))

	noPrompt := sampleRequest()
	noPrompt.Prompt.ID = " "
	_, err = g.Generate(context.Background(), noPrompt)
	assert.True(t, failure.IsKind(err, failure.InvalidConfig))

	noBudget := sampleRequest()
	noBudget.OutputBudget = 0
	_, err = g.Generate(context.Background(), noBudget)
	assert.True(t, failure.IsKind(err, failure.InvalidConfig))

	assert.Zero(t, f.calls.Load())
}

func TestGenerate_Canceled(t *testing.T) {
	f := &fakeResponses{t: t, status: http.StatusOK, body: completedBody}
	g := newTestGenerator(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, sampleRequest())
	assert.True(t, failure.IsKind(err, failure.Canceled), "got %v", err)
}
