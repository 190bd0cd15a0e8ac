package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"visit-reports-go/internal/config"
	"visit-reports-go/internal/conversation"
	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/types"
)

// Request is one report generation call.
type Request struct {
	Turns        []types.Turn
	Prompt       types.PromptRef
	OutputBudget int
	Visit        types.VisitDetails
}

// Generator renders conversations into reports through a prompt stored on
// the provider. The prompt text never lives here.
type Generator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

type Option func(*Generator)

func WithHTTPClient(hc *http.Client) Option {
	return func(g *Generator) { g.httpClient = hc }
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Generator) { g.log = l }
}

func New(baseURL, apiKey string, opts ...Option) *Generator {
	g := &Generator{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.New()
	}
	g.log = g.log.Component("report")
	return g
}

func NewFromConfig(cfg config.GenerationConfig, log *logger.Logger) *Generator {
	return New(cfg.BaseURL, cfg.APIKey,
		WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		WithLogger(log),
	)
}

// Generate sends the rendered turns to the stored prompt. A response cut
// short by the output budget comes back as an Incomplete result, not an
// error. The exchange is stored provider-side.
func (g *Generator) Generate(ctx context.Context, req Request) (*types.ReportResult, error) {
	if len(req.Turns) == 0 {
		return nil, failure.New(failure.Generation, "generate", "no conversation turns to report on")
	}
	if strings.TrimSpace(req.Prompt.ID) == "" {
		return nil, failure.New(failure.InvalidConfig, "generate", "prompt id not configured")
	}
	if req.OutputBudget <= 0 {
		return nil, failure.New(failure.InvalidConfig, "generate", "invalid output budget %d", req.OutputBudget)
	}
	if g.apiKey == "" {
		return nil, failure.New(failure.InvalidConfig, "generate", "generation API key not configured")
	}

	input := conversation.RenderVisit(req.Visit, req.Turns)
	log := g.log.With("prompt_id", req.Prompt.ID).With("turns", len(req.Turns))
	log.WithField("input_chars", len(input)).Info("requesting report")

	resp, err := g.create(ctx, responsesRequest{
		Prompt:          promptParam{ID: req.Prompt.ID, Version: req.Prompt.Version},
		Input:           input,
		MaxOutputTokens: req.OutputBudget,
		Store:           true,
	})
	if err != nil {
		log.WithError(err).Error("report request failed")
		return nil, err
	}

	result, err := resp.result()
	if err != nil {
		log.WithError(err).Error("report generation failed")
		return nil, err
	}

	entry := log.WithField("response_id", result.ResponseID).
		WithField("input_tokens", result.Usage.InputTokens).
		WithField("output_tokens", result.Usage.OutputTokens)
	if result.Truncated() {
		entry.WithField("reason", result.IncompleteReason).Warn("report incomplete, output may be truncated")
	} else {
		entry.Info("report generated")
	}
	return result, nil
}

func (g *Generator) create(ctx context.Context, body responsesRequest) (*responsesResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, failure.Wrap(failure.Generation, "generate", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, failure.Wrap(failure.Generation, "generate", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &failure.Error{Kind: failure.Canceled, Op: "generate", Err: err}
		}
		return nil, failure.Wrap(failure.Generation, "generate", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Wrap(failure.Generation, "generate", fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &failure.Error{Kind: failure.Generation, Op: "generate", Err: decodeError(resp.StatusCode, raw)}
	}

	var out responsesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, failure.Wrap(failure.Generation, "generate", fmt.Errorf("json decode error: %w", err))
	}
	return &out, nil
}

// decodeError reads the provider error envelope, falling back to the raw
// body when it is not one.
func decodeError(status int, raw []byte) error {
	var er openai.ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != nil {
		er.Error.HTTPStatusCode = status
		return er.Error
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &openai.APIError{HTTPStatusCode: status, Message: msg}
}
