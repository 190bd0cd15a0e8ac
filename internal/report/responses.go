package report

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/types"
)

const (
	statusCompleted  = "completed"
	statusIncomplete = "incomplete"
	statusFailed     = "failed"
)

type promptParam struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

type responsesRequest struct {
	Prompt          promptParam `json:"prompt"`
	Input           string      `json:"input"`
	MaxOutputTokens int         `json:"max_output_tokens"`
	Store           bool        `json:"store"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Content []contentPart `json:"content"`
}

type responseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Output []outputItem     `json:"output"`
	Usage  *responseUsage   `json:"usage"`
	Error  *openai.APIError `json:"error"`
}

// outputText concatenates every output_text part of every message item.
func (r *responsesResponse) outputText() string {
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

func (r *responsesResponse) result() (*types.ReportResult, error) {
	res := &types.ReportResult{
		Markdown:   r.outputText(),
		ResponseID: r.ID,
	}
	if r.Usage != nil {
		res.Usage = types.Usage{
			InputTokens:  r.Usage.InputTokens,
			OutputTokens: r.Usage.OutputTokens,
			TotalTokens:  r.Usage.TotalTokens,
		}
	}

	switch r.Status {
	case statusCompleted:
		if strings.TrimSpace(res.Markdown) == "" {
			return nil, failure.New(failure.Generation, "generate", "completed response carried no text").WithID(r.ID)
		}
		res.Status = types.Complete
	case statusIncomplete:
		res.Status = types.Incomplete
		if r.IncompleteDetails != nil {
			res.IncompleteReason = r.IncompleteDetails.Reason
		}
	case statusFailed:
		if r.Error != nil {
			return nil, (&failure.Error{Kind: failure.Generation, Op: "generate", Err: r.Error}).WithID(r.ID)
		}
		return nil, failure.New(failure.Generation, "generate", "provider reported failure").WithID(r.ID)
	default:
		return nil, failure.New(failure.Generation, "generate", "unexpected response status %q", r.Status).WithID(r.ID)
	}
	return res, nil
}
