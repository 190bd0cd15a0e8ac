package processor

import (
	"context"
	"time"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/pipeline"
	"visit-reports-go/internal/types"
)

// Runner is satisfied by *pipeline.Coordinator.
type Runner interface {
	Run(ctx context.Context, audio types.AudioAsset, visit types.VisitDetails) (*pipeline.Outcome, error)
	RunFromTranscript(ctx context.Context, artifact *types.TranscriptArtifact, visit types.VisitDetails) (*pipeline.Outcome, error)
}

// TranscriptInfo is the transcript metadata echoed back to callers.
type TranscriptInfo struct {
	TranscriptID         string         `json:"transcript_id,omitempty"`
	Language             types.Language `json:"language"`
	LanguageConfidence   *float64       `json:"language_confidence,omitempty"`
	AudioDurationSeconds *float64       `json:"audio_duration_seconds,omitempty"`
	SpeakerCount         int            `json:"speaker_count"`
	UtteranceCount       int            `json:"utterance_count"`
}

// Result is returned by /process and written per row by batch runs.
type Result struct {
	RunID            string                 `json:"run_id,omitempty"`
	Filename         string                 `json:"filename"`
	Report           string                 `json:"report,omitempty"`
	CompletionStatus types.CompletionStatus `json:"completion_status,omitempty"`
	IncompleteReason string                 `json:"incomplete_reason,omitempty"`
	Usage            types.Usage            `json:"usage"`
	ResponseID       string                 `json:"response_id,omitempty"`
	Transcript       *TranscriptInfo        `json:"transcript,omitempty"`
	StoragePath      string                 `json:"storage_path,omitempty"`
	StorageWarning   string                 `json:"storage_warning,omitempty"`
	DurationMs       int64                  `json:"duration_ms"`
	Error            string                 `json:"error,omitempty"`
	ErrorKind        failure.Kind           `json:"error_kind,omitempty"`
	DiagnosticID     string                 `json:"diagnostic_id,omitempty"`
}

// OK reports whether a report was produced, complete or not.
func (r Result) OK() bool { return r.Error == "" }

// ProcessAudio runs the full pipeline for one recording.
func ProcessAudio(ctx context.Context, runner Runner, audio types.AudioAsset, visit types.VisitDetails) (Result, error) {
	start := time.Now()
	out, err := runner.Run(ctx, audio, visit)
	return build(audio.Filename, out, err, start), err
}

// ProcessTranscript generates a report from a previously saved transcript.
func ProcessTranscript(ctx context.Context, runner Runner, artifact *types.TranscriptArtifact, visit types.VisitDetails) (Result, error) {
	start := time.Now()
	out, err := runner.RunFromTranscript(ctx, artifact, visit)
	name := ""
	if artifact != nil {
		name = artifact.OriginalFilename
	}
	return build(name, out, err, start), err
}

func build(filename string, out *pipeline.Outcome, err error, start time.Time) Result {
	res := Result{Filename: filename}
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = failure.KindOf(err)
		res.DiagnosticID = failure.DiagnosticID(err)
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	res.RunID = out.RunID
	if r := out.Report; r != nil {
		res.Report = r.Markdown
		res.CompletionStatus = r.Status
		res.IncompleteReason = r.IncompleteReason
		res.Usage = r.Usage
		res.ResponseID = r.ResponseID
	}
	if a := out.Transcript; a != nil {
		res.Transcript = &TranscriptInfo{
			TranscriptID:         a.TranscriptID,
			Language:             a.Language,
			LanguageConfidence:   a.LanguageConfidence,
			AudioDurationSeconds: a.AudioDurationSeconds,
			SpeakerCount:         a.SpeakerCount,
			UtteranceCount:       a.UtteranceCount,
		}
	}
	if out.StorageHandle != nil {
		res.StoragePath = out.StorageHandle.Path
	}
	res.StorageWarning = out.StorageWarning
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}
