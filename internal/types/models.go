package types

import (
	"encoding/json"
	"strings"
	"time"
)

// SpeakerID is the provider-assigned label of a speaker. Stable within one
// transcript only.
type SpeakerID string

type Utterance struct {
	Speaker    SpeakerID `json:"speaker"`
	Text       string    `json:"text"`
	StartMS    int64     `json:"start_ms"`
	EndMS      int64     `json:"end_ms"`
	Confidence float64   `json:"confidence"`
}

// UnmarshalJSON also accepts the provider's "start"/"end" field names so
// raw provider exports can be loaded as transcripts.
func (u *Utterance) UnmarshalJSON(b []byte) error {
	var raw struct {
		Speaker    SpeakerID `json:"speaker"`
		Text       string    `json:"text"`
		StartMS    *int64    `json:"start_ms"`
		EndMS      *int64    `json:"end_ms"`
		Start      *int64    `json:"start"`
		End        *int64    `json:"end"`
		Confidence float64   `json:"confidence"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*u = Utterance{Speaker: raw.Speaker, Text: raw.Text, Confidence: raw.Confidence}
	switch {
	case raw.StartMS != nil:
		u.StartMS = *raw.StartMS
	case raw.Start != nil:
		u.StartMS = *raw.Start
	}
	switch {
	case raw.EndMS != nil:
		u.EndMS = *raw.EndMS
	case raw.End != nil:
		u.EndMS = *raw.End
	}
	return nil
}

// Clamp forces StartMS >= 0, EndMS >= StartMS and Confidence into [0,1].
// It reports whether anything changed.
func (u *Utterance) Clamp() bool {
	orig := *u
	u.StartMS = max(u.StartMS, 0)
	u.EndMS = max(u.EndMS, u.StartMS)
	u.Confidence = min(max(u.Confidence, 0), 1)
	return *u != orig
}

// Turn is one or more consecutive same-speaker utterances merged together.
type Turn struct {
	Speaker SpeakerID `json:"speaker"`
	Text    string    `json:"text"`
}

type Language string

const (
	Spanish         Language = "es"
	Catalan         Language = "ca"
	English         Language = "en"
	UnknownLanguage Language = "unknown"
)

var knownLanguages = map[Language]bool{
	Spanish: true, Catalan: true, English: true,
	"fr": true, "pt": true, "it": true, "de": true, "gl": true, "eu": true,
}

// ParseLanguage maps a provider language code ("es", "es_es", "ES-es") onto
// a Language. Anything outside the known set is UnknownLanguage.
func ParseLanguage(code string) Language {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if knownLanguages[Language(code)] {
		return Language(code)
	}
	return UnknownLanguage
}

// IsKnown reports whether l is part of the supported language set.
func (l Language) IsKnown() bool { return knownLanguages[l] }

// TranscriptArtifact is the persisted record of one transcription run.
type TranscriptArtifact struct {
	CreatedAt            time.Time   `json:"created_at"`
	OriginalFilename     string      `json:"original_filename"`
	TranscriptID         string      `json:"transcript_id,omitempty"`
	Language             Language    `json:"language"`
	LanguageConfidence   *float64    `json:"language_confidence"`
	AudioDurationSeconds *float64    `json:"audio_duration_seconds,omitempty"`
	SpeakerCount         int         `json:"speaker_count"`
	UtteranceCount       int         `json:"utterance_count"`
	Utterances           []Utterance `json:"utterances"`
	FullText             string      `json:"full_text"`
}

// Finalize clamps utterance timing and confidence, then recomputes the
// derived fields from Utterances: speaker and utterance counts and the
// plain full text (utterance texts joined by a single space, no turn
// merging).
func (a *TranscriptArtifact) Finalize() {
	if a.Utterances == nil {
		a.Utterances = []Utterance{}
	}
	for i := range a.Utterances {
		a.Utterances[i].Clamp()
	}
	a.UtteranceCount = len(a.Utterances)
	a.SpeakerCount = len(a.Speakers())
	texts := make([]string, 0, len(a.Utterances))
	for _, u := range a.Utterances {
		texts = append(texts, u.Text)
	}
	a.FullText = strings.Join(texts, " ")
	if a.Language == "" {
		a.Language = UnknownLanguage
	}
}

// Speakers returns the distinct speakers in first-appearance order.
func (a *TranscriptArtifact) Speakers() []SpeakerID {
	seen := make(map[SpeakerID]bool)
	var out []SpeakerID
	for _, u := range a.Utterances {
		if !seen[u.Speaker] {
			seen[u.Speaker] = true
			out = append(out, u.Speaker)
		}
	}
	return out
}

// PromptRef points at a prompt stored on the generation provider. Version
// is optional; empty means the provider's current version.
type PromptRef struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version,omitempty" yaml:"version"`
}

type CompletionStatus string

const (
	Complete   CompletionStatus = "complete"
	Incomplete CompletionStatus = "incomplete"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ReportResult is either a complete report or a usable-but-truncated one.
// Hard failures never produce a ReportResult.
type ReportResult struct {
	Markdown         string           `json:"markdown"`
	Status           CompletionStatus `json:"completion_status"`
	IncompleteReason string           `json:"incomplete_reason,omitempty"`
	Usage            Usage            `json:"usage"`
	ResponseID       string           `json:"response_id,omitempty"`
}

func (r *ReportResult) Truncated() bool { return r.Status == Incomplete }

// VisitDetails is optional context about the sales visit.
type VisitDetails struct {
	CustomerName string    `json:"customer_name,omitempty"`
	ReportDate   time.Time `json:"report_date,omitempty"`
	SalesPerson  string    `json:"sales_person,omitempty"`
}

func (v VisitDetails) IsZero() bool {
	return strings.TrimSpace(v.CustomerName) == "" && v.ReportDate.IsZero() && strings.TrimSpace(v.SalesPerson) == ""
}

// VisitRecord is one row of a batch manifest.
type VisitRecord struct {
	Row       int          `json:"row"`
	AudioPath string       `json:"audio_path"`
	Visit     VisitDetails `json:"visit"`
}
