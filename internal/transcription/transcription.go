package transcription

import (
	"fmt"
	"strings"

	"visit-reports-go/internal/config"
	"visit-reports-go/internal/failure"
)

// Language policy modes.
const (
	PolicyGuided = config.PolicyGuided
	PolicyForced = config.PolicyForced
)

// MinReliableDetectionSeconds is the documented minimum amount of speech
// for guided detection to give a reliable signal. Shorter audio may come
// back as an unknown language, which is not an error.
const MinReliableDetectionSeconds = 15

// LanguagePolicy selects how the provider decides the transcript language.
type LanguagePolicy struct {
	Mode       string
	Forced     string
	Candidates []string
	Fallback   string
}

// Forced transcribes strictly in one language.
func Forced(code string) LanguagePolicy {
	return LanguagePolicy{Mode: PolicyForced, Forced: code}
}

// Guided restricts detection to candidates and falls back when unsure.
func Guided(candidates []string, fallback string) LanguagePolicy {
	return LanguagePolicy{Mode: PolicyGuided, Candidates: candidates, Fallback: fallback}
}

// Options configures one transcription request.
type Options struct {
	MinSpeakers int
	MaxSpeakers int
	Language    LanguagePolicy
}

// OptionsFromConfig derives request options from the transcription settings.
func OptionsFromConfig(cfg config.TranscriptionConfig) Options {
	opts := Options{MinSpeakers: cfg.MinSpeakers, MaxSpeakers: cfg.MaxSpeakers}
	if cfg.LanguagePolicy == PolicyForced {
		opts.Language = Forced(cfg.ForcedLanguage)
	} else {
		opts.Language = Guided(cfg.Candidates, cfg.FallbackLanguage)
	}
	return opts
}

func (o Options) Validate() error {
	if o.MinSpeakers < 1 || o.MaxSpeakers < 1 || o.MinSpeakers > o.MaxSpeakers {
		return failure.New(failure.InvalidConfig, "transcribe", "invalid speaker range: min=%d max=%d", o.MinSpeakers, o.MaxSpeakers)
	}
	switch o.Language.Mode {
	case PolicyForced:
		if strings.TrimSpace(o.Language.Forced) == "" {
			return failure.New(failure.InvalidConfig, "transcribe", "forced language policy without a language")
		}
	case PolicyGuided:
		if len(o.Language.Candidates) == 0 || strings.TrimSpace(o.Language.Fallback) == "" {
			return failure.New(failure.InvalidConfig, "transcribe", "guided language policy needs candidates and a fallback")
		}
	default:
		return failure.New(failure.InvalidConfig, "transcribe", "unknown language policy %q", o.Language.Mode)
	}
	return nil
}

func (p LanguagePolicy) String() string {
	if p.Mode == PolicyForced {
		return fmt.Sprintf("forced(%s)", p.Forced)
	}
	return fmt.Sprintf("guided(%s, fallback=%s)", strings.Join(p.Candidates, ","), p.Fallback)
}

// provider wire format

const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusError      = "error"
)

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type speakerOptions struct {
	MinSpeakersExpected int `json:"min_speakers_expected"`
	MaxSpeakersExpected int `json:"max_speakers_expected"`
}

type languageDetectionOptions struct {
	ExpectedLanguages []string `json:"expected_languages"`
	FallbackLanguage  string   `json:"fallback_language"`
}

type transcriptRequest struct {
	AudioURL                 string                    `json:"audio_url"`
	SpeakerLabels            bool                      `json:"speaker_labels"`
	SpeakerOptions           *speakerOptions           `json:"speaker_options,omitempty"`
	LanguageCode             string                    `json:"language_code,omitempty"`
	LanguageDetection        bool                      `json:"language_detection,omitempty"`
	LanguageDetectionOptions *languageDetectionOptions `json:"language_detection_options,omitempty"`
}

type providerUtterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

type transcriptResponse struct {
	ID                 string              `json:"id"`
	Status             string              `json:"status"`
	Error              string              `json:"error,omitempty"`
	Text               string              `json:"text"`
	LanguageCode       string              `json:"language_code"`
	LanguageConfidence *float64            `json:"language_confidence"`
	AudioDuration      *float64            `json:"audio_duration"`
	Utterances         []providerUtterance `json:"utterances"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newTranscriptRequest(audioURL string, opts Options) transcriptRequest {
	req := transcriptRequest{
		AudioURL:      audioURL,
		SpeakerLabels: true,
		SpeakerOptions: &speakerOptions{
			MinSpeakersExpected: opts.MinSpeakers,
			MaxSpeakersExpected: opts.MaxSpeakers,
		},
	}
	if opts.Language.Mode == PolicyForced {
		req.LanguageCode = opts.Language.Forced
		return req
	}
	req.LanguageDetection = true
	req.LanguageDetectionOptions = &languageDetectionOptions{
		ExpectedLanguages: opts.Language.Candidates,
		FallbackLanguage:  opts.Language.Fallback,
	}
	return req
}
