package actionable

import (
	"fmt"
	"sort"

	"visit-reports-go/internal/aggregator"
	"visit-reports-go/internal/failure"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Generate turns a batch summary into follow-up cards, most pressing first.
func Generate(s aggregator.Summary) []ActionCard {
	var cards []ActionCard
	if s.Total == 0 {
		return []ActionCard{{
			Insight: "No visits processed",
			Action:  "Check the manifest audio column",
			Impact:  "Nothing to report",
		}}
	}

	if n := s.ByErrorKind[string(failure.InvalidConfig)]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d visit(s) failed on configuration", n),
			Action:  "Run `visitreport check` and fix the missing keys or prompt id",
			Impact:  "Every run fails until fixed",
		})
	}
	if n := s.ByErrorKind[string(failure.TranscriptionTimeout)]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d transcription(s) timed out", n),
			Action:  "Raise TRANSCRIPTION_TIMEOUT or split long recordings",
			Impact:  "Long visits produce no report",
		})
	}
	if n := s.ByErrorKind[string(failure.TranscriptionProvider)]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d transcription(s) rejected by the provider", n),
			Action:  "Look up the diagnostic ids in the provider dashboard; check the audio files",
			Impact:  "Affected visits need re-recording or re-upload",
		})
	}
	if n := s.ByErrorKind[string(failure.Generation)]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d report generation(s) failed", n),
			Action:  "Verify OPENAI_PROMPT_ID/OPENAI_PROMPT_VERSION and retry with `visitreport report`",
			Impact:  "Transcripts are saved; only the report is missing",
		})
	}

	worst, highest := "", 0.0
	langs := make([]string, 0, len(s.IncompleteRateByLanguage))
	for lang := range s.IncompleteRateByLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if v := s.IncompleteRateByLanguage[lang]; v > highest {
			highest, worst = v, lang
		}
	}
	if highest >= 0.25 && worst != "" {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%.0f%% of %s reports were truncated", highest*100, worst),
			Action:  "Increase MAX_OUTPUT_TOKENS",
			Impact:  "Reports may miss their closing sections",
		})
	}
	if s.StorageWarnings > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d transcript(s) were not saved", s.StorageWarnings),
			Action:  "Check free space and permissions of TRANSCRIPTIONS_DIR",
			Impact:  "Reports exist but cannot be regenerated without re-transcribing",
		})
	}

	if len(cards) == 0 {
		return []ActionCard{{
			Insight: "All visits reported",
			Action:  "None",
			Impact:  "Low immediate intervention",
		}}
	}
	return cards
}
