package aggregator

import (
	"visit-reports-go/internal/processor"
	"visit-reports-go/internal/types"
)

// Summary is the roll-up printed at the end of a batch run.
type Summary struct {
	Total                    int                `json:"total"`
	Succeeded                int                `json:"succeeded"`
	Failed                   int                `json:"failed"`
	Incomplete               int                `json:"incomplete"`
	StorageWarnings          int                `json:"storage_warnings"`
	ByErrorKind              map[string]int     `json:"by_error_kind"`
	ByLanguage               map[string]int     `json:"by_language"`
	IncompleteRateByLanguage map[string]float64 `json:"incomplete_rate_by_language"`
	InputTokens              int                `json:"input_tokens"`
	OutputTokens             int                `json:"output_tokens"`
	AvgDurationMs            int64              `json:"avg_duration_ms"`
}

func Aggregate(results []processor.Result) Summary {
	s := Summary{
		Total:                    len(results),
		ByErrorKind:              map[string]int{},
		ByLanguage:               map[string]int{},
		IncompleteRateByLanguage: map[string]float64{},
	}
	incompleteByLang := map[string]int{}
	var totalMs int64
	for _, r := range results {
		totalMs += r.DurationMs
		if !r.OK() {
			s.Failed++
			s.ByErrorKind[string(r.ErrorKind)]++
			continue
		}
		s.Succeeded++
		if r.StorageWarning != "" {
			s.StorageWarnings++
		}
		s.InputTokens += r.Usage.InputTokens
		s.OutputTokens += r.Usage.OutputTokens

		lang := string(types.UnknownLanguage)
		if r.Transcript != nil && r.Transcript.Language != "" {
			lang = string(r.Transcript.Language)
		}
		s.ByLanguage[lang]++
		if r.CompletionStatus == types.Incomplete {
			s.Incomplete++
			incompleteByLang[lang]++
		}
	}
	for lang, n := range s.ByLanguage {
		s.IncompleteRateByLanguage[lang] = float64(incompleteByLang[lang]) / float64(n)
	}
	if s.Total > 0 {
		s.AvgDurationMs = totalMs / int64(s.Total)
	}
	return s
}
