package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/processor"
	"visit-reports-go/internal/types"
)

func TestAggregate(t *testing.T) {
	ca := &processor.TranscriptInfo{Language: types.Catalan}
	es := &processor.TranscriptInfo{Language: types.Spanish}
	results := []processor.Result{
		{CompletionStatus: types.Complete, Transcript: ca, Usage: types.Usage{InputTokens: 100, OutputTokens: 200}, DurationMs: 1000},
		{CompletionStatus: types.Incomplete, Transcript: ca, Usage: types.Usage{InputTokens: 50, OutputTokens: 64}, DurationMs: 2000},
		{CompletionStatus: types.Complete, Transcript: es, StorageWarning: "disk full", DurationMs: 3000},
		{CompletionStatus: types.Complete, DurationMs: 1000},
		{Error: "boom", ErrorKind: failure.TranscriptionTimeout, DurationMs: 600000},
		{Error: "bad key", ErrorKind: failure.Generation, DurationMs: 3000},
	}

	s := Aggregate(results)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 4, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Incomplete)
	assert.Equal(t, 1, s.StorageWarnings)
	assert.Equal(t, map[string]int{"transcription_timeout": 1, "generation_error": 1}, s.ByErrorKind)
	assert.Equal(t, map[string]int{"ca": 2, "es": 1, "unknown": 1}, s.ByLanguage)
	assert.InDelta(t, 0.5, s.IncompleteRateByLanguage["ca"], 1e-9)
	assert.Zero(t, s.IncompleteRateByLanguage["es"])
	assert.Equal(t, 150, s.InputTokens)
	assert.Equal(t, 264, s.OutputTokens)
	assert.Equal(t, int64(101666), s.AvgDurationMs)
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDurationMs)
	assert.Empty(t, s.ByLanguage)
}
