package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages.
const (
	StageTranscribe = "transcribe"
	StagePersist    = "persist"
	StageGenerate   = "generate"
	StageRun        = "run"
)

var (
	// StageTotal counts stage outcomes.
	// Labels: stage, outcome (ok/incomplete/warning or a failure kind)
	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitreport_stage_total",
			Help: "Total number of pipeline stage executions by outcome",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration tracks stage latency. Transcription waits on a remote
	// job, hence the long tail buckets.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitreport_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// ReportTokens accumulates generation token usage.
	// Labels: direction (input/output)
	ReportTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitreport_report_tokens_total",
			Help: "Total number of tokens consumed by report generation",
		},
		[]string{"direction"},
	)
)

// RecordStage records one stage execution.
func RecordStage(stage, outcome string, durationSeconds float64) {
	StageTotal.WithLabelValues(stage, outcome).Inc()
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordTokens adds report token usage.
func RecordTokens(input, output int) {
	if input > 0 {
		ReportTokens.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		ReportTokens.WithLabelValues("output").Add(float64(output))
	}
}
