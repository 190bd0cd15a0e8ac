package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"visit-reports-go/internal/config"
	"visit-reports-go/internal/conversation"
	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/metrics"
	"visit-reports-go/internal/report"
	"visit-reports-go/internal/store"
	"visit-reports-go/internal/transcription"
	"visit-reports-go/internal/types"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio types.AudioAsset, opts transcription.Options) (*types.TranscriptArtifact, error)
}

type TranscriptStore interface {
	Persist(a *types.TranscriptArtifact) (store.Handle, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, req report.Request) (*types.ReportResult, error)
}

// Settings are the per-run knobs taken from configuration.
type Settings struct {
	Transcription transcription.Options
	Prompt        types.PromptRef
	OutputBudget  int
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Transcription: transcription.OptionsFromConfig(cfg.Transcription),
		Prompt:        cfg.Generation.Prompt,
		OutputBudget:  cfg.Generation.MaxOutputTokens,
	}
}

// Outcome is what a successful run hands back. Report is always set;
// StorageWarning is set when the transcript could not be persisted.
type Outcome struct {
	RunID          string
	Report         *types.ReportResult
	Transcript     *types.TranscriptArtifact
	Turns          []types.Turn
	StorageHandle  *store.Handle
	StorageWarning string
}

// Coordinator runs transcribe, normalize, persist and generate in order.
type Coordinator struct {
	transcriber Transcriber
	store       TranscriptStore
	generator   ReportGenerator
	settings    Settings
	log         *logger.Logger
}

func New(t Transcriber, s TranscriptStore, g ReportGenerator, settings Settings, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.New()
	}
	return &Coordinator{
		transcriber: t,
		store:       s,
		generator:   g,
		settings:    settings,
		log:         log.Component("pipeline"),
	}
}

// Run processes one audio recording. Errors from transcription and
// generation are returned unchanged; a persistence failure only sets
// Outcome.StorageWarning.
func (c *Coordinator) Run(ctx context.Context, audio types.AudioAsset, visit types.VisitDetails) (*Outcome, error) {
	out := &Outcome{RunID: uuid.NewString()}
	log := c.log.With("run_id", out.RunID).With("filename", audio.Filename)
	runStart := time.Now()

	start := time.Now()
	artifact, err := c.transcriber.Transcribe(ctx, audio, c.settings.Transcription)
	record(metrics.StageTranscribe, err, start)
	if err != nil {
		log.WithError(err).WithField("kind", failure.KindOf(err)).Error("transcription stage failed")
		record(metrics.StageRun, err, runStart)
		return nil, err
	}
	out.Transcript = artifact
	out.Turns = conversation.Normalize(artifact.Utterances)
	log.WithField("utterances", artifact.UtteranceCount).WithField("turns", len(out.Turns)).Info("conversation normalized")

	start = time.Now()
	handle, err := c.store.Persist(artifact)
	if err != nil {
		out.StorageWarning = err.Error()
		metrics.RecordStage(metrics.StagePersist, "warning", time.Since(start).Seconds())
		log.WithError(err).Warn("transcript not saved, continuing with report")
	} else {
		out.StorageHandle = &handle
		metrics.RecordStage(metrics.StagePersist, "ok", time.Since(start).Seconds())
		log.WithField("path", handle.Path).Info("transcript saved")
	}

	if err := c.generate(ctx, log, out, visit); err != nil {
		record(metrics.StageRun, err, runStart)
		return nil, err
	}
	record(metrics.StageRun, nil, runStart)
	return out, nil
}

// RunFromTranscript skips transcription and persistence and reports on a
// transcript that was saved earlier.
func (c *Coordinator) RunFromTranscript(ctx context.Context, artifact *types.TranscriptArtifact, visit types.VisitDetails) (*Outcome, error) {
	if artifact == nil || len(artifact.Utterances) == 0 {
		return nil, failure.New(failure.InvalidInput, "run", "transcript has no utterances")
	}
	out := &Outcome{RunID: uuid.NewString(), Transcript: artifact}
	log := c.log.With("run_id", out.RunID).With("filename", artifact.OriginalFilename)
	runStart := time.Now()

	out.Turns = conversation.Normalize(artifact.Utterances)
	if err := c.generate(ctx, log, out, visit); err != nil {
		record(metrics.StageRun, err, runStart)
		return nil, err
	}
	record(metrics.StageRun, nil, runStart)
	return out, nil
}

func (c *Coordinator) generate(ctx context.Context, log *logger.Logger, out *Outcome, visit types.VisitDetails) error {
	start := time.Now()
	res, err := c.generator.Generate(ctx, report.Request{
		Turns:        out.Turns,
		Prompt:       c.settings.Prompt,
		OutputBudget: c.settings.OutputBudget,
		Visit:        visit,
	})
	if err != nil {
		record(metrics.StageGenerate, err, start)
		log.WithError(err).WithField("kind", failure.KindOf(err)).Error("report stage failed")
		return err
	}
	outcome := "ok"
	if res.Truncated() {
		outcome = "incomplete"
	}
	metrics.RecordStage(metrics.StageGenerate, outcome, time.Since(start).Seconds())
	metrics.RecordTokens(res.Usage.InputTokens, res.Usage.OutputTokens)
	out.Report = res
	return nil
}

func record(stage string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
	}
	metrics.RecordStage(stage, outcome, time.Since(start).Seconds())
}
