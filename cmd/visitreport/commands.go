package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"visit-reports-go/internal/actionable"
	"visit-reports-go/internal/aggregator"
	"visit-reports-go/internal/config"
	"visit-reports-go/internal/dataset"
	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/pipeline"
	"visit-reports-go/internal/processor"
	"visit-reports-go/internal/report"
	"visit-reports-go/internal/store"
	"visit-reports-go/internal/transcription"
	"visit-reports-go/internal/types"
)

type visitFlags struct {
	customer string
	date     string
	sales    string
}

func (f *visitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&f.date, "date", "", "visit date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.sales, "sales-person", "", "sales person")
}

func (f *visitFlags) details() (types.VisitDetails, error) {
	v := types.VisitDetails{CustomerName: f.customer, SalesPerson: f.sales}
	if f.date != "" {
		d, err := time.Parse("2006-01-02", f.date)
		if err != nil {
			return v, failure.New(failure.InvalidInput, "flags", "invalid --date %q (want YYYY-MM-DD)", f.date)
		}
		v.ReportDate = d
	}
	return v, nil
}

type outputFlags struct {
	out     string
	asJSON  bool
	retries uint64
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the markdown report to this file instead of stdout")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().Uint64Var(&f.retries, "retries", 0, "retry transient provider failures this many times")
}

func setup(mode config.Mode) (*config.Config, *logger.Logger, *pipeline.Coordinator, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, nil, nil, err
	}
	log := logger.New()
	coord := pipeline.New(
		transcription.NewFromConfig(cfg.Transcription, log),
		store.New(cfg.Storage.TranscriptDir),
		report.NewFromConfig(cfg.Generation, log),
		pipeline.SettingsFromConfig(cfg),
		log,
	)
	return cfg, log, coord, nil
}

func runCmd() *cobra.Command {
	var visit visitFlags
	var output outputFlags
	cmd := &cobra.Command{
		Use:   "run <audio.mp3>",
		Short: "Transcribe a recording and generate its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := visit.details()
			if err != nil {
				return err
			}
			audio, err := types.LoadAudioFile(args[0])
			if err != nil {
				return err
			}
			_, log, coord, err := setup(config.ModeFull)
			if err != nil {
				return err
			}
			res, err := withRetries(cmd.Context(), output.retries, log, func() (processor.Result, error) {
				return processor.ProcessAudio(cmd.Context(), coord, audio, details)
			})
			return emit(cmd.OutOrStdout(), cmd.ErrOrStderr(), output, res, err)
		},
	}
	visit.register(cmd)
	output.register(cmd)
	return cmd
}

func reportCmd() *cobra.Command {
	var visit visitFlags
	var output outputFlags
	cmd := &cobra.Command{
		Use:   "report <transcription.json>",
		Short: "Generate a report from a saved transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := visit.details()
			if err != nil {
				return err
			}
			artifact, err := store.Load(args[0])
			if err != nil {
				return err
			}
			_, log, coord, err := setup(config.ModeReport)
			if err != nil {
				return err
			}
			res, err := withRetries(cmd.Context(), output.retries, log, func() (processor.Result, error) {
				return processor.ProcessTranscript(cmd.Context(), coord, artifact, details)
			})
			return emit(cmd.OutOrStdout(), cmd.ErrOrStderr(), output, res, err)
		},
	}
	visit.register(cmd)
	output.register(cmd)
	return cmd
}

func batchCmd() *cobra.Command {
	var outDir, results string
	var retries uint64
	cmd := &cobra.Command{
		Use:   "batch <manifest.xlsx>",
		Short: "Process every visit listed in a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, coord, err := setup(config.ModeFull)
			if err != nil {
				return err
			}
			records, err := dataset.LoadManifest(args[0], log)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return failure.Wrap(failure.Storage, "batch", err)
			}
			if results == "" {
				results = filepath.Join(outDir, "resultados.xlsx")
			}

			rows, all := runBatch(cmd, log, coord, records, outDir, retries)
			if err := dataset.WriteResults(results, rows); err != nil {
				return err
			}

			summary := aggregator.Aggregate(all)
			printSummary(cmd.OutOrStdout(), summary, actionable.Generate(summary))
			fmt.Fprintf(cmd.OutOrStdout(), "\nresults: %s\n", results)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d visits failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "reports", "directory for the markdown reports")
	cmd.Flags().StringVar(&results, "results", "", "results workbook (default <out-dir>/resultados.xlsx)")
	cmd.Flags().Uint64Var(&retries, "retries", 0, "retry transient provider failures this many times per visit")
	return cmd
}

// runBatch processes manifest rows one at a time. A failing row is recorded
// and the batch moves on.
func runBatch(cmd *cobra.Command, log *logger.Logger, runner processor.Runner, records []types.VisitRecord, outDir string, retries uint64) ([]dataset.ResultRow, []processor.Result) {
	rows := make([]dataset.ResultRow, 0, len(records))
	all := make([]processor.Result, 0, len(records))
	for i, rec := range records {
		if cmd.Context().Err() != nil {
			break
		}
		rowLog := log.With("row", rec.Row).With("audio", rec.AudioPath)
		fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", i+1, len(records), rec.AudioPath)

		var res processor.Result
		audio, err := types.LoadAudioFile(rec.AudioPath)
		if err != nil {
			res = processor.Result{Filename: filepath.Base(rec.AudioPath), Error: err.Error(), ErrorKind: failure.KindOf(err)}
		} else {
			res, _ = withRetries(cmd.Context(), retries, rowLog, func() (processor.Result, error) {
				return processor.ProcessAudio(cmd.Context(), runner, audio, rec.Visit)
			})
		}

		row := dataset.ResultRow{Record: rec, Result: res}
		if res.OK() {
			path := filepath.Join(outDir, reportFileName(rec.AudioPath))
			if err := os.WriteFile(path, []byte(res.Report), 0o644); err != nil {
				rowLog.WithError(err).Warn("could not write report file")
			} else {
				row.ReportPath = path
			}
		}
		rows = append(rows, row)
		all = append(all, res)
	}
	return rows, all
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show which settings are present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			checks := cfg.Check()
			keys := make([]string, 0, len(checks))
			for k := range checks {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := cmd.OutOrStdout()
			for _, k := range keys {
				mark := "ok"
				if !checks[k] {
					mark = "MISSING"
				}
				fmt.Fprintf(w, "%-22s %s\n", k, mark)
			}
			fmt.Fprintf(w, "%-22s %s\n", "language_policy", transcription.OptionsFromConfig(cfg.Transcription).Language)
			fmt.Fprintf(w, "%-22s %d\n", "max_output_tokens", cfg.Generation.MaxOutputTokens)
			return cfg.Validate(config.ModeFull)
		},
	}
}

func emit(stdout, stderr io.Writer, f outputFlags, res processor.Result, err error) error {
	if f.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}
	if res.StorageWarning != "" {
		fmt.Fprintln(stderr, "warning: transcript not saved:", res.StorageWarning)
	} else if res.StoragePath != "" {
		fmt.Fprintln(stderr, "transcript saved to", res.StoragePath)
	}
	if res.CompletionStatus == types.Incomplete {
		fmt.Fprintf(stderr, "warning: report incomplete (%s), it may be truncated\n", res.IncompleteReason)
	}
	if f.out == "" {
		_, werr := fmt.Fprintln(stdout, res.Report)
		return werr
	}
	if werr := os.WriteFile(f.out, []byte(res.Report), 0o644); werr != nil {
		return failure.Wrap(failure.Storage, "write report", werr)
	}
	fmt.Fprintln(stderr, "report written to", f.out)
	return nil
}

func printSummary(w io.Writer, s aggregator.Summary, cards []actionable.ActionCard) {
	fmt.Fprintf(w, "visits: %d  ok: %d  failed: %d  incomplete: %d  storage warnings: %d\n",
		s.Total, s.Succeeded, s.Failed, s.Incomplete, s.StorageWarnings)
	fmt.Fprintf(w, "tokens: in=%d out=%d  avg duration: %dms\n", s.InputTokens, s.OutputTokens, s.AvgDurationMs)
	printCounts(w, "languages", s.ByLanguage)
	printCounts(w, "errors", s.ByErrorKind)
	fmt.Fprintln(w, "\nfollow-up:")
	for _, c := range cards {
		fmt.Fprintf(w, "- %s: %s (%s)\n", c.Insight, c.Action, c.Impact)
	}
}

func printCounts(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	fmt.Fprintf(w, "%s: %s\n", label, strings.Join(parts, " "))
}

func reportFileName(audioPath string) string {
	base := filepath.Base(audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".md"
}

// describe renders an error with a hint per failure kind.
func describe(err error) string {
	switch failure.KindOf(err) {
	case failure.InvalidConfig:
		return err.Error() + "\n  run `visitreport check` to see which settings are missing"
	case failure.TranscriptionTimeout:
		return err.Error() + "\n  the job may still finish; look it up by id in the provider dashboard or raise TRANSCRIPTION_TIMEOUT"
	case failure.TranscriptionProvider:
		return err.Error() + "\n  the transcription provider rejected the audio"
	case failure.Generation:
		return err.Error() + "\n  report generation failed; the transcript (if saved) can be retried with `visitreport report`"
	default:
		return err.Error()
	}
}
