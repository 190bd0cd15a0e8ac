package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/logger"
	"visit-reports-go/internal/pipeline"
	"visit-reports-go/internal/processor"
	"visit-reports-go/internal/types"
)

func TestWithRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("no retries runs once", func(t *testing.T) {
		calls := 0
		_, err := withRetries(ctx, 0, logger.Discard(), func() (processor.Result, error) {
			calls++
			return processor.Result{}, failure.New(failure.Generation, "generate", "boom")
		})
		assert.True(t, failure.IsKind(err, failure.Generation))
		assert.Equal(t, 1, calls)
	})

	t.Run("permanent kinds are not retried", func(t *testing.T) {
		calls := 0
		_, err := withRetries(ctx, 3, logger.Discard(), func() (processor.Result, error) {
			calls++
			return processor.Result{}, failure.New(failure.InvalidInput, "audio", "empty")
		})
		assert.True(t, failure.IsKind(err, failure.InvalidInput))
		assert.Equal(t, 1, calls)
	})

	t.Run("transient then success", func(t *testing.T) {
		if testing.Short() {
			t.Skip("waits for the initial backoff interval")
		}
		calls := 0
		res, err := withRetries(ctx, 2, logger.Discard(), func() (processor.Result, error) {
			calls++
			if calls == 1 {
				return processor.Result{Error: "x"}, failure.New(failure.TranscriptionProvider, "poll", "503")
			}
			return processor.Result{Report: "# ok"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "# ok", res.Report)
		assert.Equal(t, 2, calls)
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(failure.TranscriptionTimeout))
	assert.True(t, retryable(failure.Generation))
	assert.False(t, retryable(failure.InvalidConfig))
	assert.False(t, retryable(failure.Canceled))
	assert.False(t, retryable(failure.Storage))
}

type fakeRunner struct {
	fail map[string]bool
}

func (f fakeRunner) Run(_ context.Context, audio types.AudioAsset, _ types.VisitDetails) (*pipeline.Outcome, error) {
	if f.fail[audio.Filename] {
		return nil, failure.New(failure.TranscriptionTimeout, "poll", "slow").WithID("tr_1")
	}
	return &pipeline.Outcome{
		RunID:      "r",
		Report:     &types.ReportResult{Markdown: "# " + audio.Filename, Status: types.Complete},
		Transcript: &types.TranscriptArtifact{Language: types.Spanish},
	}, nil
}

func (f fakeRunner) RunFromTranscript(context.Context, *types.TranscriptArtifact, types.VisitDetails) (*pipeline.Outcome, error) {
	return nil, nil
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp3", "b.mp3"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("ID3"), 0o644))
	}
	records := []types.VisitRecord{
		{Row: 2, AudioPath: filepath.Join(dir, "a.mp3")},
		{Row: 3, AudioPath: filepath.Join(dir, "b.mp3")},
		{Row: 4, AudioPath: filepath.Join(dir, "missing.mp3")},
	}
	outDir := filepath.Join(dir, "reports")
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	rows, all := runBatch(cmd, logger.Discard(), fakeRunner{fail: map[string]bool{"b.mp3": true}}, records, outDir, 0)
	require.Len(t, rows, 3)
	require.Len(t, all, 3)

	assert.True(t, all[0].OK())
	assert.Equal(t, filepath.Join(outDir, "a.md"), rows[0].ReportPath)
	md, err := os.ReadFile(rows[0].ReportPath)
	require.NoError(t, err)
	assert.Equal(t, "# a.mp3", string(md))

	assert.Equal(t, failure.TranscriptionTimeout, all[1].ErrorKind)
	assert.Equal(t, "tr_1", all[1].DiagnosticID)
	assert.Empty(t, rows[1].ReportPath)

	assert.Equal(t, failure.InvalidInput, all[2].ErrorKind)
	assert.Contains(t, stderr.String(), "[3/3]")
}

func TestEmit(t *testing.T) {
	var stdout, stderr bytes.Buffer
	res := processor.Result{Report: "# Ficha", CompletionStatus: types.Incomplete, IncompleteReason: "max_output_tokens", StorageWarning: "disk full"}
	require.NoError(t, emit(&stdout, &stderr, outputFlags{}, res, nil))
	assert.Equal(t, "# Ficha\n", stdout.String())
	assert.Contains(t, stderr.String(), "transcript not saved: disk full")
	assert.Contains(t, stderr.String(), "report incomplete (max_output_tokens)")

	out := filepath.Join(t.TempDir(), "ficha.md")
	stdout.Reset()
	require.NoError(t, emit(&stdout, &stderr, outputFlags{out: out}, processor.Result{Report: "# Ficha"}, nil))
	assert.Empty(t, stdout.String())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "# Ficha", string(data))

	stdout.Reset()
	perr := failure.New(failure.Generation, "generate", "bad prompt")
	err = emit(&stdout, &stderr, outputFlags{asJSON: true}, processor.Result{Error: perr.Error(), ErrorKind: failure.Generation}, perr)
	assert.Same(t, perr, err)
	assert.Contains(t, stdout.String(), `"error_kind": "generation_error"`)
}

func TestCheckCommand(t *testing.T) {
	t.Setenv("ASSEMBLYAI_API_KEY", "aai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_PROMPT_ID", "pmpt_1")
	t.Setenv("TRANSCRIPTIONS_DIR", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	assert.True(t, failure.IsKind(err, failure.InvalidConfig))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	lines := out.String()
	assert.Regexp(t, `ASSEMBLYAI_API_KEY\s+ok`, lines)
	assert.Regexp(t, `OPENAI_API_KEY\s+MISSING`, lines)
	assert.Regexp(t, `transcript_dir_write\s+ok`, lines)
	assert.True(t, strings.Contains(lines, "guided(ca,es, fallback=es)"))
}

func TestDescribeAndFileName(t *testing.T) {
	assert.Contains(t, describe(failure.New(failure.InvalidConfig, "config", "missing")), "visitreport check")
	assert.Equal(t, "plain", describe(assertErr("plain")))
	assert.Equal(t, "visita 1.md", reportFileName("/data/visita 1.mp3"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
