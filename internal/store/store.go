package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"visit-reports-go/internal/failure"
	"visit-reports-go/internal/types"
)

const timestampLayout = "20060102_150405"

// Handle locates a persisted transcript.
type Handle struct {
	Path string `json:"path"`
}

// Store writes transcript artifacts as JSON files under one directory.
type Store struct {
	dir string
	now func() time.Time
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Persist writes the artifact to transcription_<timestamp>_<name>.json.
// The file appears atomically; a later write with the same name replaces it.
func (s *Store) Persist(a *types.TranscriptArtifact) (Handle, error) {
	if a == nil {
		return Handle{}, failure.New(failure.Storage, "persist", "nil transcript")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Handle{}, failure.Wrap(failure.Storage, "persist", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return Handle{}, failure.Wrap(failure.Storage, "persist", err)
	}

	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	path := filepath.Join(s.dir, Filename(created, a.OriginalFilename))

	tmp, err := os.CreateTemp(s.dir, ".transcription-*.tmp")
	if err != nil {
		return Handle{}, failure.Wrap(failure.Storage, "persist", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return Handle{}, failure.Wrap(failure.Storage, "persist", err)
	}
	if err := tmp.Close(); err != nil {
		return Handle{}, failure.Wrap(failure.Storage, "persist", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Handle{}, failure.Wrap(failure.Storage, "persist", err)
	}
	return Handle{Path: path}, nil
}

// Load reads a transcript previously written by Persist, or a raw provider
// export with the same utterance shape.
func Load(path string) (*types.TranscriptArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, "load transcript", err)
	}
	defer f.Close()
	return Read(f, path)
}

// Read decodes a transcript from r. name is used in errors and as the
// original filename when the record has none.
func Read(r io.Reader, name string) (*types.TranscriptArtifact, error) {
	var a types.TranscriptArtifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, failure.Wrap(failure.InvalidInput, "load transcript", fmt.Errorf("%s: %w", name, err))
	}
	if len(a.Utterances) == 0 {
		return nil, failure.New(failure.InvalidInput, "load transcript", "%s has no utterances", name)
	}
	if a.OriginalFilename == "" {
		a.OriginalFilename = filepath.Base(name)
	}
	if !a.Language.IsKnown() {
		a.Language = types.ParseLanguage(string(a.Language))
	}
	// Hand-edited or exported files get the same timing clamp as fresh
	// provider output.
	a.Finalize()
	return &a, nil
}

// Filename builds the artifact file name from the creation time and the
// original audio name without its extension.
func Filename(created time.Time, original string) string {
	base := filepath.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = sanitize(base)
	if base == "" {
		base = "audio"
	}
	return fmt.Sprintf("transcription_%s_%s.json", created.Format(timestampLayout), base)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
