package types

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"visit-reports-go/internal/failure"
)

// MediaTypeMP3 is the only audio container accepted by the pipeline.
const MediaTypeMP3 = "audio/mpeg"

// AudioAsset is an in-memory audio file held for the duration of one run.
type AudioAsset struct {
	Filename  string
	MediaType string
	Data      []byte
}

func (a AudioAsset) Size() int64 { return int64(len(a.Data)) }

// Validate rejects empty assets and anything that is not MP3.
func (a AudioAsset) Validate() error {
	if len(a.Data) == 0 {
		return failure.New(failure.InvalidInput, "audio", "audio asset %q is empty", a.Filename)
	}
	switch strings.ToLower(a.MediaType) {
	case MediaTypeMP3, "audio/mp3", "audio/mpeg3":
		return nil
	case "", "application/octet-stream":
		if strings.EqualFold(filepath.Ext(a.Filename), ".mp3") {
			return nil
		}
	}
	return failure.New(failure.InvalidInput, "audio", "unsupported media type %q for %q (mp3 only)", a.MediaType, a.Filename)
}

// LoadAudioFile reads an audio file from disk.
func LoadAudioFile(path string) (AudioAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AudioAsset{}, failure.Wrap(failure.InvalidInput, "audio", fmt.Errorf("read %s: %w", path, err))
	}
	asset := AudioAsset{Filename: filepath.Base(path), Data: data}
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		asset.MediaType = MediaTypeMP3
	}
	return asset, nil
}
