package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(TranscriptionProvider, "transcribe", "bad audio").WithID("tr_123")
	assert.Equal(t, "transcribe: transcription_provider_error (id=tr_123): bad audio", err.Error())
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := New(TranscriptionTimeout, "poll", "deadline")
	wrapped := Wrap(Generation, "pipeline", fmt.Errorf("stage: %w", inner))

	assert.Equal(t, TranscriptionTimeout, KindOf(wrapped))
	assert.Nil(t, Wrap(Storage, "persist", nil))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", New(Storage, "persist", "disk full"), Storage},
		{"wrapped typed", fmt.Errorf("outer: %w", New(InvalidInput, "audio", "empty")), InvalidInput},
		{"canceled", context.Canceled, Canceled},
		{"plain", errors.New("boom"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsKindAndDiagnosticID(t *testing.T) {
	err := fmt.Errorf("run: %w", New(Generation, "generate", "401").WithID("resp_1"))
	assert.True(t, IsKind(err, Generation))
	assert.False(t, IsKind(err, Storage))
	assert.Equal(t, "resp_1", DiagnosticID(err))
	assert.Equal(t, "", DiagnosticID(errors.New("x")))
}
