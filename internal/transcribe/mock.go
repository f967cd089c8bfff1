package transcribe

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vmiclabs/vmic-core/internal/audio"
)

// MockRecognizer returns a canned transcript without touching a model.
// Useful for development rigs and tests that need deterministic text.
type MockRecognizer struct {
	// Text overrides the generated transcript when non-empty.
	Text string
	// Err, when set, is returned from every call.
	Err error

	calls atomic.Int64
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

func (m *MockRecognizer) Transcribe(_ context.Context, buf audio.Buffer) (Result, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return Result{}, m.Err
	}
	if m.Text != "" {
		return Result{Text: m.Text, Confidence: 1}, nil
	}
	return Result{
		Text:       fmt.Sprintf("[mock transcript duration=%s]", buf.Duration().Round(0)),
		Confidence: 1,
	}, nil
}

// Calls reports how many transcriptions have been requested.
func (m *MockRecognizer) Calls() int64 {
	return m.calls.Load()
}
