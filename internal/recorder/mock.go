package recorder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vmiclabs/vmic-core/internal/audio"
)

// MockRecorder returns silence of the requested duration without touching
// any hardware.
type MockRecorder struct {
	SampleRate int
	Channels   int
	// Err, when set, is returned from every call.
	Err error

	calls atomic.Int64
}

func NewMockRecorder(sampleRate, channels int) *MockRecorder {
	return &MockRecorder{SampleRate: sampleRate, Channels: channels}
}

func (m *MockRecorder) Record(ctx context.Context, d time.Duration) (audio.Buffer, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return audio.Buffer{}, m.Err
	}
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	frames := int(float64(m.SampleRate) * d.Seconds())
	pcm := make([]byte, frames*m.Channels*2)
	return audio.Buffer{PCM: pcm, SampleRate: m.SampleRate, Channels: m.Channels}, nil
}

func (m *MockRecorder) Calls() int64 {
	return m.calls.Load()
}
