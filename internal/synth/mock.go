package synth

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/vmiclabs/vmic-core/internal/audio"
)

// MockSynth produces a silent clip sized to the input text. Also used as the
// default local engine so a bare daemon can exercise the whole pipeline.
type MockSynth struct {
	sampleRate int
	channels   int
	calls      atomic.Int64
}

func NewMockSynth(sampleRate, channels int) *MockSynth {
	return &MockSynth{sampleRate: sampleRate, channels: channels}
}

// Calls returns how many synthesize calls this instance has served.
func (m *MockSynth) Calls() int64 {
	return m.calls.Load()
}

func (m *MockSynth) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return audio.Buffer{}, err
	}
	if req.Text == "" {
		return audio.Buffer{}, fmt.Errorf("%w: empty input text", ErrFailed)
	}

	// 50 ms of silence per input rune, so durations scale like real speech.
	frames := m.sampleRate / 20 * len([]rune(req.Text))
	if frames == 0 {
		frames = m.sampleRate / 20
	}
	return audio.Buffer{
		PCM:        make([]byte, frames*m.channels*2),
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}, nil
}
