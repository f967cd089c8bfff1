package player

import (
	"context"
	"sync"
	"time"

	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/device"
)

// MockSink records plays in memory and can be programmed to fail or stall
// per device.
type MockSink struct {
	mu       sync.Mutex
	played   []MockPlay
	failures map[string]error
	delays   map[string]time.Duration
}

// MockPlay captures one delivered clip.
type MockPlay struct {
	DeviceID   string
	SampleRate int
	Channels   int
	Frames     int
}

func NewMockSink() *MockSink {
	return &MockSink{
		failures: make(map[string]error),
		delays:   make(map[string]time.Duration),
	}
}

// FailDevice makes every play on the given device return err.
func (m *MockSink) FailDevice(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// DelayDevice makes plays on the given device take at least d.
func (m *MockSink) DelayDevice(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[id] = d
}

func (m *MockSink) Play(ctx context.Context, dev device.Descriptor, buf audio.Buffer) error {
	m.mu.Lock()
	delay := m.delays[dev.ID]
	failure := m.failures[dev.ID]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.played = append(m.played, MockPlay{
		DeviceID:   dev.ID,
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Frames:     buf.Frames(),
	})
	m.mu.Unlock()
	return nil
}

// Played returns a copy of everything delivered so far.
func (m *MockSink) Played() []MockPlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPlay, len(m.played))
	copy(out, m.played)
	return out
}
