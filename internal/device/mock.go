package device

import (
	"context"
	"fmt"
	"sync"
)

// MockCatalog serves a fixed device set and lets tests unplug devices between
// calls.
type MockCatalog struct {
	mu      sync.Mutex
	devices []Descriptor
}

func NewMockCatalog(devices ...Descriptor) *MockCatalog {
	return &MockCatalog{devices: append([]Descriptor(nil), devices...)}
}

// DefaultMockSet mirrors a typical host: headphones plus a virtual microphone
// output and one capture device.
func DefaultMockSet() []Descriptor {
	return []Descriptor{
		{ID: "headphones", Name: "Headphones", Direction: DirectionOutput, SampleRates: []int{44100, 48000}, Channels: 2, Default: true},
		{ID: "virtual-mic", Name: "Virtual Microphone Cable", Direction: DirectionOutput, SampleRates: []int{48000}, Channels: 2},
		{ID: "mic", Name: "Built-in Microphone", Direction: DirectionInput, SampleRates: []int{16000, 44100, 48000}, Channels: 1, Default: true},
	}
}

func (c *MockCatalog) SetDevices(devices ...Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append([]Descriptor(nil), devices...)
}

// Unplug removes a device from the set, as if it was disconnected.
func (c *MockCatalog) Unplug(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.devices[:0]
	for _, d := range c.devices {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	c.devices = kept
}

func (c *MockCatalog) List(_ context.Context, dir Direction) ([]Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var filtered []Descriptor
	for _, d := range c.devices {
		if d.Direction == dir {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (c *MockCatalog) Resolve(_ context.Context, id string) (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.ID == id || d.Name == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}
