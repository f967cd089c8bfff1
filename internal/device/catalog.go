// Package device enumerates the host's audio devices and resolves the stable
// identifiers the rest of the pipeline refers to them by. Descriptors are
// snapshots: holding one never holds an OS device handle, and identifiers are
// re-resolved at the moment of use so an unplugged device surfaces as
// ErrNotFound instead of a dangling stream.
package device

import (
	"context"
	"errors"
)

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

var (
	ErrNotFound     = errors.New("audio device not found")
	ErrUnavailable  = errors.New("audio device unavailable")
	ErrIncompatible = errors.New("audio device incompatible")
)

// Descriptor describes one audio device as reported by the OS boundary.
type Descriptor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	SampleRates []int     `json:"sample_rates"`
	Channels    int       `json:"channels"`
	Default     bool      `json:"default,omitempty"`
}

// Supports reports whether the device accepts the given sample rate. A
// descriptor listing no rates accepts anything.
func (d Descriptor) Supports(rate int) bool {
	if len(d.SampleRates) == 0 {
		return true
	}
	for _, r := range d.SampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// PreferredRate picks the rate to render at: the desired rate when the device
// supports it, otherwise the device's first (native) listed rate.
func (d Descriptor) PreferredRate(desired int) int {
	if d.Supports(desired) {
		return desired
	}
	return d.SampleRates[0]
}

// Catalog is the device enumeration boundary. Implementations query the OS
// (or a fixture) at call time; results are never cached across calls.
type Catalog interface {
	List(ctx context.Context, dir Direction) ([]Descriptor, error)
	Resolve(ctx context.Context, id string) (Descriptor, error)
}
