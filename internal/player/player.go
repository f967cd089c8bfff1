// Package player delivers a rendered clip to one or more output devices at
// once. Each target runs independently: a dead device never blocks or fails
// playback on its siblings.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/device"
)

// Sink writes PCM to a concrete output device.
type Sink interface {
	Play(ctx context.Context, dev device.Descriptor, buf audio.Buffer) error
}

// TargetResult reports the outcome of playback on a single device.
type TargetResult struct {
	Target string
	Device device.Descriptor
	Err    error
}

// Player resolves targets against the catalog at play time and fans the clip
// out to every device concurrently.
type Player struct {
	catalog device.Catalog
	sink    Sink
	log     *slog.Logger
}

func New(catalog device.Catalog, sink Sink, log *slog.Logger) *Player {
	return &Player{
		catalog: catalog,
		sink:    sink,
		log:     log.With(slog.String("component", "player")),
	}
}

// Play renders buf on every target and returns one result per target, in
// input order. Resolution happens here, not earlier, so a device unplugged
// between runs is caught on its next use.
func (p *Player) Play(ctx context.Context, buf audio.Buffer, targets []string) []TargetResult {
	results := make([]TargetResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			results[i] = p.playOne(ctx, buf, target)
		}(i, target)
	}
	wg.Wait()

	for _, res := range results {
		if res.Err != nil {
			p.log.Warn("playback target failed",
				slog.String("target", res.Target),
				slog.String("error", res.Err.Error()))
		}
	}
	return results
}

func (p *Player) playOne(ctx context.Context, buf audio.Buffer, target string) TargetResult {
	res := TargetResult{Target: target}

	dev, err := p.catalog.Resolve(ctx, target)
	if err != nil {
		res.Err = err
		return res
	}
	res.Device = dev

	if dev.Direction != device.DirectionOutput {
		res.Err = fmt.Errorf("%w: %s is not an output device", device.ErrIncompatible, dev.ID)
		return res
	}

	rate := dev.PreferredRate(buf.SampleRate)
	channels := dev.Channels
	if channels == 0 {
		channels = buf.Channels
	}

	converted, err := audio.Convert(buf, rate, channels)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", device.ErrIncompatible, err)
		return res
	}

	if err := p.sink.Play(ctx, dev, converted); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Err = err
			return res
		}
		res.Err = fmt.Errorf("%w: %v", device.ErrUnavailable, err)
		return res
	}

	p.log.Debug("playback complete",
		slog.String("device", dev.ID),
		slog.Int("rate", converted.SampleRate),
		slog.Int("channels", converted.Channels))
	return res
}
