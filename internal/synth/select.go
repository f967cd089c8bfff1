package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/config"
)

// fallbackSynth tries the remote backend and substitutes the local engine
// only when the remote side reports ErrUnavailable (credential problems).
// Transient remote failures are surfaced unchanged so callers can retry or
// report them instead of masking them with lower-fidelity audio.
type fallbackSynth struct {
	primary    Synthesizer
	local      Synthesizer
	onFallback func(error)
}

func NewFallback(primary, local Synthesizer, onFallback func(error)) Synthesizer {
	return &fallbackSynth{primary: primary, local: local, onFallback: onFallback}
}

func (f *fallbackSynth) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	buf, err := f.primary.Synthesize(ctx, req)
	if err == nil {
		return buf, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return audio.Buffer{}, err
	}
	if f.onFallback != nil {
		f.onFallback(err)
	}
	return f.local.Synthesize(ctx, req)
}

// Select builds the synthesizer for one pipeline execution. The credential
// predicate is evaluated here, per run, so a key added or removed between
// runs takes effect immediately. With a key configured the remote backend is
// primary with credential-gated fallback to the local engine; without one
// the local engine serves directly. The sentinel "local" voice always routes
// to the local engine.
func Select(cfg config.SynthesisConfig, voice string, onFallback func(error)) (Synthesizer, error) {
	local, err := newLocal(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" || voice == VoiceLocal {
		return local, nil
	}
	remote := NewOpenAISynth(cfg.Endpoint, cfg.Model, cfg.APIKey, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	return NewFallback(remote, local, onFallback), nil
}

func newLocal(cfg config.SynthesisConfig) (Synthesizer, error) {
	switch cfg.LocalMode {
	case "exec":
		return NewExecSynth(cfg.LocalCommand, cfg.SampleRate, 1)
	case "mock":
		return NewMockSynth(cfg.SampleRate, 1), nil
	default:
		return nil, fmt.Errorf("unknown local synth mode %q", cfg.LocalMode)
	}
}
