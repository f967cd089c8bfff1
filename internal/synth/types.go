package synth

import (
	"context"
	"errors"

	"github.com/vmiclabs/vmic-core/internal/audio"
)

// ErrUnavailable means the backend cannot be used at all right now (missing
// or rejected credential). The pipeline falls back to the local engine on
// this error and only this error.
var ErrUnavailable = errors.New("synthesis backend unavailable")

// ErrFailed is a transient or input failure from a usable backend. It is
// surfaced, never silently absorbed by fallback.
var ErrFailed = errors.New("synthesis failed")

// Voices lists the remote voice set; VoiceLocal selects the local engine's
// default voice.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

const VoiceLocal = "local"

// KnownVoice reports whether v is a usable voice selection.
func KnownVoice(v string) bool {
	if v == VoiceLocal {
		return true
	}
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice string
}

// Synthesizer is the contract for producing a complete audio clip from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (audio.Buffer, error)
}
