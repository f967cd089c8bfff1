package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/config"
)

// ErrFailed wraps any transcription error surfaced to the pipeline.
var ErrFailed = errors.New("transcription failed")

// Result captures recognizer output.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts the local speech-to-text engine.
type Recognizer interface {
	Transcribe(ctx context.Context, buf audio.Buffer) (Result, error)
}

// New builds a recognizer from config.
func New(cfg config.TranscriptionConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecRecognizer(cfg)
	case "server":
		return NewServerRecognizer(cfg), nil
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Mode)
	}
}

// lazyRecognizer defers engine construction to the first transcription so a
// broken model setup disables only the record-and-speak path, never the
// daemon. The init error is sticky.
type lazyRecognizer struct {
	build   func() (Recognizer, error)
	once    sync.Once
	inner   Recognizer
	initErr error
}

func NewLazy(build func() (Recognizer, error)) Recognizer {
	return &lazyRecognizer{build: build}
}

func (l *lazyRecognizer) Transcribe(ctx context.Context, buf audio.Buffer) (Result, error) {
	l.once.Do(func() {
		l.inner, l.initErr = l.build()
	})
	if l.initErr != nil {
		return Result{}, fmt.Errorf("%w: engine init: %v", ErrFailed, l.initErr)
	}
	return l.inner.Transcribe(ctx, buf)
}
