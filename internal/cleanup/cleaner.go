// Package cleanup normalizes user text before synthesis. The pipeline treats
// cleanup as best-effort: a broken or unreachable checker must never block
// speech, so callers wrap the real cleaner with FailOpen.
package cleanup

import (
	"context"
	"errors"
	"strings"

	"github.com/vmiclabs/vmic-core/internal/config"
)

// ErrFailed wraps any cleanup error before it reaches the fail-open layer.
var ErrFailed = errors.New("cleanup failed")

// Cleaner rewrites raw text into the form handed to the synthesizer.
type Cleaner interface {
	Clean(ctx context.Context, text string) (string, error)
}

// Identity trims surrounding whitespace and nothing else. Used when cleanup
// is disabled in config.
type Identity struct{}

func (Identity) Clean(_ context.Context, text string) (string, error) {
	return strings.TrimSpace(text), nil
}

// New builds the configured cleaner. Disabled cleanup yields Identity.
func New(cfg config.CleanupConfig) Cleaner {
	if !cfg.Enabled {
		return Identity{}
	}
	return NewLanguageTool(cfg)
}

// FailOpen absorbs errors from the wrapped cleaner and returns the original
// text untouched, reporting the failure through onError so the run can carry
// a warning instead of aborting.
type FailOpen struct {
	inner   Cleaner
	onError func(error)
}

func NewFailOpen(inner Cleaner, onError func(error)) *FailOpen {
	return &FailOpen{inner: inner, onError: onError}
}

func (f *FailOpen) Clean(ctx context.Context, text string) (string, error) {
	cleaned, err := f.inner.Clean(ctx, text)
	if err != nil {
		if f.onError != nil {
			f.onError(err)
		}
		return text, nil
	}
	return cleaned, nil
}
