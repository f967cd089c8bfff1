// Package recorder captures bounded clips from the host's default input
// device for transcription. Capture is strictly time-boxed: the helper is
// killed at the deadline and whatever PCM arrived by then is the clip.
package recorder

import (
	"context"
	"time"

	"github.com/vmiclabs/vmic-core/internal/audio"
)

// Recorder captures up to d of audio. A cancelled context aborts the capture
// and discards the clip; hitting the duration bound is normal completion.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (audio.Buffer, error)
}
