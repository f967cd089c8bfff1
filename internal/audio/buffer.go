package audio

import "time"

// Buffer holds a complete clip of interleaved 16-bit little-endian PCM.
// Buffers are treated as immutable once produced; pipeline stages hand them
// on read-only and conversions always allocate a new buffer.
type Buffer struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames in the buffer.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.PCM) / (2 * b.Channels)
}

// Duration returns the playback duration of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Empty reports whether the buffer carries no audio.
func (b Buffer) Empty() bool {
	return len(b.PCM) == 0
}
