package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sine16(frames, channels int) []byte {
	pcm := make([]byte, frames*channels*2)
	for f := 0; f < frames; f++ {
		v := int16((f % 64) * 512)
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(f*channels+c)*2:], uint16(v))
		}
	}
	return pcm
}

func TestBufferDuration(t *testing.T) {
	buf := Buffer{PCM: sine16(24000, 1), SampleRate: 24000, Channels: 1}
	if buf.Frames() != 24000 {
		t.Fatalf("expected 24000 frames, got %d", buf.Frames())
	}
	if buf.Duration() != time.Second {
		t.Fatalf("expected 1s duration, got %v", buf.Duration())
	}
}

func TestWavRoundTrip(t *testing.T) {
	in := Buffer{PCM: sine16(1600, 1), SampleRate: 16000, Channels: 1}

	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EncodeWAV(f, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rf.Close()

	out, err := DecodeWAV(rf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Fatalf("format mismatch: got %dHz/%dch", out.SampleRate, out.Channels)
	}
	if len(out.PCM) != len(in.PCM) {
		t.Fatalf("expected %d pcm bytes, got %d", len(in.PCM), len(out.PCM))
	}
	for i := range in.PCM {
		if in.PCM[i] != out.PCM[i] {
			t.Fatalf("pcm mismatch at byte %d", i)
		}
	}
}

func TestConvertChannelUpmix(t *testing.T) {
	in := Buffer{PCM: sine16(100, 1), SampleRate: 16000, Channels: 1}
	out, err := Convert(in, 16000, 2)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Channels != 2 || out.Frames() != in.Frames() {
		t.Fatalf("expected stereo with %d frames, got %dch/%d frames", in.Frames(), out.Channels, out.Frames())
	}
	// Left and right must carry the same samples.
	for f := 0; f < out.Frames(); f++ {
		l := binary.LittleEndian.Uint16(out.PCM[f*4:])
		r := binary.LittleEndian.Uint16(out.PCM[f*4+2:])
		if l != r {
			t.Fatalf("channel mismatch at frame %d", f)
		}
	}
}

func TestConvertChannelDownmix(t *testing.T) {
	in := Buffer{PCM: sine16(100, 2), SampleRate: 16000, Channels: 2}
	out, err := Convert(in, 16000, 1)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.Channels != 1 || out.Frames() != in.Frames() {
		t.Fatalf("expected mono with %d frames, got %dch/%d frames", in.Frames(), out.Channels, out.Frames())
	}
}

func TestConvertResample(t *testing.T) {
	in := Buffer{PCM: sine16(24000, 1), SampleRate: 24000, Channels: 1}
	out, err := Convert(in, 48000, 1)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.SampleRate != 48000 {
		t.Fatalf("expected 48000Hz, got %d", out.SampleRate)
	}
	// Roughly double the frames; the resampler may trim edge frames.
	if out.Frames() < in.Frames()*3/2 {
		t.Fatalf("expected roughly doubled frame count, got %d from %d", out.Frames(), in.Frames())
	}
}

func TestConvertCopiesWhenNoop(t *testing.T) {
	in := Buffer{PCM: sine16(10, 1), SampleRate: 16000, Channels: 1}
	out, err := Convert(in, 16000, 1)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if &out.PCM[0] == &in.PCM[0] {
		t.Fatal("expected converted buffer to own its pcm")
	}
}

func TestConvertRejectsUnsupportedLayout(t *testing.T) {
	in := Buffer{PCM: sine16(10, 1), SampleRate: 16000, Channels: 1}
	if _, err := Convert(in, 16000, 3); err == nil {
		t.Fatal("expected error for 3-channel target")
	}
}
