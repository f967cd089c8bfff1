package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vmiclabs/vmic-core/internal/device"
)

func TestMockRecorderDuration(t *testing.T) {
	rec := NewMockRecorder(16000, 1)
	buf, err := rec.Record(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if buf.Frames() != 16000 {
		t.Fatalf("frames = %d, want 16000", buf.Frames())
	}
	if buf.SampleRate != 16000 || buf.Channels != 1 {
		t.Fatalf("unexpected format %d/%d", buf.SampleRate, buf.Channels)
	}
}

func TestExecRecorderKeepsPartialOnDeadline(t *testing.T) {
	catalog := device.NewMockCatalog(device.DefaultMockSet()...)
	// A helper that writes some PCM immediately, then hangs until killed.
	rec := NewExecRecorder(`sh -c "head -c 3200 /dev/zero; exec sleep 60"`, catalog, 16000, 1)

	start := time.Now()
	buf, err := rec.Record(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("deadline did not stop the helper")
	}
	if buf.Frames() != 1600 {
		t.Fatalf("frames = %d, want 1600", buf.Frames())
	}
}

func TestExecRecorderCommandFailure(t *testing.T) {
	catalog := device.NewMockCatalog(device.DefaultMockSet()...)
	rec := NewExecRecorder("false", catalog, 16000, 1)

	_, err := rec.Record(context.Background(), 10*time.Second)
	if !errors.Is(err, device.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestExecRecorderNoInputDevices(t *testing.T) {
	catalog := device.NewMockCatalog() // empty host
	rec := NewExecRecorder("true", catalog, 16000, 1)

	_, err := rec.Record(context.Background(), time.Second)
	if !errors.Is(err, device.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecRecorderCancellation(t *testing.T) {
	catalog := device.NewMockCatalog(device.DefaultMockSet()...)
	rec := NewExecRecorder("sleep 60", catalog, 16000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := rec.Record(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
