package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/device"
)

// execRecorder runs a capture helper that streams raw s16le PCM on stdout,
// e.g.:
//
//	parec --device={device} --rate={rate} --channels={channels} --format=s16le
//
// The helper is killed when the clip duration elapses; partial output up to
// that point is kept.
type execRecorder struct {
	template   string
	catalog    device.Catalog
	sampleRate int
	channels   int
}

func NewExecRecorder(command string, catalog device.Catalog, sampleRate, channels int) Recorder {
	return &execRecorder{
		template:   command,
		catalog:    catalog,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (r *execRecorder) Record(ctx context.Context, d time.Duration) (audio.Buffer, error) {
	dev, err := r.defaultInput(ctx)
	if err != nil {
		return audio.Buffer{}, err
	}

	line := strings.NewReplacer(
		"{device}", dev.ID,
		"{rate}", strconv.Itoa(r.sampleRate),
		"{channels}", strconv.Itoa(r.channels),
	).Replace(r.template)

	parser := shellwords.NewParser()
	args, err := parser.Parse(line)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("parse record command: %w", err)
	}
	if len(args) == 0 {
		return audio.Buffer{}, fmt.Errorf("record command is empty")
	}

	recCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	cmd := exec.CommandContext(recCtx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't wait on orphaned pipe holders after the kill.
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if ctx.Err() != nil {
		// Caller cancelled; the partial clip is discarded.
		return audio.Buffer{}, ctx.Err()
	}
	if runErr != nil && !errors.Is(recCtx.Err(), context.DeadlineExceeded) {
		return audio.Buffer{}, fmt.Errorf("%w: record command failed: %v: %s",
			device.ErrUnavailable, runErr, stderr.String())
	}

	pcm := stdout.Bytes()
	// Trim a trailing half-sample left by the kill.
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	return audio.Buffer{PCM: pcm, SampleRate: r.sampleRate, Channels: r.channels}, nil
}

func (r *execRecorder) defaultInput(ctx context.Context) (device.Descriptor, error) {
	inputs, err := r.catalog.List(ctx, device.DirectionInput)
	if err != nil {
		return device.Descriptor{}, err
	}
	for _, d := range inputs {
		if d.Default {
			return d, nil
		}
	}
	if len(inputs) > 0 {
		return inputs[0], nil
	}
	return device.Descriptor{}, fmt.Errorf("%w: no input devices", device.ErrNotFound)
}
