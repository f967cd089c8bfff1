package player

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/device"
)

// execSink launches a playback helper per clip and streams raw PCM to its
// stdin. The command template takes {device}, {rate} and {channels}
// placeholders, e.g.:
//
//	pacat --device={device} --rate={rate} --channels={channels} --format=s16le
type execSink struct {
	template string
}

func NewExecSink(command string) Sink {
	return &execSink{template: command}
}

func (s *execSink) Play(ctx context.Context, dev device.Descriptor, buf audio.Buffer) error {
	line := strings.NewReplacer(
		"{device}", dev.ID,
		"{rate}", strconv.Itoa(buf.SampleRate),
		"{channels}", strconv.Itoa(buf.Channels),
	).Replace(s.template)

	parser := shellwords.NewParser()
	args, err := parser.Parse(line)
	if err != nil {
		return fmt.Errorf("parse play command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("play command is empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(buf.PCM)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("play command failed: %w: %s", err, stderr.String())
	}
	return nil
}
