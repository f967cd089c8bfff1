package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/vmiclabs/vmic-core/internal/audio"
)

// execSynth runs a local speech engine as a subprocess: the request goes to
// stdin as one JSON document, the engine prints one JSON line with the
// base64-encoded PCM. Engines that fail to start or emit garbage report
// ErrFailed; there is no network involved, so ErrUnavailable never applies.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse local synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("local synth command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	if req.Text == "" {
		return audio.Buffer{}, fmt.Errorf("%w: empty input text", ErrFailed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: encode request: %v", ErrFailed, err)
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return audio.Buffer{}, ctx.Err()
		}
		return audio.Buffer{}, fmt.Errorf("%w: engine exited: %v: %s", ErrFailed, err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: decode engine response: %v", ErrFailed, err)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: decode engine pcm: %v", ErrFailed, err)
	}
	if len(pcm) == 0 {
		return audio.Buffer{}, fmt.Errorf("%w: engine produced no audio", ErrFailed)
	}

	rate := resp.SampleRate
	if rate == 0 {
		rate = e.sampleRate
	}
	channels := resp.Channels
	if channels == 0 {
		channels = e.channels
	}
	return audio.Buffer{PCM: pcm, SampleRate: rate, Channels: channels}, nil
}
