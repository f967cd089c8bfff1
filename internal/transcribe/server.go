package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/config"
)

// serverRecognizer submits clips to a running whisper-server instance
// (POST /inference with a multipart WAV upload). The model stays loaded in
// the server process, so repeated transcriptions avoid per-call model load.
type serverRecognizer struct {
	url      string
	language string
	client   *http.Client
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewServerRecognizer(cfg config.TranscriptionConfig) Recognizer {
	return &serverRecognizer{
		url:      cfg.ServerURL,
		language: cfg.Language,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (r *serverRecognizer) Transcribe(ctx context.Context, buf audio.Buffer) (Result, error) {
	var wavBuf seekableBuffer
	if err := audio.EncodeWAV(&wavBuf, buf); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "clip.wav")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if _, err := part.Write(wavBuf.data); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	_ = writer.WriteField("response_format", "json")
	if r.language != "" {
		_ = writer.WriteField("language", r.language)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/inference", &body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: whisper server returned status %s", ErrFailed, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %v", ErrFailed, err)
	}
	var ir inferenceResponse
	if err := json.Unmarshal(data, &ir); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrFailed, err)
	}
	if ir.Error != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrFailed, ir.Error)
	}
	return Result{Text: ir.Text}, nil
}

// seekableBuffer adapts the wav encoder's io.WriteSeeker requirement to an
// in-memory byte slice.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = int(offset)
	case io.SeekCurrent:
		b.pos += int(offset)
	case io.SeekEnd:
		b.pos = len(b.data) + int(offset)
	}
	if b.pos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	return int64(b.pos), nil
}
