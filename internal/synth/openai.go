package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vmiclabs/vmic-core/internal/audio"
)

// openaiSynth calls an OpenAI-compatible speech endpoint and decodes the WAV
// response into a buffer.
type openaiSynth struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func NewOpenAISynth(endpoint, model, apiKey string, timeout time.Duration) Synthesizer {
	return &openaiSynth{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *openaiSynth) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	if s.apiKey == "" {
		return audio.Buffer{}, fmt.Errorf("%w: no api key configured", ErrUnavailable)
	}
	if req.Text == "" {
		return audio.Buffer{}, fmt.Errorf("%w: empty input text", ErrFailed)
	}

	payload := speechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: "wav",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: encode request: %v", ErrFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return audio.Buffer{}, fmt.Errorf("%w: credential rejected with status %s", ErrUnavailable, resp.Status)
	case resp.StatusCode >= 300:
		return audio.Buffer{}, fmt.Errorf("%w: speech endpoint returned status %s", ErrFailed, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: read response: %v", ErrFailed, err)
	}

	buf, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return buf, nil
}
