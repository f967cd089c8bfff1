package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/vmiclabs/vmic-core/internal/config"
)

// languageTool talks to a LanguageTool server's /v2/check endpoint and
// applies the first suggested replacement of each non-overlapping match.
type languageTool struct {
	endpoint string
	language string
	client   *http.Client
}

type ltMatch struct {
	Offset       int `json:"offset"`
	Length       int `json:"length"`
	Replacements []struct {
		Value string `json:"value"`
	} `json:"replacements"`
}

type ltResponse struct {
	Matches []ltMatch `json:"matches"`
}

func NewLanguageTool(cfg config.CleanupConfig) Cleaner {
	return &languageTool{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		language: cfg.Language,
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

func (lt *languageTool) Clean(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("language", lt.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lt.endpoint+"/v2/check", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := lt.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: checker returned status %s", ErrFailed, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrFailed, err)
	}
	var parsed ltResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrFailed, err)
	}

	return applyMatches(text, parsed.Matches), nil
}

// applyMatches rewrites text with the first replacement of each match,
// left to right, skipping matches that overlap an already-applied one or
// carry no suggestion. The checker reports character offsets, so they are
// mapped to byte positions before slicing.
func applyMatches(text string, matches []ltMatch) string {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Offset < matches[j].Offset
	})

	byteAt := runeToByteOffsets(text)

	var out strings.Builder
	last := 0
	for _, m := range matches {
		if len(m.Replacements) == 0 {
			continue
		}
		if m.Offset < 0 || m.Length < 0 || m.Offset+m.Length >= len(byteAt) {
			continue
		}
		start, end := byteAt[m.Offset], byteAt[m.Offset+m.Length]
		if start < last {
			continue
		}
		out.WriteString(text[last:start])
		out.WriteString(m.Replacements[0].Value)
		last = end
	}
	out.WriteString(text[last:])
	return out.String()
}

// runeToByteOffsets returns the byte position of each character boundary
// in text, including the position one past the final character.
func runeToByteOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))
	return offsets
}
