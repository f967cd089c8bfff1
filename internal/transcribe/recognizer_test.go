package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmiclabs/vmic-core/internal/audio"
	"github.com/vmiclabs/vmic-core/internal/config"
)

func clip(t *testing.T) audio.Buffer {
	t.Helper()
	pcm := make([]byte, 16000*2) // 1 s of mono silence
	return audio.Buffer{PCM: pcm, SampleRate: 16000, Channels: 1}
}

func TestNewModeSwitch(t *testing.T) {
	cfg := config.Default().Transcription
	cfg.Mode = "mock"
	if _, err := New(cfg); err != nil {
		t.Fatalf("mock mode: %v", err)
	}
	cfg.Mode = "teleporter"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestMockRecognizer(t *testing.T) {
	rec := NewMockRecognizer()
	rec.Text = "hello there"
	res, err := rec.Transcribe(context.Background(), clip(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if rec.Calls() != 1 {
		t.Fatalf("expected 1 call, got %d", rec.Calls())
	}
}

func TestLazyStickyInitError(t *testing.T) {
	builds := 0
	rec := NewLazy(func() (Recognizer, error) {
		builds++
		return nil, errors.New("model missing")
	})

	for i := 0; i < 3; i++ {
		_, err := rec.Transcribe(context.Background(), clip(t))
		if !errors.Is(err, ErrFailed) {
			t.Fatalf("call %d: expected ErrFailed, got %v", i, err)
		}
	}
	if builds != 1 {
		t.Fatalf("expected a single build attempt, got %d", builds)
	}
}

func TestLazyBuildsOnce(t *testing.T) {
	inner := NewMockRecognizer()
	inner.Text = "once"
	builds := 0
	rec := NewLazy(func() (Recognizer, error) {
		builds++
		return inner, nil
	})

	for i := 0; i < 2; i++ {
		res, err := rec.Transcribe(context.Background(), clip(t))
		if err != nil {
			t.Fatalf("transcribe: %v", err)
		}
		if res.Text != "once" {
			t.Fatalf("unexpected text %q", res.Text)
		}
	}
	if builds != 1 {
		t.Fatalf("expected one build, got %d", builds)
	}
}

func TestServerRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want en", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file field: %v", err)
		} else {
			file.Close()
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "from server"})
	}))
	defer srv.Close()

	cfg := config.Default().Transcription
	cfg.Mode = "server"
	cfg.ServerURL = srv.URL
	cfg.Language = "en"

	rec := NewServerRecognizer(cfg)
	res, err := rec.Transcribe(context.Background(), clip(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "from server" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestServerRecognizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default().Transcription
	cfg.Mode = "server"
	cfg.ServerURL = srv.URL

	_, err := NewServerRecognizer(cfg).Transcribe(context.Background(), clip(t))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("expected ErrFailed, got %v", err)
	}
}

func TestExecRecognizerContract(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	body := fmt.Sprintf("#!/bin/sh\ncat %s\n", filepath.Join(dir, "out.json"))
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	out := `{"text": "scripted words", "confidence": 0.92}`
	if err := os.WriteFile(filepath.Join(dir, "out.json"), []byte(out), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg := config.Default().Transcription
	cfg.Mode = "exec"
	cfg.Command = "sh " + script
	cfg.Language = "en"

	rec, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), clip(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "scripted words" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Confidence != 0.92 {
		t.Fatalf("unexpected confidence %v", res.Confidence)
	}
}

func TestExecRecognizerCommandFailure(t *testing.T) {
	cfg := config.Default().Transcription
	cfg.Mode = "exec"
	cfg.Command = "false"

	rec, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = rec.Transcribe(context.Background(), clip(t))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("expected ErrFailed, got %v", err)
	}
}
