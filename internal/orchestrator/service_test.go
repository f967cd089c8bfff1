package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmiclabs/vmic-core/internal/cleanup"
	"github.com/vmiclabs/vmic-core/internal/config"
	"github.com/vmiclabs/vmic-core/internal/device"
	"github.com/vmiclabs/vmic-core/internal/player"
	"github.com/vmiclabs/vmic-core/internal/protocol"
	"github.com/vmiclabs/vmic-core/internal/recorder"
	"github.com/vmiclabs/vmic-core/internal/synth"
	"github.com/vmiclabs/vmic-core/internal/transcribe"
)

type testRig struct {
	svc      *Service
	sink     *player.MockSink
	synth    *synth.MockSynth
	recorder *recorder.MockRecorder
	stt      *transcribe.MockRecognizer
	outcomes chan protocol.Outcome
}

func newRig(t *testing.T, mutate func(*config.Config)) *testRig {
	t.Helper()
	cfg := config.Default()
	cfg.Cleanup.Enabled = false
	cfg.Synthesis.APIKey = ""
	cfg.Synthesis.LocalMode = "mock"
	cfg.Transcription.Enabled = true
	cfg.Transcription.Mode = "mock"
	cfg.Pipeline.Targets = []string{"headphones", "virtual-mic"}
	if mutate != nil {
		mutate(&cfg)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := device.NewMockCatalog(device.DefaultMockSet()...)
	sink := player.NewMockSink()
	mockSynth := synth.NewMockSynth(cfg.Synthesis.SampleRate, 1)
	stt := transcribe.NewMockRecognizer()
	stt.Text = "recorded words"

	deps := Deps{
		Catalog:    catalog,
		Player:     player.New(catalog, sink, log),
		Recorder:   recorder.NewMockRecorder(16000, 1),
		Recognizer: stt,
	}

	svc := NewService(context.Background(), &cfg, nil, deps, log)
	svc.selectSynth = func(_ string, _ func(error)) (synth.Synthesizer, error) {
		return mockSynth, nil
	}
	outcomes := make(chan protocol.Outcome, 8)
	svc.onOutcome = func(o protocol.Outcome) { outcomes <- o }
	t.Cleanup(svc.Close)

	return &testRig{
		svc:      svc,
		sink:     sink,
		synth:    mockSynth,
		recorder: deps.Recorder.(*recorder.MockRecorder),
		stt:      stt,
		outcomes: outcomes,
	}
}

func (r *testRig) waitOutcome(t *testing.T) protocol.Outcome {
	t.Helper()
	select {
	case o := <-r.outcomes:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return protocol.Outcome{}
	}
}

func TestSpeakSuccess(t *testing.T) {
	rig := newRig(t, nil)

	runID, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{
		RequestID: "req-1",
		Text:      "Hello team, the deploy is done.",
		Voice:     "alloy",
	})
	if !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.RunID != runID || out.RequestID != "req-1" || out.Kind != "speak" {
		t.Fatalf("outcome identity wrong: %+v", out)
	}
	if out.Voice != "alloy" {
		t.Fatalf("outcome voice = %q", out.Voice)
	}
	if len(out.Targets) != 2 {
		t.Fatalf("expected 2 target reports, got %d", len(out.Targets))
	}
	for _, tr := range out.Targets {
		if !tr.OK {
			t.Fatalf("target %s failed: %s", tr.Device, tr.Error)
		}
	}
	if len(rig.sink.Played()) != 2 {
		t.Fatalf("expected 2 plays, got %d", len(rig.sink.Played()))
	}
	if rig.svc.CurrentState() != StateIdle {
		t.Fatalf("state = %s, want idle", rig.svc.CurrentState())
	}
}

func TestEmptyInputShortCircuits(t *testing.T) {
	rig := newRig(t, nil)

	_, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "   \n\t "})
	if !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.ErrorKind != protocol.KindEmptyInput || out.Stage != protocol.StageSynthesis {
		t.Fatalf("got kind=%s stage=%s", out.ErrorKind, out.Stage)
	}
	if rig.synth.Calls() != 0 {
		t.Fatalf("synthesis must not run for empty input, got %d calls", rig.synth.Calls())
	}
	if len(rig.sink.Played()) != 0 {
		t.Fatal("nothing should have been played")
	}
}

func TestDropPolicyIgnoresConcurrentTrigger(t *testing.T) {
	rig := newRig(t, nil)
	rig.sink.DelayDevice("headphones", 300*time.Millisecond)
	rig.sink.DelayDevice("virtual-mic", 300*time.Millisecond)

	_, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "first"})
	if !ok {
		t.Fatal("first trigger rejected")
	}
	// Give the run a moment to occupy the pipeline.
	deadline := time.Now().Add(2 * time.Second)
	for rig.svc.CurrentState() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "second"}); ok {
		t.Fatal("second trigger should have been dropped")
	}

	out := rig.waitOutcome(t)
	if !out.Success {
		t.Fatalf("first run should succeed: %+v", out)
	}
	select {
	case extra := <-rig.outcomes:
		t.Fatalf("dropped trigger must not produce an outcome, got %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReplacePolicyCancelsRunningPipeline(t *testing.T) {
	rig := newRig(t, func(cfg *config.Config) {
		cfg.Pipeline.Supersede = "replace"
		cfg.Pipeline.Targets = []string{"headphones"}
	})
	rig.sink.DelayDevice("headphones", time.Minute)

	first, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "long running"})
	if !ok {
		t.Fatal("first trigger rejected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for rig.svc.CurrentState() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rig.sink.DelayDevice("headphones", 0)
	second, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "replacement"})
	if !ok {
		t.Fatal("replacement trigger rejected")
	}

	got := map[string]protocol.Outcome{}
	for i := 0; i < 2; i++ {
		out := rig.waitOutcome(t)
		got[out.RunID] = out
	}
	if out := got[first]; out.ErrorKind != protocol.KindCancelled {
		t.Fatalf("superseded run: expected cancelled, got %+v", out)
	}
	if out := got[second]; !out.Success {
		t.Fatalf("replacement run should succeed: %+v", out)
	}
}

func TestCancelInterruptsPlayback(t *testing.T) {
	rig := newRig(t, func(cfg *config.Config) {
		cfg.Pipeline.Targets = []string{"headphones"}
	})
	rig.sink.DelayDevice("headphones", time.Minute)

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "interrupt me"}); !ok {
		t.Fatal("trigger rejected")
	}
	deadline := time.Now().Add(2 * time.Second)
	for rig.svc.CurrentState() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if !rig.svc.Cancel() {
		t.Fatal("cancel found nothing running")
	}

	out := rig.waitOutcome(t)
	if out.ErrorKind != protocol.KindCancelled || out.Stage != protocol.StagePlayback {
		t.Fatalf("got kind=%s stage=%s", out.ErrorKind, out.Stage)
	}
	if rig.svc.CurrentState() != StateIdle {
		t.Fatalf("state = %s, want idle", rig.svc.CurrentState())
	}
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	rig := newRig(t, nil)
	if rig.svc.Cancel() {
		t.Fatal("cancel on idle should report false")
	}
}

func TestCleanupFailOpenSpeaksOriginalText(t *testing.T) {
	rig := newRig(t, func(cfg *config.Config) {
		cfg.Cleanup.Enabled = true
	})
	rig.svc.newCleaner = func() cleanup.Cleaner {
		return cleanerFunc(func(context.Context, string) (string, error) {
			return "", errors.New("checker unreachable")
		})
	}

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "keep this text"}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if !out.Success {
		t.Fatalf("cleanup failure must not fail the run: %+v", out)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("expected a cleanup warning")
	}
	if rig.synth.Calls() != 1 {
		t.Fatalf("expected exactly one synthesis call, got %d", rig.synth.Calls())
	}
}

func TestNoCredentialNeverCallsRemote(t *testing.T) {
	var remoteCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		remoteCalls.Add(1)
		http.Error(w, "should not be reached", http.StatusTeapot)
	}))
	defer srv.Close()

	rig := newRig(t, func(cfg *config.Config) {
		cfg.Synthesis.Endpoint = srv.URL
		cfg.Synthesis.APIKey = ""
	})
	rig.svc.selectSynth = nil // use the real per-run selection

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "offline run"}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if !out.Success {
		t.Fatalf("local engine should carry the run: %+v", out)
	}
	if remoteCalls.Load() != 0 {
		t.Fatalf("remote endpoint was called %d times without a credential", remoteCalls.Load())
	}
}

func TestPartialPlaybackSucceedsWithWarnings(t *testing.T) {
	rig := newRig(t, nil)
	rig.sink.FailDevice("virtual-mic", errors.New("stream stalled"))

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "partial delivery"}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if !out.Success {
		t.Fatalf("one healthy target should keep the run successful: %+v", out)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("expected a warning for the failed target")
	}
	var failed *protocol.TargetReport
	for i := range out.Targets {
		if out.Targets[i].Device == "virtual-mic" {
			failed = &out.Targets[i]
		}
	}
	if failed == nil || failed.OK || failed.Kind != protocol.KindDeviceUnavailable {
		t.Fatalf("unexpected report for virtual-mic: %+v", failed)
	}
}

func TestAllTargetsUnknownIsNoValidTargets(t *testing.T) {
	rig := newRig(t, nil)

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{
		Text:    "nowhere to go",
		Targets: []string{"ghost-1", "ghost-2"},
	}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.ErrorKind != protocol.KindNoValidTargets || out.Stage != protocol.StagePlayback {
		t.Fatalf("got kind=%s stage=%s", out.ErrorKind, out.Stage)
	}
}

func TestPlaybackTimeoutIsDeviceUnavailable(t *testing.T) {
	rig := newRig(t, func(cfg *config.Config) {
		cfg.Pipeline.StageTimeoutMS = 100
	})
	rig.sink.DelayDevice("headphones", time.Minute)
	rig.sink.DelayDevice("virtual-mic", time.Minute)

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "too slow"}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if out.Success {
		t.Fatal("expected failure")
	}
	// Both targets resolved fine and stalled mid-stream; that is an
	// availability problem, not a target misconfiguration.
	if out.ErrorKind != protocol.KindDeviceUnavailable || out.Stage != protocol.StagePlayback {
		t.Fatalf("got kind=%s stage=%s", out.ErrorKind, out.Stage)
	}
}

func TestUnknownVoiceFailsBeforeSynthesis(t *testing.T) {
	rig := newRig(t, nil)

	if _, ok := rig.svc.TriggerSpeak(protocol.SpeakTrigger{Text: "hi", Voice: "robot9000"}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if out.Success || out.ErrorKind != protocol.KindSynthesisFailed {
		t.Fatalf("got %+v", out)
	}
	if rig.synth.Calls() != 0 {
		t.Fatal("synthesis must not run for an unknown voice")
	}
}

func TestRecordAndSpeak(t *testing.T) {
	rig := newRig(t, nil)

	if _, ok := rig.svc.TriggerRecord(protocol.RecordTrigger{DurationMS: 100}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if !out.Success {
		t.Fatalf("expected success: %+v", out)
	}
	if out.Kind != "record_and_speak" {
		t.Fatalf("kind = %s", out.Kind)
	}
	if out.Transcript != "recorded words" {
		t.Fatalf("transcript = %q", out.Transcript)
	}
	if rig.recorder.Calls() != 1 || rig.stt.Calls() != 1 {
		t.Fatalf("capture path not exercised: recorder=%d stt=%d", rig.recorder.Calls(), rig.stt.Calls())
	}
}

func TestRecordTranscriptionFailure(t *testing.T) {
	rig := newRig(t, nil)
	rig.stt.Err = errors.New("model exploded")

	if _, ok := rig.svc.TriggerRecord(protocol.RecordTrigger{DurationMS: 100}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if out.Success {
		t.Fatal("expected failure")
	}
	if out.ErrorKind != protocol.KindTranscriptionFailed || out.Stage != protocol.StageCapture {
		t.Fatalf("got kind=%s stage=%s", out.ErrorKind, out.Stage)
	}
	if rig.synth.Calls() != 0 {
		t.Fatal("synthesis must not run after a failed transcription")
	}
}

func TestRecordWithTranscriptionDisabled(t *testing.T) {
	rig := newRig(t, func(cfg *config.Config) {
		cfg.Transcription.Enabled = false
	})

	if _, ok := rig.svc.TriggerRecord(protocol.RecordTrigger{}); !ok {
		t.Fatal("trigger rejected")
	}

	out := rig.waitOutcome(t)
	if out.ErrorKind != protocol.KindTranscriptionFailed {
		t.Fatalf("got kind=%s", out.ErrorKind)
	}
}

// cleanerFunc adapts a function to the cleanup.Cleaner interface.
type cleanerFunc func(context.Context, string) (string, error)

func (f cleanerFunc) Clean(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
