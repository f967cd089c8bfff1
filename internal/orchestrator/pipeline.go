package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vmiclabs/vmic-core/internal/cleanup"
	"github.com/vmiclabs/vmic-core/internal/device"
	"github.com/vmiclabs/vmic-core/internal/protocol"
	"github.com/vmiclabs/vmic-core/internal/synth"
)

func (s *Service) runSpeak(ctx context.Context, runID string, trigger protocol.SpeakTrigger) protocol.Outcome {
	out := protocol.Outcome{RequestID: trigger.RequestID}

	text := strings.TrimSpace(trigger.Text)
	if text == "" {
		return fail(out, protocol.KindEmptyInput, protocol.StageSynthesis, "no text to speak")
	}
	return s.speakFrom(ctx, runID, out, text, trigger.Voice, trigger.Targets, trigger.Cleanup)
}

func (s *Service) runRecord(ctx context.Context, runID string, trigger protocol.RecordTrigger) protocol.Outcome {
	out := protocol.Outcome{RequestID: trigger.RequestID}

	if !s.cfg.Transcription.Enabled {
		return fail(out, protocol.KindTranscriptionFailed, protocol.StageCapture, "transcription is disabled")
	}

	duration := time.Duration(trigger.DurationMS) * time.Millisecond
	if duration <= 0 {
		duration = time.Duration(s.cfg.Pipeline.RecordSeconds) * time.Second
	}

	// The capture bound is the clip length itself; the stage timeout only
	// covers helper startup and teardown on top of it.
	start := time.Now()
	captureCtx, cancel := context.WithTimeout(ctx, duration+s.stageTimeout())
	clip, err := s.deps.Recorder.Record(captureCtx, duration)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return cancelledOutcome(out, protocol.StageCapture)
		}
		kind := protocol.KindDeviceUnavailable
		if errors.Is(err, device.ErrNotFound) {
			kind = protocol.KindDeviceNotFound
		}
		return fail(out, kind, protocol.StageCapture, err.Error())
	}

	sttCtx, cancel := context.WithTimeout(ctx, s.stageTimeout())
	result, err := s.deps.Recognizer.Transcribe(sttCtx, clip)
	cancel()
	s.observeStage(protocol.StageCapture, start)
	s.journalStage(runID, protocol.StageCapture, fmt.Sprintf("captured %s clip", clip.Duration().Round(time.Millisecond)))
	if err != nil {
		if ctx.Err() != nil {
			return cancelledOutcome(out, protocol.StageCapture)
		}
		return fail(out, protocol.KindTranscriptionFailed, protocol.StageCapture, err.Error())
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return fail(out, protocol.KindEmptyInput, protocol.StageCapture, "transcript is empty")
	}
	out.Transcript = text

	return s.speakFrom(ctx, runID, out, text, trigger.Voice, trigger.Targets, trigger.Cleanup)
}

// speakFrom is the shared tail of both pipelines: cleanup, synthesis,
// playback.
func (s *Service) speakFrom(ctx context.Context, runID string, out protocol.Outcome, text, voice string, targets []string, cleanupFlag *bool) protocol.Outcome {
	if voice == "" {
		voice = s.cfg.Synthesis.Voice
	}
	out.Voice = voice
	if !synth.KnownVoice(voice) {
		return fail(out, protocol.KindSynthesisFailed, protocol.StageSynthesis,
			fmt.Sprintf("unknown voice %q", voice))
	}
	if len(targets) == 0 {
		targets = s.cfg.Pipeline.Targets
	}

	// Cleanup. Failures never abort the run: the original text is spoken
	// and the outcome carries a warning.
	if s.cleanupWanted(cleanupFlag) {
		start := time.Now()
		cleaner := cleanup.NewFailOpen(s.buildCleaner(), func(err error) {
			out.Warnings = append(out.Warnings, fmt.Sprintf("text cleanup skipped: %v", err))
		})
		cleanCtx, cancel := context.WithTimeout(ctx, s.stageTimeout())
		cleaned, _ := cleaner.Clean(cleanCtx, text)
		cancel()
		s.observeStage(protocol.StageCleanup, start)
		s.journalStage(runID, protocol.StageCleanup, "")
		if ctx.Err() != nil {
			return cancelledOutcome(out, protocol.StageCleanup)
		}
		if strings.TrimSpace(cleaned) != "" {
			text = cleaned
		}
	}

	// Synthesis. The backend is chosen per run so credential changes take
	// effect immediately.
	synthesizer, err := s.buildSynth(voice, func(err error) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("remote synthesis unavailable, using local engine: %v", err))
	})
	if err != nil {
		return fail(out, protocol.KindSynthesisFailed, protocol.StageSynthesis, err.Error())
	}

	start := time.Now()
	synthCtx, cancel := context.WithTimeout(ctx, s.stageTimeout())
	clip, err := synthesizer.Synthesize(synthCtx, synth.Request{Text: text, Voice: voice})
	cancel()
	s.observeStage(protocol.StageSynthesis, start)
	if err == nil {
		s.journalStage(runID, protocol.StageSynthesis, fmt.Sprintf("rendered %s of audio", clip.Duration().Round(time.Millisecond)))
	}
	if err != nil {
		if ctx.Err() != nil {
			return cancelledOutcome(out, protocol.StageSynthesis)
		}
		kind := protocol.KindSynthesisFailed
		if errors.Is(err, synth.ErrUnavailable) {
			kind = protocol.KindSynthesisUnavailable
		}
		return fail(out, kind, protocol.StageSynthesis, err.Error())
	}

	// Playback.
	if len(targets) == 0 {
		return fail(out, protocol.KindNoValidTargets, protocol.StagePlayback, "no playback targets configured")
	}

	start = time.Now()
	playCtx, cancel := context.WithTimeout(ctx, s.stageTimeout())
	results := s.deps.Player.Play(playCtx, clip, targets)
	cancel()
	s.observeStage(protocol.StagePlayback, start)
	s.journalStage(runID, protocol.StagePlayback, fmt.Sprintf("%d target(s)", len(results)))
	if ctx.Err() != nil {
		return cancelledOutcome(out, protocol.StagePlayback)
	}

	succeeded := 0
	allMisconfigured := true
	for _, res := range results {
		report := protocol.TargetReport{Device: res.Target, OK: res.Err == nil}
		if res.Err != nil {
			report.Error = res.Err.Error()
			report.Kind = deviceErrorKind(res.Err)
			if report.Kind != protocol.KindDeviceNotFound && report.Kind != protocol.KindDeviceIncompatible {
				allMisconfigured = false
			}
		} else {
			succeeded++
		}
		out.Targets = append(out.Targets, report)
	}

	if succeeded == 0 {
		kind := protocol.KindDeviceUnavailable
		if allMisconfigured {
			kind = protocol.KindNoValidTargets
		}
		return fail(out, kind, protocol.StagePlayback, "playback failed on every target")
	}
	for _, report := range out.Targets {
		if !report.OK {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("playback on %s failed: %s", report.Device, report.Error))
		}
	}

	out.Success = true
	return out
}

func (s *Service) cleanupWanted(flag *bool) bool {
	if flag != nil {
		return *flag
	}
	return s.cfg.Cleanup.Enabled
}

func (s *Service) buildCleaner() cleanup.Cleaner {
	if s.newCleaner != nil {
		return s.newCleaner()
	}
	return cleanup.New(s.cfg.Cleanup)
}

func (s *Service) buildSynth(voice string, onFallback func(error)) (synth.Synthesizer, error) {
	if s.selectSynth != nil {
		return s.selectSynth(voice, onFallback)
	}
	return synth.Select(s.cfg.Synthesis, voice, onFallback)
}

func (s *Service) stageTimeout() time.Duration {
	ms := s.cfg.Pipeline.StageTimeoutMS
	if ms <= 0 {
		ms = 45000
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Service) observeStage(stage string, start time.Time) {
	s.stageDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

func fail(out protocol.Outcome, kind, stage, detail string) protocol.Outcome {
	out.Success = false
	out.ErrorKind = kind
	out.Stage = stage
	out.Error = detail
	return out
}

func cancelledOutcome(out protocol.Outcome, stage string) protocol.Outcome {
	return fail(out, protocol.KindCancelled, stage, "run cancelled")
}

func deviceErrorKind(err error) string {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return protocol.KindDeviceNotFound
	case errors.Is(err, device.ErrIncompatible):
		return protocol.KindDeviceIncompatible
	case errors.Is(err, context.DeadlineExceeded):
		// The stage deadline expired mid-stream; the device was reachable
		// but too slow, which is not a configuration problem.
		return protocol.KindDeviceUnavailable
	case errors.Is(err, context.Canceled):
		return protocol.KindCancelled
	default:
		return protocol.KindDeviceUnavailable
	}
}
