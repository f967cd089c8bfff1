package protocol

import "time"

// SpeakTrigger asks the orchestrator to synthesize text and play it to the
// configured (or explicitly listed) target devices. It carries the selections
// as of trigger time; the orchestrator re-reads anything it omits from
// configuration when the pipeline actually runs.
type SpeakTrigger struct {
	RequestID string   `json:"request_id,omitempty"`
	Text      string   `json:"text"`
	Voice     string   `json:"voice,omitempty"`
	Targets   []string `json:"targets,omitempty"`
	Cleanup   *bool    `json:"cleanup,omitempty"`
}

// RecordTrigger asks the orchestrator to capture a microphone clip,
// transcribe it and speak the result.
type RecordTrigger struct {
	RequestID  string   `json:"request_id,omitempty"`
	DurationMS int      `json:"duration_ms,omitempty"`
	Voice      string   `json:"voice,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Cleanup    *bool    `json:"cleanup,omitempty"`
}

// CancelTrigger aborts the in-flight pipeline, if any.
type CancelTrigger struct {
	RequestID string `json:"request_id,omitempty"`
}

// Pipeline stages as reported in outcomes.
const (
	StageCapture   = "capture"
	StageCleanup   = "cleanup"
	StageSynthesis = "synthesis"
	StagePlayback  = "playback"
)

// Error kinds as reported in outcomes.
const (
	KindDeviceNotFound       = "device_not_found"
	KindDeviceUnavailable    = "device_unavailable"
	KindDeviceIncompatible   = "device_incompatible"
	KindSynthesisFailed      = "synthesis_failed"
	KindSynthesisUnavailable = "synthesis_unavailable"
	KindTranscriptionFailed  = "transcription_failed"
	KindEmptyInput           = "empty_input"
	KindNoValidTargets       = "no_valid_targets"
	KindCancelled            = "cancelled"
)

// TargetReport is the per-device playback result inside an outcome.
type TargetReport struct {
	Device string `json:"device"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Outcome is published once per accepted trigger when its pipeline finishes.
// Success may still carry warnings (cleanup fail-open, partial playback).
type Outcome struct {
	RunID      string         `json:"run_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Kind       string         `json:"kind"` // speak, record_and_speak
	Voice      string         `json:"voice,omitempty"`
	Success    bool           `json:"success"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Targets    []TargetReport `json:"targets,omitempty"`
	Transcript string         `json:"transcript,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

const (
	SubjectTriggerSpeak    = "vmic.trigger.speak"
	SubjectTriggerRecord   = "vmic.trigger.record"
	SubjectTriggerCancel   = "vmic.trigger.cancel"
	SubjectPipelineOutcome = "vmic.pipeline.outcome"
)
