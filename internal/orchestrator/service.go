// Package orchestrator runs the speak and record-and-speak pipelines. It is
// the single writer of pipeline state: at most one run is in flight, new
// triggers follow the configured supersede policy, and every accepted run
// ends in exactly one published outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vmiclabs/vmic-core/internal/bus"
	"github.com/vmiclabs/vmic-core/internal/cleanup"
	"github.com/vmiclabs/vmic-core/internal/config"
	"github.com/vmiclabs/vmic-core/internal/device"
	"github.com/vmiclabs/vmic-core/internal/history"
	"github.com/vmiclabs/vmic-core/internal/player"
	"github.com/vmiclabs/vmic-core/internal/protocol"
	"github.com/vmiclabs/vmic-core/internal/recorder"
	"github.com/vmiclabs/vmic-core/internal/synth"
	"github.com/vmiclabs/vmic-core/internal/transcribe"
)

// State is the orchestrator's run state.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
)

// Deps bundles the pipeline stages the orchestrator drives.
type Deps struct {
	Catalog    device.Catalog
	Player     *player.Player
	Recorder   recorder.Recorder
	Recognizer transcribe.Recognizer
	History    *history.Store
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type Service struct {
	cfg    *config.Config
	bus    *bus.Client
	logger *slog.Logger
	deps   Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	current *activeRun

	subSpeak  *nats.Subscription
	subRecord *nats.Subscription
	subCancel *nats.Subscription

	// Test seams. Production wiring leaves these nil and the defaults
	// build from config.
	selectSynth func(voice string, onFallback func(error)) (synth.Synthesizer, error)
	newCleaner  func() cleanup.Cleaner
	onOutcome   func(protocol.Outcome)

	runsTotal     metric.Int64Counter
	stageDuration metric.Float64Histogram
}

func NewService(parent context.Context, cfg *config.Config, busClient *bus.Client, deps Deps, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		logger: logger.With(slog.String("component", "orchestrator")),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
	meter := otel.Meter("github.com/vmiclabs/vmic-core/orchestrator")
	s.runsTotal, _ = meter.Int64Counter("vmic.runs.total",
		metric.WithDescription("Completed pipeline runs by result"))
	s.stageDuration, _ = meter.Float64Histogram("vmic.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"))
	return s
}

// Start subscribes the trigger subjects. Safe to call with a nil bus, in
// which case the orchestrator is driven directly via its Trigger methods.
func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTriggerSpeak, s.handleSpeakMsg)
	if err != nil {
		return err
	}
	s.subSpeak = sub

	sub, err = s.bus.Conn().Subscribe(protocol.SubjectTriggerRecord, s.handleRecordMsg)
	if err != nil {
		s.subSpeak.Drain()
		return err
	}
	s.subRecord = sub

	sub, err = s.bus.Conn().Subscribe(protocol.SubjectTriggerCancel, s.handleCancelMsg)
	if err != nil {
		s.subSpeak.Drain()
		s.subRecord.Drain()
		return err
	}
	s.subCancel = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range []*nats.Subscription{s.subSpeak, s.subRecord, s.subCancel} {
		if sub != nil {
			_ = sub.Drain()
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.bus == nil || (s.subSpeak != nil && s.subRecord != nil && s.subCancel != nil)
}

// CurrentState reports the run state at the moment of the call.
func (s *Service) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TriggerSpeak admits a speak run under the supersede policy. It returns the
// run ID and true when the run was accepted; a dropped trigger returns false
// and produces no outcome.
func (s *Service) TriggerSpeak(trigger protocol.SpeakTrigger) (string, bool) {
	return s.admit("speak", func(runCtx context.Context, runID string) protocol.Outcome {
		return s.runSpeak(runCtx, runID, trigger)
	})
}

// TriggerRecord admits a record-and-speak run under the supersede policy.
func (s *Service) TriggerRecord(trigger protocol.RecordTrigger) (string, bool) {
	return s.admit("record_and_speak", func(runCtx context.Context, runID string) protocol.Outcome {
		return s.runRecord(runCtx, runID, trigger)
	})
}

// Cancel aborts the in-flight run, if any. Idle cancels are no-ops.
func (s *Service) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.current == nil {
		return false
	}
	s.state = StateCancelling
	s.current.cancel()
	return true
}

func (s *Service) admit(kind string, run func(context.Context, string) protocol.Outcome) (string, bool) {
	s.mu.Lock()
	for s.current != nil {
		if s.cfg.Pipeline.Supersede != "replace" { // drop
			s.mu.Unlock()
			s.logger.Info("trigger dropped, pipeline busy", slog.String("kind", kind))
			return "", false
		}
		// The superseded run unwinds and publishes its own cancelled
		// outcome. The new run starts only after the old one has
		// released its devices, so streams never overlap.
		superseded := s.current
		s.state = StateCancelling
		superseded.cancel()
		s.mu.Unlock()
		select {
		case <-superseded.done:
		case <-s.ctx.Done():
			return "", false
		}
		s.mu.Lock()
	}

	runID := uuid.NewString()
	runCtx, cancelRun := context.WithCancel(s.ctx)
	this := &activeRun{id: runID, cancel: cancelRun, done: make(chan struct{})}
	s.current = this
	s.state = StateRunning
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(this.done)
		defer cancelRun()
		started := time.Now()
		s.journalStart(runID, kind, started)

		outcome := run(runCtx, runID)
		outcome.RunID = runID
		outcome.Kind = kind
		outcome.Timestamp = time.Now().UTC()

		s.finishRun(runID)
		s.publishOutcome(outcome)
		s.journalRun(outcome, started)

		result := outcome.ErrorKind
		if outcome.Success {
			result = "success"
		}
		s.runsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("kind", kind),
				attribute.String("result", result)))
	}()
	return runID, true
}

func (s *Service) finishRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.id == runID {
		s.current = nil
		s.state = StateIdle
	}
}

func (s *Service) publishOutcome(outcome protocol.Outcome) {
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		s.logger.Warn("failed to encode outcome", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectPipelineOutcome, data); err != nil {
		s.logger.Warn("failed to publish outcome", slogError(err))
	}
}

func (s *Service) journalStart(runID, kind string, started time.Time) {
	if s.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run := history.Run{RunID: runID, Kind: kind, StartedAt: started.UTC(), FinishedAt: started.UTC()}
	if err := s.deps.History.RecordRun(ctx, run); err != nil {
		s.logger.Warn("failed to journal run start", slogError(err))
	}
}

// journalStage records a stage transition on the run timeline. Best effort.
func (s *Service) journalStage(runID, stage, detail string) {
	if s.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.History.AppendStageEvent(ctx, runID, stage, detail); err != nil {
		s.logger.Warn("failed to journal stage event", slogError(err))
	}
}

func (s *Service) journalRun(outcome protocol.Outcome, started time.Time) {
	if s.deps.History == nil {
		return
	}
	targets := make([]string, 0, len(outcome.Targets))
	for _, tr := range outcome.Targets {
		targets = append(targets, tr.Device)
	}
	run := history.Run{
		RunID:      outcome.RunID,
		RequestID:  outcome.RequestID,
		Kind:       outcome.Kind,
		Voice:      outcome.Voice,
		Success:    outcome.Success,
		ErrorKind:  outcome.ErrorKind,
		Stage:      outcome.Stage,
		Warnings:   outcome.Warnings,
		Targets:    targets,
		Transcript: outcome.Transcript,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.History.RecordRun(ctx, run); err != nil {
		s.logger.Warn("failed to journal run", slogError(err))
	}
}

func (s *Service) handleSpeakMsg(msg *nats.Msg) {
	var trigger protocol.SpeakTrigger
	if err := json.Unmarshal(msg.Data, &trigger); err != nil {
		s.logger.Warn("failed to decode speak trigger", slogError(err))
		return
	}
	s.TriggerSpeak(trigger)
}

func (s *Service) handleRecordMsg(msg *nats.Msg) {
	var trigger protocol.RecordTrigger
	if err := json.Unmarshal(msg.Data, &trigger); err != nil {
		s.logger.Warn("failed to decode record trigger", slogError(err))
		return
	}
	s.TriggerRecord(trigger)
}

func (s *Service) handleCancelMsg(msg *nats.Msg) {
	var trigger protocol.CancelTrigger
	if err := json.Unmarshal(msg.Data, &trigger); err != nil {
		s.logger.Warn("failed to decode cancel trigger", slogError(err))
		return
	}
	s.Cancel()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
