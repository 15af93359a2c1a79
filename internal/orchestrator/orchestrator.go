// Package orchestrator owns the per-session event loop: the single
// long-lived task that pulls together STT, the decision layer, brain
// routing, response guards, and TTS under the response state machine.
// The event-loop shape — a buffered input channel drained by a select
// alongside several timers, with a handleEvent dispatch switch — is
// adapted directly from the teacher's
// internal/domains/sys_manager/voice_stream_system/main.go VSS.Run, with
// the voice-keyword wake logic and single-user audio buffer replaced by
// the response state machine and multi-device session model.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rediai/broker/internal/brain"
	"github.com/rediai/broker/internal/config"
	"github.com/rediai/broker/internal/decision"
	"github.com/rediai/broker/internal/frame"
	"github.com/rediai/broker/internal/guards"
	"github.com/rediai/broker/internal/logging"
	"github.com/rediai/broker/internal/registry"
	"github.com/rediai/broker/internal/resilience"
	"github.com/rediai/broker/internal/responsefsm"
	"github.com/rediai/broker/internal/session"
	"github.com/rediai/broker/pkg/provider/llm"
	"github.com/rediai/broker/pkg/provider/stt"
	"github.com/rediai/broker/pkg/provider/tts"
)

// CreditLedger tracks per-session credit; the credit tick ends a session
// whose balance runs out. Implemented by internal/billing.Tracker. The
// orchestrator does not call ChargeCharacters, so TTS is neither charged nor
// stopped by the monthly spend cap.
type CreditLedger interface {
	HasCredits(sessionID string) bool
	ChargeTick(sessionID string)
	ChargeCharacters(n int) bool
}

// TurnRecorder persists one record per completed or blocked turn.
// cmd/broker adapts internal/analytics.Recorder to it.
type TurnRecorder interface {
	RecordTurn(rec TurnRecord)
}

// TurnRecord is one conversational turn's outcome, appended to analytics.
type TurnRecord struct {
	SessionID    string
	Mode         session.Mode
	Brain        brain.Brain
	Prompted     bool
	GuardVerdict string
	BlockReason  string
	Text         string
	LatencyMs    int64
	At           time.Time
}

// Brains maps each routed brain to the concrete LLM provider serving it.
type Brains struct {
	Fast  llm.Provider
	Deep  llm.Provider
	Voice llm.Provider
}

func (b Brains) pick(sel brain.Brain) llm.Provider {
	switch sel {
	case brain.Deep:
		return b.Deep
	case brain.Voice:
		return b.Voice
	default:
		return b.Fast
	}
}

// Dependencies wires an Orchestrator to the rest of the system.
type Dependencies struct {
	Registry *registry.Registry
	STT      stt.Provider
	TTS      tts.Provider
	Brains   Brains
	Voice    tts.VoiceProfile
	Settings config.SessionDefaults
	Billing  CreditLedger
	Recorder TurnRecorder
	Log      *logging.Logger
}

// Orchestrator runs one event loop per session.
type Orchestrator struct {
	deps Dependencies

	llmBreakers  map[brain.Brain]*resilience.Breaker[*llm.CompletionResponse]
	ttsBreaker   *resilience.Breaker[struct{}]
	retryPolicy  resilience.RetryPolicy

	mu       sync.Mutex
	sessions map[string]*sessionTask
}

// New constructs an Orchestrator.
func New(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		deps:        deps,
		llmBreakers: make(map[brain.Brain]*resilience.Breaker[*llm.CompletionResponse]),
		retryPolicy: resilience.DefaultRetryPolicy(),
		sessions:    make(map[string]*sessionTask),
	}
	for _, b := range []brain.Brain{brain.Fast, brain.Deep, brain.Voice} {
		o.llmBreakers[b] = resilience.NewBreaker[*llm.CompletionResponse](
			resilience.DefaultBreakerConfig(fmt.Sprintf("llm-%s", b)), deps.Log)
	}
	o.ttsBreaker = resilience.NewBreaker[struct{}](resilience.DefaultBreakerConfig("tts"), deps.Log)
	return o
}

// event is one unit of work pushed onto a session's event loop.
type event struct {
	kind string
	data any
}

type audioEvent struct {
	deviceID string
	chunk    []byte
}

type frameEvent struct {
	deviceID  string
	jpeg      []byte
	captureTs time.Time
}

type modeEvent struct{ mode session.Mode }
type sensitivityEvent struct{ value float64 }
type speakingEvent struct {
	deviceID string
	speaking bool
}
type audioOutputModeEvent struct {
	deviceID string
	mode     session.AudioOutputMode
}
type bargeInEvent struct{ deviceID string }
type finalTranscriptEvent struct{ text string }
type partialTranscriptEvent struct{ text string }

// sessionTask is the private per-session runtime state, owned exclusively
// by its own goroutine once started (per §5's "touched only by its owning
// task" rule for DecisionContext).
type sessionTask struct {
	sess     *session.Session
	decision *decision.Context
	frames   *frame.Buffer
	fsm      *responsefsm.FSM

	inCh   chan event
	cancel context.CancelFunc

	frameWaitTimer    *responsefsm.FrameWaitTimer
	creditTicker      *time.Ticker
	insightTicker     *time.Ticker
	aggregationTicker *time.Ticker

	stt stt.SessionHandle

	lastTTSChunkAt time.Time
	muted          bool
}

// StartSession implements gateway.Orchestrator, launching the session's
// event-loop task.
func (o *Orchestrator) StartSession(ctx context.Context, sess *session.Session) {
	sessionCtx, cancel := context.WithCancel(ctx)

	task := &sessionTask{
		sess:     sess,
		decision: decision.NewContext(o.deps.Settings.TranscriptRingSize, o.deps.Settings.RecentResponseRing),
		frames:   frame.New(o.deps.Settings.FrameRingSize),
		fsm:      responsefsm.New(),
		inCh:     make(chan event, 256),
		cancel:   cancel,
	}

	o.mu.Lock()
	o.sessions[sess.ID] = task
	o.mu.Unlock()

	go o.runSession(sessionCtx, task)
}

func (o *Orchestrator) taskFor(sessionID string) (*sessionTask, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.sessions[sessionID]
	return t, ok
}

func (o *Orchestrator) push(sessionID string, kind string, data any) {
	t, ok := o.taskFor(sessionID)
	if !ok {
		return
	}
	select {
	case t.inCh <- event{kind: kind, data: data}:
	default:
		o.deps.Log.Warnw("session event dropped, input channel full", "sessionId", sessionID, "kind", kind)
	}
}

func (o *Orchestrator) HandleAudio(sessionID, deviceID string, chunk []byte) {
	o.push(sessionID, "audio", audioEvent{deviceID: deviceID, chunk: chunk})
}

func (o *Orchestrator) HandleFrame(sessionID, deviceID string, jpeg []byte, captureTs time.Time) {
	o.push(sessionID, "frame", frameEvent{deviceID: deviceID, jpeg: jpeg, captureTs: captureTs})
}

func (o *Orchestrator) HandlePerception(sessionID, deviceID string, packet map[string]any) {
	o.push(sessionID, "perception", packet)
}

func (o *Orchestrator) HandleUserSpeaking(sessionID, deviceID string, speaking bool) {
	o.push(sessionID, "speaking", speakingEvent{deviceID: deviceID, speaking: speaking})
}

func (o *Orchestrator) HandleModeChange(sessionID string, mode session.Mode) {
	o.push(sessionID, "mode", modeEvent{mode: mode})
}

func (o *Orchestrator) HandleSensitivity(sessionID string, value float64) {
	o.push(sessionID, "sensitivity", sensitivityEvent{value: value})
}

func (o *Orchestrator) HandleAudioOutputModeChange(sessionID, deviceID string, mode session.AudioOutputMode) {
	o.push(sessionID, "audio_output_mode", audioOutputModeEvent{deviceID: deviceID, mode: mode})
}

func (o *Orchestrator) HandleBargeIn(sessionID, deviceID string) {
	o.push(sessionID, "barge_in", bargeInEvent{deviceID: deviceID})
}

// HandleFinalTranscript pushes a final transcript onto the session's event
// channel, where it is handled like a final result from STT. runSession
// reads STT finals directly and does not go through this method.
func (o *Orchestrator) HandleFinalTranscript(sessionID, text string) {
	o.push(sessionID, "final_transcript", finalTranscriptEvent{text: text})
}

// HandleSessionEnd implements gateway.Orchestrator. A second call on an
// already-removed session is a no-op.
func (o *Orchestrator) HandleSessionEnd(sessionID, deviceID string) {
	o.mu.Lock()
	t, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
}

func (o *Orchestrator) runSession(ctx context.Context, t *sessionTask) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Log.Errorw("panic recovered in session task", "sessionId", t.sess.ID, "panic", r)
		}
		o.teardown(t)
	}()

	if o.deps.STT == nil {
		o.deps.Log.Errorw("stt provider not configured", "sessionId", t.sess.ID)
		o.deps.Registry.Broadcast(t.sess.ID, "error", map[string]string{"code": "stt_setup_failed"}, "")
		o.deps.Registry.EndSessionWithCode(t.sess.ID, 1011, "stt provider not configured")
		return
	}

	var sttSession stt.SessionHandle
	if o.deps.STT != nil {
		var err error
		sttSession, err = o.deps.STT.StartStream(ctx, stt.StreamConfig{Language: "en", SampleRate: 16000})
		if err != nil {
			o.deps.Log.Errorw("stt setup failed", "sessionId", t.sess.ID, "err", err)
			o.deps.Registry.Broadcast(t.sess.ID, "error", map[string]string{"code": "stt_setup_failed"}, "")
			o.deps.Registry.EndSessionWithCode(t.sess.ID, 1011, "stt setup failed")
			return
		}
		t.stt = sttSession
		defer sttSession.Close()
	}

	t.creditTicker = time.NewTicker(o.deps.Settings.CreditTick)
	defer t.creditTicker.Stop()

	insightTick := 5 * time.Second
	t.insightTicker = time.NewTicker(insightTick)
	defer t.insightTicker.Stop()

	t.aggregationTicker = time.NewTicker(brain.AggregationInterval(t.sess.Mode))
	defer t.aggregationTicker.Stop()

	var finals <-chan stt.Transcript
	var partials <-chan stt.Transcript
	if sttSession != nil {
		finals = sttSession.Finals()
		partials = sttSession.Partials()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-t.inCh:
			o.handleEvent(ctx, t, ev)

		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			o.onFinalTranscript(ctx, t, tr.Text)

		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			o.deps.Registry.Broadcast(t.sess.ID, "transcript", map[string]any{
				"text": tr.Text, "isFinal": false, "role": "user",
			}, "")

		case <-t.creditTicker.C:
			if o.deps.Billing != nil {
				o.deps.Billing.ChargeTick(t.sess.ID)
				if !o.deps.Billing.HasCredits(t.sess.ID) {
					o.deps.Registry.Broadcast(t.sess.ID, "error", map[string]string{
						"code": "no_credits", "actionHint": "buy_credits",
					}, "")
					o.closeForNoCredits(t.sess.ID)
					return
				}
			}

		case <-t.insightTicker.C:
			o.maybeSpeakUnprompted(ctx, t)

		case <-t.aggregationTicker.C:
			o.maybeBroadcastVisualAnalysis(t)
		}
	}
}

func (o *Orchestrator) closeForNoCredits(sessionID string) {
	o.deps.Registry.EndSessionWithCode(sessionID, 4003, "no credits")
}

func (o *Orchestrator) teardown(t *sessionTask) {
	if t.frameWaitTimer != nil {
		t.frameWaitTimer.Stop()
	}
	o.mu.Lock()
	delete(o.sessions, t.sess.ID)
	o.mu.Unlock()
}

func (o *Orchestrator) handleEvent(ctx context.Context, t *sessionTask, ev event) {
	switch ev.kind {
	case "audio":
		a := ev.data.(audioEvent)
		if o.withinEchoSuppression(t) {
			return
		}
		if t.stt != nil {
			if err := t.stt.SendAudio(a.chunk); err != nil {
				o.deps.Log.Warnw("stt send failed", "sessionId", t.sess.ID, "err", err)
			}
		}

	case "frame":
		f := ev.data.(frameEvent)
		t.frames.Ingest(frame.Frame{DeviceID: f.deviceID, Data: f.jpeg, CaptureTs: f.captureTs})
		if t.fsm.Current() == responsefsm.StateWaitingForFrame {
			if t.frameWaitTimer != nil {
				t.frameWaitTimer.Stop()
				t.frameWaitTimer = nil
			}
			if err := t.fsm.Trigger(ctx, responsefsm.EventFrameArrived); err == nil {
				o.finishWaitingForFrame(ctx, t)
			}
		}

	case "mode":
		m := ev.data.(modeEvent)
		if t.sess.SetMode(m.mode) && t.aggregationTicker != nil {
			t.aggregationTicker.Reset(brain.AggregationInterval(m.mode))
		}

	case "sensitivity":
		s := ev.data.(sensitivityEvent)
		t.sess.SetSensitivity(s.value)

	case "audio_output_mode":
		m := ev.data.(audioOutputModeEvent)
		if t.sess.IsHost(m.deviceID) {
			t.sess.SetAudioOutputMode(m.mode)
			o.deps.Registry.Broadcast(t.sess.ID, "audio_output_mode_changed", map[string]string{"mode": string(m.mode)}, "")
		}

	case "speaking":
		s := ev.data.(speakingEvent)
		if s.speaking {
			o.onUserStartedSpeaking(ctx, t)
		}

	case "barge_in":
		o.onUserStartedSpeaking(ctx, t)

	case "final_transcript":
		f := ev.data.(finalTranscriptEvent)
		o.onFinalTranscript(ctx, t, f.text)

	case "perception":
		if packet, ok := ev.data.(map[string]any); ok {
			if text, ok := packet["summary"].(string); ok && text != "" {
				t.decision.UpdateVisualContext(text)
			}
		}
	}
}

func (o *Orchestrator) withinEchoSuppression(t *sessionTask) bool {
	if t.lastTTSChunkAt.IsZero() {
		return false
	}
	return time.Since(t.lastTTSChunkAt) < o.deps.Settings.EchoSuppressWindow
}

func (o *Orchestrator) onUserStartedSpeaking(ctx context.Context, t *sessionTask) {
	current := t.fsm.Current()
	if current == responsefsm.StateActive || current == responsefsm.StateWaitingForFrame {
		_ = t.fsm.Trigger(ctx, responsefsm.EventUserStartedSpeaking)
		o.deps.Registry.Broadcast(t.sess.ID, "stop_audio", nil, "")
		t.decision.OnUserInterruption()
		t.decision.AbandonSpeaking()
		if t.frameWaitTimer != nil {
			t.frameWaitTimer.Stop()
			t.frameWaitTimer = nil
		}
		_ = t.fsm.Trigger(ctx, responsefsm.EventCancelAcknowledged)
	}
}

func (o *Orchestrator) onFinalTranscript(ctx context.Context, t *sessionTask, text string) {
	if text == "" {
		return
	}
	t.decision.AppendTranscript(text)
	o.deps.Registry.Broadcast(t.sess.ID, "transcript", map[string]any{
		"text": text, "isFinal": true, "role": "user",
	}, "")

	for _, warning := range guards.PreFilterWarnings(text) {
		o.deps.Log.Warnw("user input flagged by pre-filter", "sessionId", t.sess.ID, "warning", warning)
	}

	if !decision.IsQuestion(text) {
		return
	}

	isVisual := decision.IsVisualQuestion(text)
	freshFrame, hasFresh := t.frames.Freshest(o.deps.Settings.FreshFrameMaxAge)

	if isVisual && !hasFresh {
		if err := t.fsm.Trigger(ctx, responsefsm.EventQuestionNoFreshFrame); err == nil {
			o.deps.Registry.Broadcast(t.sess.ID, "request_frame", nil, "")
			t.frameWaitTimer = responsefsm.ArmFrameWaitTimer(o.deps.Settings.FrameWaitTimeout, func() {
				_ = t.fsm.Trigger(ctx, responsefsm.EventFrameDeadline)
				o.finishWaitingForFrame(ctx, t)
			})
		}
		return
	}

	if err := t.fsm.Trigger(ctx, responsefsm.EventQuestionFreshFrame); err == nil {
		var injected *frame.Frame
		if isVisual && hasFresh {
			injected = &freshFrame
		}
		o.respond(ctx, t, text, true, injected)
	}
}

func (o *Orchestrator) finishWaitingForFrame(ctx context.Context, t *sessionTask) {
	entry, ok := t.decision.LatestTranscript()
	if !ok {
		return
	}
	freshFrame, hasFresh := t.frames.Freshest(o.deps.Settings.FreshFrameMaxAge)
	var injected *frame.Frame
	if hasFresh {
		injected = &freshFrame
	}
	o.respondWithNotice(ctx, t, entry.Text, true, injected, !hasFresh)
}

// maybeBroadcastVisualAnalysis submits the session's current per-device
// latest frame set as a single background analysis, per §4.3's multi-device
// aggregation timer. A lone-device session has nothing to aggregate.
func (o *Orchestrator) maybeBroadcastVisualAnalysis(t *sessionTask) {
	if o.deps.Registry.DeviceCount(t.sess.ID) < 2 {
		return
	}
	latest := t.frames.PerDeviceLatest()
	if len(latest) < 2 {
		return
	}

	devices := make(map[string]int64, len(latest))
	for deviceID, f := range latest {
		if time.Since(f.CaptureTs) > o.deps.Settings.BackgroundFrameMaxAge {
			continue
		}
		devices[deviceID] = f.CaptureTs.UnixMilli()
	}
	if len(devices) < 2 {
		return
	}

	o.deps.Registry.Broadcast(t.sess.ID, "visual_analysis", map[string]any{
		"deviceCount": len(devices),
		"devices":     devices,
	}, "")
}

func (o *Orchestrator) maybeSpeakUnprompted(ctx context.Context, t *sessionTask) {
	if t.fsm.Current() != responsefsm.StateIdle {
		return
	}
	snap := t.decision.BuildSnapshot(decision.IsQuestion)
	gap := decision.MinimumInterResponseGap(t.sess.Sensitivity())
	silenceSince := time.Since(snap.LastSpokenAt)
	if snap.LastSpokenAt.IsZero() {
		silenceSince = gap
	}
	speak, prompted := decision.ShouldSpeak(snap, t.sess.Sensitivity(), silenceSince)
	if !speak || prompted {
		return
	}
	if !t.decision.IsContextFresh() {
		return
	}
	text, _, ok := t.decision.PendingInsight()
	if !ok {
		return
	}
	if err := t.fsm.Trigger(ctx, responsefsm.EventUnpromptedInsight); err != nil {
		return
	}
	o.respond(ctx, t, text, false, nil)
}
