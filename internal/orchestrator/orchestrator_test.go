package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediai/broker/internal/config"
	"github.com/rediai/broker/internal/guards"
	"github.com/rediai/broker/internal/logging"
	"github.com/rediai/broker/internal/registry"
	"github.com/rediai/broker/internal/session"
	"github.com/rediai/broker/pkg/provider/llm"
	"github.com/rediai/broker/pkg/provider/stt"
	"github.com/rediai/broker/pkg/provider/tts"
)

type fakeConn struct {
	id string

	mu        sync.Mutex
	sent      []string
	payloads  []any
	closeCode int
	closeRsn  string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) DeviceID() string { return f.id }
func (f *fakeConn) Send(messageType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, messageType)
	f.payloads = append(f.payloads, payload)
	return nil
}
func (f *fakeConn) Close() error { return nil }
func (f *fakeConn) CloseWithCode(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
	f.closeRsn = reason
}

func (f *fakeConn) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) closedWithCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []TurnRecord
}

func (f *fakeRecorder) RecordTurn(rec TurnRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeRecorder) snapshot() []TurnRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TurnRecord, len(f.records))
	copy(out, f.records)
	return out
}

type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.text}, nil
}

type fakeTTS struct{}

func (fakeTTS) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		for range text {
			out <- []byte("pcm-bytes")
		}
	}()
	return out, nil
}

type fakeSTTSession struct {
	finals   chan stt.Transcript
	partials chan stt.Transcript
}

func (f *fakeSTTSession) SendAudio(chunk []byte) error { return nil }
func (f *fakeSTTSession) Partials() <-chan stt.Transcript { return f.partials }
func (f *fakeSTTSession) Finals() <-chan stt.Transcript   { return f.finals }
func (f *fakeSTTSession) SetKeywords(keywords []stt.KeywordBoost) error { return nil }
func (f *fakeSTTSession) Close() error {
	close(f.finals)
	close(f.partials)
	return nil
}

type fakeSTTProvider struct{}

func (fakeSTTProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return &fakeSTTSession{
		finals:   make(chan stt.Transcript, 4),
		partials: make(chan stt.Transcript, 4),
	}, nil
}

func newTestOrchestrator(t *testing.T, reg *registry.Registry, llmResp string) *Orchestrator {
	t.Helper()
	return newTestOrchestratorWithRecorder(t, reg, llmResp, nil)
}

func newTestOrchestratorWithRecorder(t *testing.T, reg *registry.Registry, llmResp string, rec TurnRecorder) *Orchestrator {
	t.Helper()
	deps := Dependencies{
		Registry: reg,
		STT:      fakeSTTProvider{},
		TTS:      fakeTTS{},
		Brains: Brains{
			Fast:  &fakeLLM{text: llmResp},
			Deep:  &fakeLLM{text: llmResp},
			Voice: &fakeLLM{text: llmResp},
		},
		Voice:    tts.VoiceProfile{ID: "v1"},
		Settings: config.DefaultSessionDefaults(),
		Recorder: rec,
		Log:      logging.New(true),
	}
	return New(deps)
}

func TestOrchestrator_StartSessionRegistersTask(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	o := newTestOrchestrator(t, reg, "hello there")

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	reg.CreateSession(sess, newFakeConn("host1"))

	o.StartSession(context.Background(), sess)

	_, ok := o.taskFor("sess1")
	assert.True(t, ok)

	o.HandleSessionEnd("sess1", "host1")
	require.Eventually(t, func() bool {
		_, ok := o.taskFor("sess1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestrator_FinalQuestionProducesResponseAndAudio(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	o := newTestOrchestrator(t, reg, "it is five oclock")

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	host := newFakeConn("host1")
	reg.CreateSession(sess, host)
	o.StartSession(context.Background(), sess)

	o.HandleFinalTranscript("sess1", "What time is it?")

	require.Eventually(t, func() bool {
		for _, s := range host.sentTypes() {
			if s == "ai_response" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	types := host.sentTypes()
	assert.Contains(t, types, "mute_mic")
	assert.Contains(t, types, "voice_audio")
}

func TestOrchestrator_ModeChangeUpdatesSession(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	o := newTestOrchestrator(t, reg, "ok")

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	reg.CreateSession(sess, newFakeConn("host1"))
	o.StartSession(context.Background(), sess)

	o.HandleModeChange("sess1", session.ModeDriving)

	require.Eventually(t, func() bool {
		return sess.Mode == session.ModeDriving
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestrator_BargeInDuringActiveCancelsWithoutPanic(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	o := newTestOrchestrator(t, reg, "a somewhat longer answer that keeps going")

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	reg.CreateSession(sess, newFakeConn("host1"))
	o.StartSession(context.Background(), sess)

	o.HandleFinalTranscript("sess1", "What time is it?")
	o.HandleBargeIn("sess1", "host1")

	require.Eventually(t, func() bool {
		task, ok := o.taskFor("sess1")
		return ok && task.fsm.Current() != ""
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestrator_RepeatedAnswerBlockedBySemanticDedup(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	rec := &fakeRecorder{}
	o := newTestOrchestratorWithRecorder(t, reg, "it is five oclock", rec)

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	reg.CreateSession(sess, newFakeConn("host1"))
	o.StartSession(context.Background(), sess)

	o.HandleFinalTranscript("sess1", "What time is it?")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	// Space the second turn past the guard chain's rate floor so the dedup
	// check, not the rate floor, is what blocks the repeat answer.
	time.Sleep(1100 * time.Millisecond)
	o.HandleFinalTranscript("sess1", "What time is it now?")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	records := rec.snapshot()
	assert.Equal(t, "pass", records[0].GuardVerdict)
	assert.Equal(t, "blocked", records[1].GuardVerdict)
	assert.Equal(t, guards.BlockSemanticDuplication, records[1].BlockReason)
}

func TestOrchestrator_NoCreditsClosesWithCode4003(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	settings := config.DefaultSessionDefaults()
	settings.CreditTick = 20 * time.Millisecond
	deps := Dependencies{
		Registry: reg,
		STT:      fakeSTTProvider{},
		TTS:      fakeTTS{},
		Brains:   Brains{Fast: &fakeLLM{text: "ok"}, Deep: &fakeLLM{text: "ok"}, Voice: &fakeLLM{text: "ok"}},
		Voice:    tts.VoiceProfile{ID: "v1"},
		Settings: settings,
		Billing:  &noCreditsLedger{},
		Log:      logging.New(true),
	}
	o := New(deps)

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	host := newFakeConn("host1")
	reg.CreateSession(sess, host)
	o.StartSession(context.Background(), sess)

	require.Eventually(t, func() bool {
		return host.closedWithCode() == 4003
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestrator_STTSetupFailureClosesWithCode1011(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	deps := Dependencies{
		Registry: reg,
		STT:      failingSTTProvider{},
		TTS:      fakeTTS{},
		Brains:   Brains{Fast: &fakeLLM{text: "ok"}, Deep: &fakeLLM{text: "ok"}, Voice: &fakeLLM{text: "ok"}},
		Voice:    tts.VoiceProfile{ID: "v1"},
		Settings: config.DefaultSessionDefaults(),
		Log:      logging.New(true),
	}
	o := New(deps)

	sess := session.New("sess1", "host1", session.ModeGeneral, 0.5, time.Hour)
	host := newFakeConn("host1")
	reg.CreateSession(sess, host)
	o.StartSession(context.Background(), sess)

	require.Eventually(t, func() bool {
		return host.closedWithCode() == 1011
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestrator_MultiDeviceFrameBroadcastsVisualAnalysis(t *testing.T) {
	reg := registry.New(nil, logging.New(true))
	o := newTestOrchestrator(t, reg, "ok")

	sess := session.New("sess1", "host1", session.ModeDriving, 0.5, time.Hour)
	host := newFakeConn("host1")
	guest := newFakeConn("guest1")
	reg.CreateSession(sess, host)
	_, err := reg.Join("sess1", guest)
	require.NoError(t, err)

	o.StartSession(context.Background(), sess)
	o.HandleFrame("sess1", "host1", []byte("jpeg-a"), time.Now())
	o.HandleFrame("sess1", "guest1", []byte("jpeg-b"), time.Now())

	require.Eventually(t, func() bool {
		for _, s := range host.sentTypes() {
			if s == "visual_analysis" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

type noCreditsLedger struct{}

func (noCreditsLedger) HasCredits(sessionID string) bool { return false }
func (noCreditsLedger) ChargeTick(sessionID string)      {}
func (noCreditsLedger) ChargeCharacters(n int) bool      { return true }

type failingSTTProvider struct{}

func (failingSTTProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, errors.New("provider unavailable")
}
