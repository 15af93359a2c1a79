package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/rediai/broker/internal/brain"
	"github.com/rediai/broker/internal/frame"
	"github.com/rediai/broker/internal/guards"
	"github.com/rediai/broker/internal/resilience"
	"github.com/rediai/broker/internal/responsefsm"
	"github.com/rediai/broker/pkg/provider/llm"
)

// respond runs one turn through brain selection, the LLM call, the response
// guards, and TTS streaming, honoring the mute_mic/stop_audio ordering
// guarantees of the concurrency model: mute_mic:true is broadcast before the
// first audio chunk, mute_mic:false only after response.done, and a barge-in
// recorded mid-flight causes the output to be dropped rather than spoken.
func (o *Orchestrator) respond(ctx context.Context, t *sessionTask, transcript string, prompted bool, injected *frame.Frame) {
	o.respondWithNotice(ctx, t, transcript, prompted, injected, false)
}

// respondWithNotice is respond with the frame-wait-timeout notice described
// in §4.8 step 3: when noCameraView is true, the prompt tells the model no
// current camera view was available rather than silently omitting the image.
func (o *Orchestrator) respondWithNotice(ctx context.Context, t *sessionTask, transcript string, prompted bool, injected *frame.Frame, noCameraView bool) {
	if !t.decision.MarkSpeakingStart() {
		return
	}

	started := time.Now()
	sel := brain.Select(brain.Input{
		Transcript:    transcript,
		Mode:          t.sess.Mode,
		HasFreshFrame: injected != nil,
	})

	req := buildCompletionRequest(sel, transcript, injected, noCameraView)
	resp, err := o.callBrain(ctx, sel.Brain, req)
	if err != nil {
		o.onBrainFailure(ctx, t, err)
		return
	}

	if t.decision.ShouldIgnoreResponse() {
		t.decision.AbandonSpeaking()
		t.decision.ClearInterruption()
		_ = t.fsm.Trigger(ctx, responsefsm.EventResponseComplete)
		return
	}

	wordCap := brain.WordCapWithFrame(t.sess.Mode, sel.WordCap, injected != nil)
	verdict := guards.Run(guards.Check{
		Text:            resp.Text,
		Mode:            t.sess.Mode,
		FrameInjected:   injected != nil,
		LastResponseAt:  t.lastTTSChunkAt,
		Now:             time.Now(),
		RecentResponses: t.decision.RecentResponses(),
		WordCap:         wordCap,
	})
	if !verdict.Pass {
		o.deps.Log.Infow("response blocked by guard", "sessionId", t.sess.ID, "reason", verdict.Reason)
		t.decision.AbandonSpeaking()
		_ = t.fsm.Trigger(ctx, responsefsm.EventResponseComplete)
		if o.deps.Recorder != nil {
			o.deps.Recorder.RecordTurn(TurnRecord{
				SessionID: t.sess.ID, Mode: t.sess.Mode, Brain: sel.Brain, Prompted: prompted,
				GuardVerdict: "blocked", BlockReason: verdict.Reason, Text: resp.Text,
				LatencyMs: time.Since(started).Milliseconds(), At: started,
			})
		}
		return
	}

	o.deps.Registry.Broadcast(t.sess.ID, "ai_response", map[string]string{"text": resp.Text}, "")
	o.streamTTS(ctx, t, resp.Text)

	t.decision.MarkSpoke(resp.Text)
	_ = t.fsm.Trigger(ctx, responsefsm.EventResponseComplete)

	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordTurn(TurnRecord{
			SessionID: t.sess.ID, Mode: t.sess.Mode, Brain: sel.Brain, Prompted: prompted,
			GuardVerdict: "pass", Text: resp.Text,
			LatencyMs: time.Since(started).Milliseconds(), At: started,
		})
	}
}

func buildCompletionRequest(sel brain.Selection, transcript string, injected *frame.Frame, noCameraView bool) llm.CompletionRequest {
	msg := llm.Message{Role: llm.RoleUser, Text: transcript}
	systemPrompt := brain.SystemPrompt
	switch {
	case injected != nil:
		msg.Image = &llm.ImageInput{
			MediaType: "image/jpeg",
			Base64:    base64.StdEncoding.EncodeToString(injected.Data),
		}
		systemPrompt = brain.VisualSystemPrompt
	case noCameraView:
		systemPrompt = brain.NoCameraViewSystemPrompt
	}
	return llm.CompletionRequest{
		SystemPrompt:    systemPrompt,
		Messages:        []llm.Message{msg},
		MaxOutputTokens: sel.MaxOutputTokens,
	}
}

func (o *Orchestrator) callBrain(ctx context.Context, which brain.Brain, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	provider := o.deps.Brains.pick(which)
	if provider == nil {
		return nil, errors.New("no LLM provider configured for the selected brain")
	}
	breaker := o.llmBreakers[which]

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var resp *llm.CompletionResponse
	err := o.retryPolicy.Do(callCtx, 3, func() error {
		r, err := resilience.CallWithContext(callCtx, breaker, func() (*llm.CompletionResponse, error) {
			return provider.Complete(callCtx, req)
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (o *Orchestrator) onBrainFailure(ctx context.Context, t *sessionTask, err error) {
	o.deps.Log.Errorw("brain call failed", "sessionId", t.sess.ID, "err", err)
	t.decision.AbandonSpeaking()
	_ = t.fsm.Trigger(ctx, responsefsm.EventProviderError)
	o.deps.Registry.Broadcast(t.sess.ID, "error", map[string]string{
		"code": "provider_error", "actionHint": "retry",
	}, "")
}

// streamTTS synthesizes text and broadcasts mute_mic/audio/stop ordering:
// mute_mic true fires before the first chunk, each chunk is broadcast per
// the session's audioOutputMode, and mute_mic false fires only after the
// provider's stream closes, delayed by the configured tail so echo from the
// speaker has time to die down before the mic is re-armed.
func (o *Orchestrator) streamTTS(ctx context.Context, t *sessionTask, text string) {
	if o.deps.TTS == nil {
		return
	}

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	var audioCh <-chan []byte
	_, err := resilience.CallWithContext(ctx, o.ttsBreaker, func() (struct{}, error) {
		var setupErr error
		audioCh, setupErr = o.deps.TTS.SynthesizeStream(ctx, textCh, o.deps.Voice)
		return struct{}{}, setupErr
	})
	if err != nil {
		o.deps.Log.Errorw("tts setup failed", "sessionId", t.sess.ID, "err", err)
		o.deps.Registry.Broadcast(t.sess.ID, "tts_fallback", map[string]string{"text": text}, "")
		return
	}

	first := true
	for chunk := range audioCh {
		if first {
			o.deps.Registry.Broadcast(t.sess.ID, "mute_mic", map[string]bool{"muted": true}, "")
			first = false
		}
		t.lastTTSChunkAt = time.Now()
		o.deps.Registry.BroadcastAudio(t.sess.ID, "voice_audio", map[string]string{
			"data": base64.StdEncoding.EncodeToString(chunk),
		})
	}

	if !first {
		time.AfterFunc(o.deps.Settings.MuteTailDelay, func() {
			o.deps.Registry.Broadcast(t.sess.ID, "mute_mic", map[string]bool{"muted": false}, "")
		})
	}
}
