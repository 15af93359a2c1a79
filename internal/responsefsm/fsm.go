// Package responsefsm implements the per-session Response State Machine of
// component design §4.7 on top of github.com/looplab/fsm — the dependency
// the teacher declares (see internal/domains/sys_manager/runtime) but never
// wires to an actual fsm.NewFSM call. This is that wiring, generalized from
// a sleep/wake/thinking sketch to the full idle/waiting_for_frame/active/
// cancelling response lifecycle.
package responsefsm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

// State names, exactly as named in §4.7.
const (
	StateIdle            = "idle"
	StateWaitingForFrame = "waiting_for_frame"
	StateActive          = "active"
	StateCancelling      = "cancelling"
)

// Event names accepted by Trigger.
const (
	EventQuestionNoFreshFrame  = "question_no_fresh_frame"
	EventQuestionFreshFrame    = "question_fresh_frame"
	EventUnpromptedInsight     = "unprompted_insight"
	EventFrameArrived          = "frame_arrived"
	EventFrameDeadline         = "frame_deadline"
	EventUserStartedSpeaking   = "user_started_speaking"
	EventResponseComplete      = "response_complete"
	EventProviderError         = "provider_error"
	EventCancelAcknowledged    = "cancel_acknowledged"
	EventCancelTimeout         = "cancel_timeout"
)

// FSM is the per-session response state machine. A new response trigger
// (question or unprompted insight) that arrives while the machine is not
// idle is dropped, never queued — Trigger enforces this before ever
// touching the underlying fsm.FSM, and Drops records how many times it
// happened, satisfying the "counter records drops for visibility" note.
type FSM struct {
	mu    sync.Mutex
	inner *fsm.FSM
	drops uint64

	OnEnterWaitingForFrame func(ctx context.Context)
	OnEnterActive          func(ctx context.Context)
	OnEnterCancelling      func(ctx context.Context)
	OnEnterIdle            func(ctx context.Context)
}

// newResponseTriggerEvents are the events subject to the drop-never-queue
// rule: they only make sense to fire from idle.
var newResponseTriggerEvents = map[string]bool{
	EventQuestionNoFreshFrame: true,
	EventQuestionFreshFrame:   true,
	EventUnpromptedInsight:    true,
}

// New builds a Response FSM starting in idle, wired with the exact
// transition table of §4.7.
func New() *FSM {
	r := &FSM{}
	r.inner = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventQuestionNoFreshFrame, Src: []string{StateIdle}, Dst: StateWaitingForFrame},
			{Name: EventQuestionFreshFrame, Src: []string{StateIdle}, Dst: StateActive},
			{Name: EventUnpromptedInsight, Src: []string{StateIdle}, Dst: StateActive},
			{Name: EventFrameArrived, Src: []string{StateWaitingForFrame}, Dst: StateActive},
			{Name: EventFrameDeadline, Src: []string{StateWaitingForFrame}, Dst: StateActive},
			{Name: EventUserStartedSpeaking, Src: []string{StateWaitingForFrame, StateActive}, Dst: StateCancelling},
			{Name: EventResponseComplete, Src: []string{StateActive}, Dst: StateIdle},
			{Name: EventProviderError, Src: []string{StateActive}, Dst: StateIdle},
			{Name: EventCancelAcknowledged, Src: []string{StateCancelling}, Dst: StateIdle},
			{Name: EventCancelTimeout, Src: []string{StateCancelling}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_" + StateWaitingForFrame: func(ctx context.Context, e *fsm.Event) {
				if r.OnEnterWaitingForFrame != nil {
					r.OnEnterWaitingForFrame(ctx)
				}
			},
			"enter_" + StateActive: func(ctx context.Context, e *fsm.Event) {
				if r.OnEnterActive != nil {
					r.OnEnterActive(ctx)
				}
			},
			"enter_" + StateCancelling: func(ctx context.Context, e *fsm.Event) {
				if r.OnEnterCancelling != nil {
					r.OnEnterCancelling(ctx)
				}
			},
			"enter_" + StateIdle: func(ctx context.Context, e *fsm.Event) {
				if r.OnEnterIdle != nil {
					r.OnEnterIdle(ctx)
				}
			},
		},
	)
	return r
}

// Current returns the current state name.
func (r *FSM) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner.Current()
}

// Drops returns the number of new-response triggers dropped because the
// machine was not idle.
func (r *FSM) Drops() uint64 {
	return atomic.LoadUint64(&r.drops)
}

// Trigger fires an event against the machine. If event is one of the
// new-response triggers and the machine is not currently idle, the event is
// dropped (not queued) and Trigger returns ErrDropped.
func (r *FSM) Trigger(ctx context.Context, event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if newResponseTriggerEvents[event] && r.inner.Current() != StateIdle {
		atomic.AddUint64(&r.drops, 1)
		return ErrDropped
	}

	return r.inner.Event(ctx, event)
}

// ErrDropped is returned by Trigger when a new-response event arrives while
// the machine is not idle.
var ErrDropped = fsmDroppedError{}

type fsmDroppedError struct{}

func (fsmDroppedError) Error() string { return "responsefsm: response trigger dropped, machine not idle" }

// FrameWaitTimer arms a deadline that fires EventFrameDeadline if no frame
// arrives first. Callers must call Stop when the timer is no longer needed
// (cancelled, or the session ended) — per the concurrency model's "timers
// must be cancelled on session end" rule.
type FrameWaitTimer struct {
	timer *time.Timer
}

// ArmFrameWaitTimer starts a deadline timer that invokes onDeadline after d
// unless Stop is called first.
func ArmFrameWaitTimer(d time.Duration, onDeadline func()) *FrameWaitTimer {
	return &FrameWaitTimer{timer: time.AfterFunc(d, onDeadline)}
}

// Stop cancels the timer. Safe to call multiple times.
func (f *FrameWaitTimer) Stop() {
	if f.timer != nil {
		f.timer.Stop()
	}
}
