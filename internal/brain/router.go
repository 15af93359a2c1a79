// Package brain implements the pure brain-selection policy of component
// design §4.6: given a transcript, frame freshness, and mode, pick which
// LLM pipeline answers the turn and how many tokens it may spend.
//
// This mirrors the selection-then-dispatch shape of the teacher's
// pkg/assistant/router Mux — RouterPolicy.Select picks a target, Mux.Stream
// dispatches to it — generalized from opaque model-name routing to the
// explicit first-match-wins keyword/mode table the spec requires.
package brain

import (
	"regexp"
	"strings"
	"time"

	"github.com/rediai/broker/internal/session"
)

// Brain identifies one of the LLM pipelines.
type Brain string

const (
	Fast Brain = "fast"
	Deep Brain = "deep"
	Voice Brain = "voice"
)

// Selection is the router's output: which brain, and its token budget.
type Selection struct {
	Brain           Brain
	MaxOutputTokens int
	WordCap         int // 0 means no hard word cap
	Reason          string
}

var deepTriggerWords = []string{
	"explain", "why", "analyze", "compare", "strategy", "should i",
	"what do you think", "advice", "recommend", "confused",
}

var visualQuestionPattern = regexp.MustCompile(`(?i)\b(what do you see|look at|describe|what is this)\b`)

// Input is everything the router needs to make its decision.
type Input struct {
	Transcript     string
	Mode           session.Mode
	HasFreshFrame  bool
}

// Select applies the first-match-wins rule table of §4.6.
func Select(in Input) Selection {
	lower := strings.ToLower(in.Transcript)

	if containsAny(lower, deepTriggerWords) {
		return deepSelection(in.Mode, "deep_trigger_phrase")
	}

	switch in.Mode {
	case session.ModeDriving, session.ModeSports, session.ModeCooking:
		return fastSelection(in.Mode, "mode_prefers_fast")
	case session.ModeStudying, session.ModeMeeting:
		return deepSelection(in.Mode, "mode_prefers_deep")
	}

	if in.HasFreshFrame && visualQuestionPattern.MatchString(in.Transcript) {
		return deepSelection(in.Mode, "visual_question_with_fresh_frame")
	}

	return fastSelection(in.Mode, "default")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func fastSelection(mode session.Mode, reason string) Selection {
	s := Selection{Brain: Fast, MaxOutputTokens: 150, Reason: reason}
	if mode == session.ModeDriving {
		s.WordCap = 15
	}
	return s
}

func deepSelection(mode session.Mode, reason string) Selection {
	s := Selection{Brain: Deep, MaxOutputTokens: 300, Reason: reason}
	if mode == session.ModeDriving {
		s.WordCap = 15
	}
	return s
}

const minAggregationInterval = 2 * time.Second

// modeAggregationInterval is the nominal per-mode cadence for multi-device
// frame aggregation before the 2s floor is applied: fast-moving modes poll
// tighter, passive ones less often.
var modeAggregationInterval = map[session.Mode]time.Duration{
	session.ModeDriving:    1 * time.Second,
	session.ModeSports:     1 * time.Second,
	session.ModeCooking:    2 * time.Second,
	session.ModeAssembly:   2 * time.Second,
	session.ModeMonitoring: 2 * time.Second,
	session.ModeMeeting:    5 * time.Second,
	session.ModeStudying:   5 * time.Second,
	session.ModeMusic:      5 * time.Second,
	session.ModeGeneral:    3 * time.Second,
}

// AggregationInterval returns max(mode-specific interval, 2s), the cadence
// at which a multi-device session submits its per-device latest frame set
// as one background analysis.
func AggregationInterval(mode session.Mode) time.Duration {
	interval, ok := modeAggregationInterval[mode]
	if !ok || interval < minAggregationInterval {
		return minAggregationInterval
	}
	return interval
}

// WordCapWithFrame returns the effective word cap for driving mode when a
// fresh frame was actually injected into the turn (extends 15 -> 25).
func WordCapWithFrame(mode session.Mode, baseCap int, frameInjected bool) int {
	if mode == session.ModeDriving && frameInjected {
		return 25
	}
	return baseCap
}
