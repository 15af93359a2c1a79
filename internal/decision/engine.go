package decision

import (
	"regexp"
	"time"
)

var wakeWordPattern = regexp.MustCompile(`(?i)\b(hey|ok|okay)?\s*redi\b`)

var visualQuestionPattern = regexp.MustCompile(`(?i)\b(what do you see|look at|describe|what is this)\b`)

// IsQuestion implements the question-detection rule of §4.5: the final
// transcript ends in '?' or contains the wake-word pattern.
func IsQuestion(transcript string) bool {
	trimmed := trimRight(transcript)
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '?' {
		return true
	}
	return wakeWordPattern.MatchString(transcript)
}

// IsVisualQuestion implements the visual-question detection rule of §4.5,
// selecting the freshest-frame reasoning path.
func IsVisualQuestion(transcript string) bool {
	return visualQuestionPattern.MatchString(transcript)
}

func trimRight(s string) string {
	i := len(s)
	for i > 0 && isSpace(s[i-1]) {
		i--
	}
	return s[:i]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// MinimumInterResponseGap implements §4.5's sensitivity-scaled floor:
// high sensitivity -> ~3s floor, low sensitivity -> 30s floor.
func MinimumInterResponseGap(sensitivity float64) time.Duration {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	ms := 30000.0 - sensitivity*27000.0
	return time.Duration(ms) * time.Millisecond
}

// ShouldSpeak implements the core should-speak policy of §4.5.
//
// Returns true only when: not currently speaking AND (the latest transcript
// is a direct question OR (a pending insight exists AND silence exceeds the
// sensitivity-scaled gap AND context changed materially since last spoke)).
//
// The "prompted" question path bypasses every freshness/gap gate — an
// invariant the spec calls out explicitly in §8.
func ShouldSpeak(snap Snapshot, sensitivity float64, silenceSince time.Duration) (speak bool, prompted bool) {
	if snap.IsSpeaking {
		return false, false
	}

	if snap.LatestIsQuestion {
		return true, true
	}

	if !snap.HasPendingInsight {
		return false, false
	}

	materialChange := snap.HasNewTranscriptsSinceSpoke || snap.VisualContextChanged
	if !materialChange {
		return false, false
	}

	gap := MinimumInterResponseGap(sensitivity)
	if silenceSince < gap {
		return false, false
	}

	return true, false
}
