// Package guards implements the pre-TTS response filter of component
// design §4.9: an ordered set of checks run on the assistant transcript
// before it is forwarded to the client or spoken.
package guards

import (
	"regexp"
	"strings"
	"time"

	"github.com/rediai/broker/internal/session"
)

// Verdict is the outcome of running the guard chain over one candidate
// response.
type Verdict struct {
	Pass   bool
	Reason string // empty when Pass; one of the BlockReason* constants otherwise
}

const (
	BlockVisionHallucination   = "vision_hallucination_block"
	BlockDrivingNavigation     = "driving_navigation_hallucination"
	BlockBannedPhrase          = "banned_phrase"
	BlockLengthCap             = "length_cap"
	BlockRateFloor             = "rate_floor"
	BlockSemanticDuplication   = "semantic_duplication"
)

var visionClaimPatterns = []string{
	"i see", "looks like", "there's a", "there is a", "in the image",
}

var drivingNavigationPatterns = regexp.MustCompile(`(?i)(turn (left|right) (at|in|on)|in \d+\s*(feet|meters|miles)|recalculating|eta is|speed limit (is|of))`)

var bannedPhrases = []string{
	"happy to help", "let me know if", "great question", "i can see that you",
}

// Check bundles everything the guard chain needs about one candidate turn.
type Check struct {
	Text           string
	Mode           session.Mode
	FrameInjected  bool
	LastResponseAt time.Time
	Now            time.Time
	RecentResponses []string // bounded ring, most recent last
	WordCap        int       // 0 = use mode default (50 standard)
}

const rateFloor = 1000 * time.Millisecond
const jaccardBlockThreshold = 0.7

// Run executes the ordered checks of §4.9 and returns the first failure, or
// a passing Verdict if none fire.
func Run(c Check) Verdict {
	lower := strings.ToLower(c.Text)

	if !c.FrameInjected {
		for _, p := range visionClaimPatterns {
			if strings.Contains(lower, p) {
				return Verdict{Pass: false, Reason: BlockVisionHallucination}
			}
		}
	}

	if c.Mode == session.ModeDriving && drivingNavigationPatterns.MatchString(c.Text) {
		return Verdict{Pass: false, Reason: BlockDrivingNavigation}
	}

	for _, p := range bannedPhrases {
		if strings.Contains(lower, p) {
			return Verdict{Pass: false, Reason: BlockBannedPhrase}
		}
	}

	cap := effectiveWordCap(c)
	if wordCount(c.Text) > cap {
		return Verdict{Pass: false, Reason: BlockLengthCap}
	}

	if !c.LastResponseAt.IsZero() && c.Now.Sub(c.LastResponseAt) < rateFloor {
		return Verdict{Pass: false, Reason: BlockRateFloor}
	}

	for _, prev := range c.RecentResponses {
		if jaccardSimilarity(c.Text, prev) >= jaccardBlockThreshold {
			return Verdict{Pass: false, Reason: BlockSemanticDuplication}
		}
	}

	return Verdict{Pass: true}
}

func effectiveWordCap(c Check) int {
	if c.Mode == session.ModeDriving {
		if c.FrameInjected {
			return 25
		}
		return 15
	}
	if c.WordCap > 0 {
		return c.WordCap
	}
	if c.FrameInjected {
		return 100
	}
	return 50
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// jaccardSimilarity computes the Jaccard index over the whitespace-tokenized
// word sets of a and b.
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// PreFilterWarnings flags potentially harmful user-input phrasings without
// blocking ingest, per §4.9's final sentence.
func PreFilterWarnings(userTranscript string) []string {
	var warnings []string
	lower := strings.ToLower(userTranscript)
	if strings.Contains(lower, "ignore previous instructions") || strings.Contains(lower, "ignore all previous") {
		warnings = append(warnings, "possible_prompt_injection")
	}
	return warnings
}
