package brain

import (
	"testing"
	"time"

	"github.com/rediai/broker/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestSelect(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want Brain
	}{
		{"deep trigger wins over mode", Input{Transcript: "why is the sky blue", Mode: session.ModeDriving}, Deep},
		{"driving mode prefers fast", Input{Transcript: "what's the weather", Mode: session.ModeDriving}, Fast},
		{"studying mode prefers deep", Input{Transcript: "hello", Mode: session.ModeStudying}, Deep},
		{"visual question with fresh frame goes deep", Input{Transcript: "what do you see right now", Mode: session.ModeGeneral, HasFreshFrame: true}, Deep},
		{"visual question without fresh frame stays fast", Input{Transcript: "what do you see right now", Mode: session.ModeGeneral, HasFreshFrame: false}, Fast},
		{"default is fast", Input{Transcript: "hi there", Mode: session.ModeGeneral}, Fast},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Select(tc.in)
			assert.Equal(t, tc.want, got.Brain)
		})
	}
}

func TestSelect_TokenBudgets(t *testing.T) {
	fast := Select(Input{Transcript: "hi", Mode: session.ModeGeneral})
	assert.Equal(t, 150, fast.MaxOutputTokens)

	deep := Select(Input{Transcript: "please explain this", Mode: session.ModeGeneral})
	assert.Equal(t, 300, deep.MaxOutputTokens)
}

func TestSelect_DrivingWordCap(t *testing.T) {
	sel := Select(Input{Transcript: "turn the radio on", Mode: session.ModeDriving})
	assert.Equal(t, 15, sel.WordCap)
}

func TestWordCapWithFrame(t *testing.T) {
	assert.Equal(t, 25, WordCapWithFrame(session.ModeDriving, 15, true))
	assert.Equal(t, 15, WordCapWithFrame(session.ModeDriving, 15, false))
	assert.Equal(t, 50, WordCapWithFrame(session.ModeGeneral, 50, true))
}

func TestAggregationInterval_FloorsAtTwoSeconds(t *testing.T) {
	assert.Equal(t, 1*time.Second, modeAggregationInterval[session.ModeDriving])
	assert.Equal(t, 2*time.Second, AggregationInterval(session.ModeDriving), "driving's 1s nominal interval is floored to 2s")
	assert.Equal(t, 5*time.Second, AggregationInterval(session.ModeMeeting))
}

func TestAggregationInterval_UnknownModeFallsBackToFloor(t *testing.T) {
	assert.Equal(t, 2*time.Second, AggregationInterval(session.Mode("unrecognized")))
}
