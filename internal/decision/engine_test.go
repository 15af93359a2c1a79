package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsQuestion(t *testing.T) {
	assert.True(t, IsQuestion("what time is it?"))
	assert.True(t, IsQuestion("hey redi turn on the lights"))
	assert.True(t, IsQuestion("redi what's up"))
	assert.False(t, IsQuestion("it is raining outside"))
}

func TestIsVisualQuestion(t *testing.T) {
	assert.True(t, IsVisualQuestion("what do you see right now"))
	assert.True(t, IsVisualQuestion("can you describe this"))
	assert.False(t, IsVisualQuestion("what time is it"))
}

func TestMinimumInterResponseGap_Boundaries(t *testing.T) {
	assert.Equal(t, 30000*time.Millisecond, MinimumInterResponseGap(0))
	assert.Equal(t, 3000*time.Millisecond, MinimumInterResponseGap(1))
}

func TestShouldSpeak_PromptedBypassesGates(t *testing.T) {
	snap := Snapshot{LatestIsQuestion: true}
	speak, prompted := ShouldSpeak(snap, 0, 0)
	assert.True(t, speak)
	assert.True(t, prompted)
}

func TestShouldSpeak_NoInsightNoSpeak(t *testing.T) {
	snap := Snapshot{}
	speak, _ := ShouldSpeak(snap, 1, time.Hour)
	assert.False(t, speak)
}

func TestShouldSpeak_InsightGatedByGap(t *testing.T) {
	snap := Snapshot{HasPendingInsight: true, HasNewTranscriptsSinceSpoke: true}
	speak, prompted := ShouldSpeak(snap, 1, 2999*time.Millisecond)
	assert.False(t, speak)

	speak, prompted = ShouldSpeak(snap, 1, 3000*time.Millisecond)
	assert.True(t, speak)
	assert.False(t, prompted)
}

func TestShouldSpeak_RequiresMaterialChange(t *testing.T) {
	snap := Snapshot{HasPendingInsight: true}
	speak, _ := ShouldSpeak(snap, 1, time.Hour)
	assert.False(t, speak, "no material change means no unprompted speech")
}

func TestShouldSpeak_AlreadySpeakingBlocks(t *testing.T) {
	snap := Snapshot{IsSpeaking: true, LatestIsQuestion: true}
	speak, _ := ShouldSpeak(snap, 1, time.Hour)
	assert.False(t, speak)
}

func TestContext_SpeakingLock(t *testing.T) {
	c := NewContext(20, 5)
	assert.True(t, c.MarkSpeakingStart())
	assert.False(t, c.MarkSpeakingStart(), "second acquisition must fail while held")
	c.MarkSpoke("hello there")
	assert.True(t, c.MarkSpeakingStart(), "lock is free again after MarkSpoke")
}

func TestContext_ShouldIgnoreResponseAfterInterruption(t *testing.T) {
	c := NewContext(20, 5)
	c.MarkSpeakingStart()
	c.OnUserInterruption()
	assert.True(t, c.ShouldIgnoreResponse())
}

func TestContext_TranscriptRingEviction(t *testing.T) {
	c := NewContext(2, 5)
	c.AppendTranscript("one")
	c.AppendTranscript("two")
	c.AppendTranscript("three")
	latest, ok := c.LatestTranscript()
	assert.True(t, ok)
	assert.Equal(t, "three", latest.Text)
	assert.Len(t, c.transcripts, 2)
	assert.Equal(t, "two", c.transcripts[0].Text)
}

func TestContext_RecentResponsesRingEvictsOldest(t *testing.T) {
	c := NewContext(20, 2)
	assert.Empty(t, c.RecentResponses())

	c.MarkSpeakingStart()
	c.MarkSpoke("first")
	c.MarkSpeakingStart()
	c.MarkSpoke("second")
	c.MarkSpeakingStart()
	c.MarkSpoke("third")

	assert.Equal(t, []string{"second", "third"}, c.RecentResponses())
}

func TestContext_RecentResponsesReturnsACopy(t *testing.T) {
	c := NewContext(20, 5)
	c.MarkSpeakingStart()
	c.MarkSpoke("hello")

	out := c.RecentResponses()
	out[0] = "mutated"

	assert.Equal(t, []string{"hello"}, c.RecentResponses())
}

func TestContext_IsContextFreshWindow(t *testing.T) {
	c := NewContext(20, 5)
	assert.False(t, c.IsContextFresh(), "no transcript or visual context yet")

	c.AppendTranscript("hello")
	assert.True(t, c.IsContextFresh())
}
