// Package decision implements the per-session mutable conversation state
// (§4.4) and the pure should-speak policy (§4.5) layered over it.
package decision

import (
	"sync"
	"time"
)

// TranscriptEntry is one final transcript chunk appended to the rolling
// buffer, tagged with the monotone sequence counter it was appended under.
type TranscriptEntry struct {
	Seq  uint64
	Text string
	At   time.Time
}

// Context is the per-session decision state of §4.4. It is touched only by
// its owning session task, per the concurrency model's shared-resource
// policy, so its mutex exists for defensive correctness rather than
// expected contention.
type Context struct {
	mu sync.Mutex

	transcriptRingSize int
	transcripts        []TranscriptEntry
	seqCounter         uint64

	lastSpokenAt          time.Time
	lastSpokenTranscriptN uint64
	lastSpokenVisualCtx   string

	speakingLocked bool
	speakingStart  time.Time

	pendingInsightText       string
	pendingInsightConfidence float64
	hasPendingInsight        bool

	recentResponseRingSize int
	recentResponses        []string

	isSpeaking bool

	userInterrupted   bool
	interruptedAt     time.Time

	visualContext   string
	visualContextAt time.Time
}

// NewContext creates a Context bounded by the given ring sizes.
func NewContext(transcriptRingSize, recentResponseRingSize int) *Context {
	if transcriptRingSize <= 0 {
		transcriptRingSize = 20
	}
	if recentResponseRingSize <= 0 {
		recentResponseRingSize = 5
	}
	return &Context{
		transcriptRingSize:     transcriptRingSize,
		recentResponseRingSize: recentResponseRingSize,
	}
}

// AppendTranscript appends a new final transcript chunk with a monotone
// counter, evicting the oldest entry if the ring is full.
func (c *Context) AppendTranscript(text string) TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seqCounter++
	entry := TranscriptEntry{Seq: c.seqCounter, Text: text, At: time.Now()}
	if len(c.transcripts) >= c.transcriptRingSize {
		c.transcripts = c.transcripts[1:]
	}
	c.transcripts = append(c.transcripts, entry)
	return entry
}

// LatestTranscript returns the most recently appended transcript, if any.
func (c *Context) LatestTranscript() (TranscriptEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transcripts) == 0 {
		return TranscriptEntry{}, false
	}
	return c.transcripts[len(c.transcripts)-1], true
}

// TranscriptCount returns the monotone counter's current value.
func (c *Context) TranscriptCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqCounter
}

// UpdateVisualContext stamps a new visual-context snapshot with the current
// time, used for staleness/material-change detection.
func (c *Context) UpdateVisualContext(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visualContext = text
	c.visualContextAt = time.Now()
}

// IsContextFresh is true iff the latest transcript or the visual context
// was updated within the last 2 seconds. Used to gate unprompted responses;
// prompted responses bypass this check entirely.
func (c *Context) IsContextFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if len(c.transcripts) > 0 && now.Sub(c.transcripts[len(c.transcripts)-1].At) <= 2*time.Second {
		return true
	}
	return !c.visualContextAt.IsZero() && now.Sub(c.visualContextAt) <= 2*time.Second
}

// RecentResponses returns a copy of the last spoken responses, most recent
// last, for the dedup guard to compare the newest candidate against.
func (c *Context) RecentResponses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.recentResponses))
	copy(out, c.recentResponses)
	return out
}

// MarkSpeakingStart acquires the speaking lock. Returns false if it was
// already held, per the invariant that the lock being held blocks a second
// response from being initiated.
func (c *Context) MarkSpeakingStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speakingLocked {
		return false
	}
	c.speakingLocked = true
	c.speakingStart = time.Now()
	c.isSpeaking = true
	return true
}

// MarkSpoke releases the speaking lock, records the last-spoken markers
// atomically, and appends the assistant text to the dedup ring.
func (c *Context) MarkSpoke(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakingLocked = false
	c.isSpeaking = false
	c.lastSpokenAt = time.Now()
	c.lastSpokenTranscriptN = c.seqCounter
	c.lastSpokenVisualCtx = c.visualContext
	c.hasPendingInsight = false

	if len(c.recentResponses) >= c.recentResponseRingSize {
		c.recentResponses = c.recentResponses[1:]
	}
	c.recentResponses = append(c.recentResponses, text)
}

// AbandonSpeaking releases the speaking lock without recording a
// last-spoken marker — used when a response is cancelled or dropped before
// producing output.
func (c *Context) AbandonSpeaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakingLocked = false
	c.isSpeaking = false
}

// OnUserInterruption records that the user began speaking again, with a
// timestamp used by ShouldIgnoreResponse.
func (c *Context) OnUserInterruption() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userInterrupted = true
	c.interruptedAt = time.Now()
}

// ShouldIgnoreResponse is true when an interruption was recorded after the
// current speaking-lock acquisition began — any response still in flight
// must be discarded before TTS.
func (c *Context) ShouldIgnoreResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userInterrupted && c.interruptedAt.After(c.speakingStart)
}

// ClearInterruption resets the interrupt marker once it has been handled.
func (c *Context) ClearInterruption() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userInterrupted = false
}

// SetPendingInsight records a candidate unprompted observation with its
// confidence, to be considered by the decision engine.
func (c *Context) SetPendingInsight(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingInsightText = text
	c.pendingInsightConfidence = confidence
	c.hasPendingInsight = true
}

// PendingInsight returns the current pending insight, if any.
func (c *Context) PendingInsight() (text string, confidence float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingInsightText, c.pendingInsightConfidence, c.hasPendingInsight
}

// IsSpeaking reports whether a response is currently being spoken.
func (c *Context) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSpeaking
}

// Snapshot captures the fields the decision engine's ShouldSpeak needs, read
// under one critical section so the policy evaluates a consistent view.
type Snapshot struct {
	IsSpeaking               bool
	HasNewTranscriptsSinceSpoke bool
	VisualContextChanged     bool
	LastSpokenAt             time.Time
	HasPendingInsight        bool
	LatestIsQuestion         bool
}

// snapshotLocked builds a Snapshot for the decision engine; the caller
// holds c.mu.
func (c *Context) snapshotLocked(isQuestion func(string) bool) Snapshot {
	var latestText string
	var latestIsQuestion bool
	if len(c.transcripts) > 0 {
		latestText = c.transcripts[len(c.transcripts)-1].Text
		latestIsQuestion = isQuestion(latestText)
	}
	return Snapshot{
		IsSpeaking:                   c.isSpeaking,
		HasNewTranscriptsSinceSpoke:  c.seqCounter > c.lastSpokenTranscriptN,
		VisualContextChanged:         c.visualContext != c.lastSpokenVisualCtx,
		LastSpokenAt:                 c.lastSpokenAt,
		HasPendingInsight:            c.hasPendingInsight,
		LatestIsQuestion:             latestIsQuestion,
	}
}

// BuildSnapshot takes the lock and returns a consistent Snapshot.
func (c *Context) BuildSnapshot(isQuestion func(string) bool) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(isQuestion)
}
