// Package stt defines the streaming speech-to-text provider contract. The
// interface shape is grounded on MrWong99-glyphoxa's pkg/provider/stt,
// trimmed to what the broker's orchestrator actually drives.
package stt

import (
	"context"
	"time"
)

// WordDetail is one recognized word with timing and confidence.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Transcript is one interim or final recognition result.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []WordDetail
}

// KeywordBoost biases recognition toward a domain-specific term.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// StreamConfig configures a single streaming session.
type StreamConfig struct {
	Language   string
	SampleRate int
	Channels   int
	Keywords   []KeywordBoost
}

// SessionHandle is a live streaming STT session.
type SessionHandle interface {
	SendAudio(chunk []byte) error
	Partials() <-chan Transcript
	Finals() <-chan Transcript
	SetKeywords(keywords []KeywordBoost) error
	Close() error
}

// Provider opens streaming STT sessions against one backend.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
