// Package tts defines the streaming text-to-speech provider contract,
// grounded on MrWong99-glyphoxa's pkg/provider/tts, trimmed to what the
// broker actually exercises (no clone-voice path — out of scope here).
package tts

import "context"

// VoiceProfile identifies a synthesis voice.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string
}

// Provider streams synthesized audio for a channel of text fragments.
type Provider interface {
	// SynthesizeStream pipes text fragments from the text channel and
	// returns a channel of raw audio chunks (PCM), closed when synthesis
	// completes or ctx is cancelled.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)
}
