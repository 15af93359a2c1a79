// Package gateway hosts the WebSocket upgrade surface: the canonical
// /ws/redi conversation socket and the /ws/screen screen-share signaling
// plane. Adapted from the teacher's internal/handlers/websocket/handler.go
// (gin route grouping, gorilla upgrader, query-param session resolution)
// and types.go (message type enum), retargeted from the teacher's
// init/text/audio/listening_control message set onto the external wire
// contract.
package gateway

import "time"

// Inbound client -> server message type tags.
const (
	InAudio                  = "audio"
	InFrame                  = "frame"
	InPerception             = "perception"
	InUserSpeaking           = "user_speaking"
	InUserStopped            = "user_stopped"
	InMode                   = "mode"
	InModeChange             = "mode_change"
	InSensitivity            = "sensitivity"
	InAudioOutputModeChanged = "audio_output_mode_changed"
	InPing                   = "ping"
	InSessionEnd             = "session_end"
	InBargeIn                = "barge_in"
)

// Outbound server -> client message type tags.
const (
	OutSessionReady       = "session_ready"
	OutSessionStart       = "session_start"
	OutTranscript         = "transcript"
	OutAIResponse         = "ai_response"
	OutResponse           = "response"
	OutVoiceAudio         = "voice_audio"
	OutAudio              = "audio"
	OutMuteMic            = "mute_mic"
	OutStopAudio          = "stop_audio"
	OutRequestFrame       = "request_frame"
	OutVisualAnalysis     = "visual_analysis"
	OutParticipantJoined  = "participant_joined"
	OutParticipantLeft    = "participant_left"
	OutTTSFallback        = "tts_fallback"
	OutCreditsUpdate      = "credits_update"
	OutError              = "error"
	OutSessionEnd         = "session_end"
	OutPong               = "pong"
)

// envelope is the JSON shape of every message crossing the socket in either
// direction, mirroring the teacher's WSMessage.
type envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// audioPayload is the {data: base64} shape for the audio/frame messages.
type audioPayload struct {
	Data string `json:"data"`
}

// modePayload carries a mode/mode_change message body.
type modePayload struct {
	Mode string `json:"mode"`
}

// sensitivityPayload carries a sensitivity message body.
type sensitivityPayload struct {
	Value float64 `json:"value"`
}

// audioOutputModePayload carries an audio_output_mode_changed body.
type audioOutputModePayload struct {
	Mode string `json:"mode"`
}

// errorPayload is the body of an outbound error message.
type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ActionHint string `json:"actionHint,omitempty"`
}
