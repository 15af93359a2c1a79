// Package session holds the Session data model shared by the registry,
// orchestrator, and gateway.
package session

import (
	"sync"
	"time"
)

// Mode is the coarse domain profile that tunes prompts, guards, and routing.
type Mode string

const (
	ModeGeneral    Mode = "general"
	ModeCooking    Mode = "cooking"
	ModeStudying   Mode = "studying"
	ModeMeeting    Mode = "meeting"
	ModeSports     Mode = "sports"
	ModeMusic      Mode = "music"
	ModeAssembly   Mode = "assembly"
	ModeMonitoring Mode = "monitoring"
	ModeDriving    Mode = "driving"
)

// ValidMode reports whether m is one of the enumerated modes.
func ValidMode(m Mode) bool {
	switch m {
	case ModeGeneral, ModeCooking, ModeStudying, ModeMeeting, ModeSports,
		ModeMusic, ModeAssembly, ModeMonitoring, ModeDriving:
		return true
	}
	return false
}

// AudioOutputMode controls which connected devices receive TTS audio.
type AudioOutputMode string

const (
	AudioOutputHostOnly   AudioOutputMode = "host_only"
	AudioOutputAllDevices AudioOutputMode = "all_devices"
)

// Session is one bounded-duration conversation with one host and zero or
// more guest devices. All mutation goes through the methods below, which
// take the internal mutex, so a Session may be shared across the
// registry's broadcast path and the owning orchestrator goroutine.
type Session struct {
	mu sync.Mutex

	ID              string
	CreatedAt       time.Time
	Mode            Mode
	sensitivity     float64
	VoiceSelector   string
	DurationBudget  time.Duration
	HostDeviceID    string
	Participants    map[string]struct{}
	AudioOutputMode AudioOutputMode
	UserID          string
	MemoryContext   string

	terminated bool
}

// New creates a Session with sensitivity clamped to [0,1] and exactly the
// host device as its sole participant.
func New(id, hostDeviceID string, mode Mode, sensitivity float64, durationBudget time.Duration) *Session {
	return &Session{
		ID:              id,
		CreatedAt:       time.Now(),
		Mode:            mode,
		sensitivity:     clamp01(sensitivity),
		DurationBudget:  durationBudget,
		HostDeviceID:    hostDeviceID,
		Participants:    map[string]struct{}{hostDeviceID: {}},
		AudioOutputMode: AudioOutputHostOnly,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sensitivity returns the current sensitivity, always within [0,1].
func (s *Session) Sensitivity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensitivity
}

// SetSensitivity clamps and stores a new sensitivity value.
func (s *Session) SetSensitivity(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensitivity = clamp01(v)
}

// SetMode updates the session's domain profile. Invalid modes are ignored.
func (s *Session) SetMode(m Mode) bool {
	if !ValidMode(m) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mode = m
	return true
}

// SetAudioOutputMode updates audio fan-out routing. Callers must verify the
// caller is the host before invoking this — the session itself does not
// track per-device roles beyond HostDeviceID.
func (s *Session) SetAudioOutputMode(m AudioOutputMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioOutputMode = m
}

// AddParticipant registers a guest device id.
func (s *Session) AddParticipant(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Participants[deviceID] = struct{}{}
}

// RemoveParticipant drops a device id from the participant set.
func (s *Session) RemoveParticipant(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Participants, deviceID)
}

// ParticipantCount returns the number of connected devices, host included.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Participants)
}

// IsHost reports whether deviceID is this session's host.
func (s *Session) IsHost(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deviceID == s.HostDeviceID
}

// ReassignHost replaces the session's host device id. The registry does not
// call it: a host that reconnects keeps its original device id.
func (s *Session) ReassignHost(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HostDeviceID = deviceID
}

// Terminate marks the session ended. A second call is a no-op and reports
// false so callers can distinguish "I ended it" from "already ended".
func (s *Session) Terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false
	}
	s.terminated = true
	return true
}

// Terminated reports whether Terminate has already run.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}
