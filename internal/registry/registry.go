// Package registry holds the concurrency-safe session table and per-device
// connection fan-out, generalized from the teacher's
// internal/handlers/websocket/connection_manager.go (map + mutex +
// background cleanup shape) and pkg/io/registry/memoryRegistry (per-user
// device map), restructured from a userID-keyed device tree to a
// sessionID+deviceID host/guest model and backed by a Redis join-code
// index instead of an in-memory-only map.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis"

	"github.com/rediai/broker/internal/logging"
	"github.com/rediai/broker/internal/session"
)

// Connection is anything the registry can push a message to: a WebSocket
// socket in the gateway, or a fake in tests.
type Connection interface {
	DeviceID() string
	Send(messageType string, payload any) error
	Close() error
	// CloseWithCode closes the connection with a specific WebSocket close
	// code, used for the protocol-level closes named in the external
	// interface (4001/4002/4003/1008/1011).
	CloseWithCode(code int, reason string)
}

const (
	joinCodeKeyPrefix  = "redi:joincode:"
	joinCodeTTL        = 24 * time.Hour
	hostReconnectGrace = 30 * time.Second
)

// entry tracks one session's state plus its live device connections and
// pending host-reconnect timer.
type entry struct {
	mu          sync.RWMutex
	sess        *session.Session
	conns       map[string]Connection
	reconnectAt *time.Timer
}

// Registry is the concurrency-safe sessionId -> Session mapping plus
// sessionId -> {deviceId -> connection}, per the external fan-out contract.
type Registry struct {
	log   *logging.Logger
	redis *redis.Client

	mu       sync.RWMutex
	sessions map[string]*entry

	// onSessionEnd is invoked (outside any lock) when a session terminates,
	// letting the orchestrator tear down its event loop.
	onSessionEnd func(sessionID string)
}

// New constructs a Registry. redisClient may be nil, in which case
// RegisterJoinCode stores nothing and JoinByCode resolves no code.
func New(redisClient *redis.Client, log *logging.Logger) *Registry {
	return &Registry{
		log:      log,
		redis:    redisClient,
		sessions: make(map[string]*entry),
	}
}

// OnSessionEnd registers the callback fired when a session ends, whether by
// explicit EndSession or by host-reconnect-grace expiry.
func (r *Registry) OnSessionEnd(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSessionEnd = fn
}

// CreateSession registers a brand-new session with its host connection.
func (r *Registry) CreateSession(sess *session.Session, host Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{
		sess:  sess,
		conns: map[string]Connection{host.DeviceID(): host},
	}
	r.sessions[sess.ID] = e
	r.log.Infow("session created", "sessionId", sess.ID, "hostDeviceId", host.DeviceID())
}

// RegisterJoinCode publishes a join code -> session id mapping with a TTL.
// Codes are stored normalized (uppercased, separators stripped).
func (r *Registry) RegisterJoinCode(ctx context.Context, code, sessionID string) error {
	if r.redis == nil {
		return nil
	}
	return r.redis.WithContext(ctx).Set(joinCodeKeyPrefix+normalizeCode(code), sessionID, joinCodeTTL).Err()
}

// JoinByCode resolves a join code to a session id, normalizing case and
// stripping separators before lookup.
func (r *Registry) JoinByCode(ctx context.Context, code string) (string, bool) {
	if r.redis == nil {
		return "", false
	}
	sessionID, err := r.redis.WithContext(ctx).Get(joinCodeKeyPrefix + normalizeCode(code)).Result()
	if err != nil {
		return "", false
	}
	return sessionID, true
}

func normalizeCode(code string) string {
	code = strings.ToUpper(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// Get retrieves a session by id.
func (r *Registry) Get(sessionID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Join attaches a guest device connection to an existing session. If the
// device id matches the session's host and a reconnect timer is pending, it
// is cancelled and the host is considered returned.
func (r *Registry) Join(sessionID string, conn Connection) (*session.Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: no such session %s", sessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	deviceID := conn.DeviceID()
	if e.sess.IsHost(deviceID) && e.reconnectAt != nil {
		e.reconnectAt.Stop()
		e.reconnectAt = nil
		r.log.Infow("host reconnected before grace expiry", "sessionId", sessionID, "deviceId", deviceID)
	}

	e.conns[deviceID] = conn
	e.sess.AddParticipant(deviceID)
	return e.sess, nil
}

// Leave detaches a device connection. If the leaving device is the host, a
// 30-second reconnect grace timer starts; if it elapses without the host
// returning, the session ends.
func (r *Registry) Leave(sessionID, deviceID string) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	delete(e.conns, deviceID)
	isHost := e.sess.IsHost(deviceID)
	e.sess.RemoveParticipant(deviceID)

	if isHost {
		e.reconnectAt = time.AfterFunc(hostReconnectGrace, func() {
			r.expireHostGrace(sessionID, deviceID)
		})
	}
	shouldEndNow := e.sess.ParticipantCount() == 0 && !isHost
	e.mu.Unlock()

	if shouldEndNow {
		r.EndSession(sessionID)
	}
}

func (r *Registry) expireHostGrace(sessionID, deviceID string) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	stillGone := e.sess.IsHost(deviceID)
	for id := range e.conns {
		if id == deviceID {
			stillGone = false
		}
	}
	e.mu.Unlock()

	if stillGone {
		r.log.Infow("host reconnect grace expired", "sessionId", sessionID)
		r.EndSession(sessionID)
	}
}

// EndSession terminates a session, closes every device connection with an
// ordinary close, and removes it from the registry. A second call on an
// already-ended session is a no-op.
func (r *Registry) EndSession(sessionID string) {
	r.endSession(sessionID, func(c Connection) { _ = c.Close() })
}

// EndSessionWithCode terminates a session exactly as EndSession does, but
// closes each device connection with the given WebSocket close code instead
// of a generic close, so a client can tell a documented condition like 4003
// (no credits) or 1011 (provider setup failure) apart from an ordinary
// disconnect.
func (r *Registry) EndSessionWithCode(sessionID string, code int, reason string) {
	r.endSession(sessionID, func(c Connection) { c.CloseWithCode(code, reason) })
}

func (r *Registry) endSession(sessionID string, closeConn func(Connection)) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	onEnd := r.onSessionEnd
	r.mu.Unlock()
	if !ok {
		return
	}

	if !e.sess.Terminate() {
		return
	}

	e.mu.Lock()
	if e.reconnectAt != nil {
		e.reconnectAt.Stop()
	}
	conns := make([]Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	r.Broadcast(sessionID, "session_end", nil, "")
	for _, c := range conns {
		closeConn(c)
	}

	if onEnd != nil {
		onEnd(sessionID)
	}
}

// Broadcast sends a JSON control message to every connected device except
// excludeDevice (pass "" to exclude none).
func (r *Registry) Broadcast(sessionID, messageType string, payload any, excludeDevice string) {
	conns := r.connectionsFor(sessionID)
	for _, c := range conns {
		if c.DeviceID() == excludeDevice {
			continue
		}
		if err := c.Send(messageType, payload); err != nil {
			r.log.Warnw("broadcast send failed", "sessionId", sessionID, "deviceId", c.DeviceID(), "err", err)
		}
	}
}

// BroadcastAudio sends an audio payload honoring the session's
// audioOutputMode: host_only delivers only to the host connection;
// all_devices delivers to every open socket.
func (r *Registry) BroadcastAudio(sessionID, messageType string, payload any) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.RLock()
	mode := e.sess.AudioOutputMode
	hostID := e.sess.HostDeviceID
	conns := make([]Connection, 0, len(e.conns))
	for id, c := range e.conns {
		if mode == session.AudioOutputHostOnly && id != hostID {
			continue
		}
		conns = append(conns, c)
	}
	e.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(messageType, payload); err != nil {
			r.log.Warnw("audio broadcast send failed", "sessionId", sessionID, "deviceId", c.DeviceID(), "err", err)
		}
	}
}

func (r *Registry) connectionsFor(sessionID string) []Connection {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

// SessionCount returns the number of live sessions, for health/stats
// endpoints.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DeviceCount returns the number of connected devices across a session, or
// 0 if the session does not exist.
func (r *Registry) DeviceCount(sessionID string) int {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}
