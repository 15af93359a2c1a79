package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rediai/broker/internal/auth"
	"github.com/rediai/broker/internal/logging"
	"github.com/rediai/broker/internal/registry"
	"github.com/rediai/broker/internal/session"
)

// Close codes named explicitly by the external interface.
const (
	CloseMissingDeviceID  = 4001
	CloseInvalidSession   = 4002
	CloseNoCredits        = 4003
	CloseSessionIDMissing = 1008
	CloseProviderSetup    = 1011
)

// Orchestrator is the session event loop's ingress surface. The gateway
// hands every decoded client message to it and never interprets audio,
// transcripts, or brain output itself.
type Orchestrator interface {
	StartSession(ctx context.Context, sess *session.Session)
	HandleAudio(sessionID, deviceID string, chunk []byte)
	HandleFrame(sessionID, deviceID string, jpeg []byte, captureTs time.Time)
	HandlePerception(sessionID, deviceID string, packet map[string]any)
	HandleUserSpeaking(sessionID, deviceID string, speaking bool)
	HandleModeChange(sessionID string, mode session.Mode)
	HandleSensitivity(sessionID string, value float64)
	HandleAudioOutputModeChange(sessionID, deviceID string, mode session.AudioOutputMode)
	HandleBargeIn(sessionID, deviceID string)
	HandleSessionEnd(sessionID, deviceID string)
}

// Gateway hosts the /ws/redi conversation socket and the /ws/screen
// signaling plane off a shared gin router.
type Gateway struct {
	log          *logging.Logger
	registry     *registry.Registry
	orchestrator Orchestrator
	validator    *auth.Validator
	authRequired bool
	upgrader     websocket.Upgrader
	screen       *screenSignaling
}

// New constructs a Gateway. validator may be nil when no token validation
// is configured.
func New(reg *registry.Registry, orch Orchestrator, validator *auth.Validator, authRequired bool, log *logging.Logger) *Gateway {
	return &Gateway{
		log:          log,
		registry:     reg,
		orchestrator: orch,
		validator:    validator,
		authRequired: authRequired,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		screen: newScreenSignaling(log),
	}
}

// RegisterRoutes wires the canonical conversation socket and the secondary
// screen-share plane, plus a lightweight stats endpoint.
func (g *Gateway) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/redi", g.handleRedi)
	router.GET("/ws/screen", g.handleScreen)
	router.GET("/ws/stats", g.handleStats)
}

func (g *Gateway) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"activeSessions": g.registry.SessionCount(),
	})
}

func (g *Gateway) handleRedi(c *gin.Context) {
	deviceID := c.Query("deviceId")
	sessionID := c.Query("sessionId")
	joinCode := c.Query("joinCode")
	token := c.Query("token")

	if deviceID == "" {
		closeBeforeUpgrade(c, CloseMissingDeviceID, "deviceId is required")
		return
	}

	if token != "" && g.validator != nil {
		if _, err := g.validator.Validate(token); err != nil {
			closeBeforeUpgrade(c, CloseInvalidSession, "invalid token")
			return
		}
	} else if g.authRequired {
		closeBeforeUpgrade(c, CloseInvalidSession, "token is required")
		return
	}

	sess, isNewHost, closeCode, closeReason := g.resolveSession(c.Request.Context(), sessionID, joinCode, deviceID)
	if closeCode != 0 {
		closeBeforeUpgrade(c, closeCode, closeReason)
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	wc := newWSConn(conn, deviceID)

	if isNewHost {
		g.registry.CreateSession(sess, wc)
		g.orchestrator.StartSession(context.Background(), sess)
	} else {
		if _, joinErr := g.registry.Join(sess.ID, wc); joinErr != nil {
			wc.closeWithCode(CloseInvalidSession, "failed to join session")
			return
		}
		g.registry.Broadcast(sess.ID, OutParticipantJoined, map[string]string{"deviceId": deviceID}, deviceID)
	}

	_ = wc.Send(OutSessionReady, map[string]any{
		"sessionId": sess.ID,
		"mode":      string(sess.Mode),
		"isHost":    sess.IsHost(deviceID),
	})

	g.readLoop(sess, wc)
}

// resolveSession implements §4.1's create-on-first-connect / join-by-code
// resolution. A non-zero closeCode means the caller must refuse the
// upgrade.
func (g *Gateway) resolveSession(ctx context.Context, sessionID, joinCode, deviceID string) (*session.Session, bool, int, string) {
	switch {
	case sessionID != "":
		sess, ok := g.registry.Get(sessionID)
		if !ok {
			return nil, false, CloseInvalidSession, "session not found or expired"
		}
		return sess, false, 0, ""

	case joinCode != "":
		resolvedID, ok := g.registry.JoinByCode(ctx, joinCode)
		if !ok {
			return nil, false, CloseInvalidSession, "join code not found or expired"
		}
		sess, ok := g.registry.Get(resolvedID)
		if !ok {
			return nil, false, CloseInvalidSession, "session not found or expired"
		}
		return sess, false, 0, ""

	default:
		sess := session.New(uuid.NewString(), deviceID, session.ModeGeneral, 0.5, 0)
		return sess, true, 0, ""
	}
}

func (g *Gateway) readLoop(sess *session.Session, wc *wsConn) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorw("panic recovered in gateway read loop", "sessionId", sess.ID, "deviceId", wc.deviceID, "panic", r)
		}
		g.registry.Leave(sess.ID, wc.deviceID)
		g.registry.Broadcast(sess.ID, OutParticipantLeft, map[string]string{"deviceId": wc.deviceID}, "")
		_ = wc.Close()
	}()

	for {
		messageType, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.log.Warnw("websocket read error", "sessionId", sess.ID, "deviceId", wc.deviceID, "err", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			g.orchestrator.HandleAudio(sess.ID, wc.deviceID, data)
		case websocket.TextMessage:
			g.dispatch(sess, wc, data)
		}
	}
}

func (g *Gateway) dispatch(sess *session.Session, wc *wsConn, raw []byte) {
	env, data, err := decodeEnvelope(raw)
	if err != nil {
		_ = wc.Send(OutError, errorPayload{Code: "invalid_message", Message: "could not parse message"})
		return
	}

	switch env.Type {
	case InPing:
		_ = wc.Send(OutPong, nil)

	case InAudio:
		if b64, ok := data["data"].(string); ok {
			if chunk, decErr := base64.StdEncoding.DecodeString(b64); decErr == nil {
				g.orchestrator.HandleAudio(sess.ID, wc.deviceID, chunk)
			}
		}

	case InFrame:
		if b64, ok := data["data"].(string); ok {
			if jpeg, decErr := base64.StdEncoding.DecodeString(b64); decErr == nil {
				g.orchestrator.HandleFrame(sess.ID, wc.deviceID, jpeg, time.Now())
			}
		}

	case InPerception:
		g.orchestrator.HandlePerception(sess.ID, wc.deviceID, data)

	case InUserSpeaking:
		g.orchestrator.HandleUserSpeaking(sess.ID, wc.deviceID, true)

	case InUserStopped:
		g.orchestrator.HandleUserSpeaking(sess.ID, wc.deviceID, false)

	case InMode, InModeChange:
		if m, ok := data["mode"].(string); ok {
			mode := session.Mode(m)
			if session.ValidMode(mode) {
				g.orchestrator.HandleModeChange(sess.ID, mode)
			}
		}

	case InSensitivity:
		if v, ok := data["value"].(float64); ok {
			g.orchestrator.HandleSensitivity(sess.ID, v)
		}

	case InAudioOutputModeChanged:
		if !sess.IsHost(wc.deviceID) {
			_ = wc.Send(OutError, errorPayload{Code: "forbidden", Message: "only the host may change audio output mode"})
			return
		}
		if m, ok := data["mode"].(string); ok {
			g.orchestrator.HandleAudioOutputModeChange(sess.ID, wc.deviceID, session.AudioOutputMode(m))
		}

	case InSessionEnd:
		if !sess.IsHost(wc.deviceID) {
			_ = wc.Send(OutError, errorPayload{Code: "forbidden", Message: "only the host may end the session"})
			return
		}
		g.orchestrator.HandleSessionEnd(sess.ID, wc.deviceID)
		g.registry.EndSession(sess.ID)

	case InBargeIn:
		g.orchestrator.HandleBargeIn(sess.ID, wc.deviceID)

	default:
		_ = wc.Send(OutError, errorPayload{Code: "unknown_message_type", Message: fmt.Sprintf("unknown message type: %s", env.Type)})
	}
}

// closeBeforeUpgrade writes an HTTP error before the protocol upgrade has
// happened, since a close-code cannot be sent without a live socket.
func closeBeforeUpgrade(c *gin.Context, code int, reason string) {
	status := http.StatusBadRequest
	if code == CloseInvalidSession {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"code": code, "error": reason})
}
