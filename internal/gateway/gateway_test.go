package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediai/broker/internal/logging"
	"github.com/rediai/broker/internal/registry"
	"github.com/rediai/broker/internal/session"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	started []string
	audio   [][]byte
	modes   []session.Mode
	ended   []string
}

func (f *fakeOrchestrator) StartSession(ctx context.Context, sess *session.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sess.ID)
}
func (f *fakeOrchestrator) HandleAudio(sessionID, deviceID string, chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, chunk)
}
func (f *fakeOrchestrator) HandleFrame(sessionID, deviceID string, jpeg []byte, captureTs time.Time) {}
func (f *fakeOrchestrator) HandlePerception(sessionID, deviceID string, packet map[string]any)       {}
func (f *fakeOrchestrator) HandleUserSpeaking(sessionID, deviceID string, speaking bool)              {}
func (f *fakeOrchestrator) HandleModeChange(sessionID string, mode session.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
}
func (f *fakeOrchestrator) HandleSensitivity(sessionID string, value float64) {}
func (f *fakeOrchestrator) HandleAudioOutputModeChange(sessionID, deviceID string, mode session.AudioOutputMode) {
}
func (f *fakeOrchestrator) HandleBargeIn(sessionID, deviceID string) {}
func (f *fakeOrchestrator) HandleSessionEnd(sessionID, deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
}

func newTestServer(t *testing.T) (*httptest.Server, *Gateway, *registry.Registry, *fakeOrchestrator) {
	t.Helper()
	log := logging.New(true)
	reg := registry.New(nil, log)
	orch := &fakeOrchestrator{}
	gw := New(reg, orch, nil, false, log)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	gw.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, gw, reg, orch
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestGateway_HostConnectCreatesSessionAndReceivesReady(t *testing.T) {
	srv, _, reg, orch := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi?deviceId=host1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var msg envelope
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, OutSessionReady, msg.Type)

	time.Sleep(20 * time.Millisecond)
	orch.mu.Lock()
	defer orch.mu.Unlock()
	require.Len(t, orch.started, 1)
	assert.Equal(t, 1, reg.SessionCount())
}

func TestGateway_MissingDeviceIDRejectsUpgrade(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_UnknownSessionIDRejectsUpgrade(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi?deviceId=d1&sessionId=nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_PingReceivesPong(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi?deviceId=host1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var ready envelope
	require.NoError(t, conn.ReadJSON(&ready))

	require.NoError(t, conn.WriteJSON(envelope{Type: InPing}))

	var pong envelope
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, OutPong, pong.Type)
}

func TestGateway_ModeChangeReachesOrchestrator(t *testing.T) {
	srv, _, _, orch := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi?deviceId=host1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var ready envelope
	require.NoError(t, conn.ReadJSON(&ready))

	raw, err := json.Marshal(envelope{Type: InModeChange, Data: modePayload{Mode: "driving"}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return len(orch.modes) == 1
	}, time.Second, 10*time.Millisecond)

	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Equal(t, session.ModeDriving, orch.modes[0])
}

func TestGateway_GuestJoinByExistingSessionID(t *testing.T) {
	srv, _, reg, _ := newTestServer(t)

	host, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi?deviceId=host1"), nil)
	require.NoError(t, err)
	defer host.Close()

	var ready envelope
	require.NoError(t, host.ReadJSON(&ready))
	sessionID := ready.SessionID
	if sessionID == "" {
		// sessionId travels inside Data for session_ready; re-decode.
		data, _ := json.Marshal(ready.Data)
		var payload struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(data, &payload)
		sessionID = payload.SessionID
	}
	require.NotEmpty(t, sessionID)

	guest, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/redi?deviceId=guest1&sessionId="+sessionID), nil)
	require.NoError(t, err)
	defer guest.Close()

	var guestReady envelope
	require.NoError(t, guest.ReadJSON(&guestReady))
	assert.Equal(t, OutSessionReady, guestReady.Type)

	require.Eventually(t, func() bool {
		return reg.DeviceCount(sessionID) == 2
	}, time.Second, 10*time.Millisecond)
}
