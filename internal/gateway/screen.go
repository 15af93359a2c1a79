package gateway

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rediai/broker/internal/logging"
)

const (
	screenCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no I/O/0/1
	screenCodeLength   = 8
	screenCodeTTL      = 5 * time.Minute

	screenAttemptWindow = time.Minute
	screenMaxAttempts   = 5
	screenLockout       = 15 * time.Minute
)

// screenPeer is one side of a screen-share pairing: the phone that
// generates the code, or the computer that redeems it.
type screenPeer struct {
	conn     *wsConn
	approved bool
}

type screenPairing struct {
	mu      sync.Mutex
	code    string
	expires time.Time
	phone   *screenPeer
	pc      *screenPeer
}

func (p *screenPairing) expired() bool { return time.Now().After(p.expires) }

// rateLimitEntry tracks redemption attempts from one source address.
type rateLimitEntry struct {
	attempts    []time.Time
	lockedUntil time.Time
}

// screenSignaling implements the /ws/screen pairing-code relay: a phone
// peer requests a code, a computer peer redeems it, and once the phone
// approves the pairing, WebRTC offer/answer/ICE messages are relayed
// between them.
type screenSignaling struct {
	log *logging.Logger

	mu        sync.Mutex
	pairings  map[string]*screenPairing
	rateLimit map[string]*rateLimitEntry
}

func newScreenSignaling(log *logging.Logger) *screenSignaling {
	return &screenSignaling{
		log:       log,
		pairings:  make(map[string]*screenPairing),
		rateLimit: make(map[string]*rateLimitEntry),
	}
}

func (s *screenSignaling) generateCode() (string, error) {
	buf := make([]byte, screenCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, screenCodeLength)
	for i, b := range buf {
		code[i] = screenCodeAlphabet[int(b)%len(screenCodeAlphabet)]
	}
	return string(code), nil
}

func (s *screenSignaling) createPairing() (*screenPairing, error) {
	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	pairing := &screenPairing{code: code, expires: time.Now().Add(screenCodeTTL)}

	s.mu.Lock()
	s.pairings[code] = pairing
	s.mu.Unlock()

	return pairing, nil
}

// checkRateLimit enforces 5 redemption attempts/min per source address with
// a 15-minute lockout on violation. Returns false when the caller must be
// refused.
func (s *screenSignaling) checkRateLimit(sourceAddr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimit[sourceAddr]
	if !ok {
		entry = &rateLimitEntry{}
		s.rateLimit[sourceAddr] = entry
	}

	if now.Before(entry.lockedUntil) {
		return false
	}

	cutoff := now.Add(-screenAttemptWindow)
	kept := entry.attempts[:0]
	for _, t := range entry.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	entry.attempts = kept

	entry.attempts = append(entry.attempts, now)
	if len(entry.attempts) > screenMaxAttempts {
		entry.lockedUntil = now.Add(screenLockout)
		return false
	}
	return true
}

func (s *screenSignaling) lookup(code string) (*screenPairing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairing, ok := s.pairings[code]
	if !ok || pairing.expired() {
		return nil, false
	}
	return pairing, true
}

func (g *Gateway) handleScreen(c *gin.Context) {
	role := c.Query("role") // "phone" or "computer"
	code := c.Query("code")

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	wc := newWSConn(conn, c.Query("deviceId"))

	switch role {
	case "phone":
		g.handleScreenPhone(wc)
	case "computer":
		if !g.screen.checkRateLimit(c.ClientIP()) {
			wc.closeWithCode(CloseInvalidSession, "too many pairing attempts")
			return
		}
		g.handleScreenComputer(wc, code)
	default:
		wc.closeWithCode(CloseSessionIDMissing, "role must be phone or computer")
	}
}

func (g *Gateway) handleScreenPhone(wc *wsConn) {
	pairing, err := g.screen.createPairing()
	if err != nil {
		wc.closeWithCode(CloseProviderSetup, "failed to generate pairing code")
		return
	}
	pairing.mu.Lock()
	pairing.phone = &screenPeer{conn: wc}
	pairing.mu.Unlock()

	_ = wc.Send("pairing_code", map[string]string{"code": pairing.code})
	g.relayLoop(wc, func(msg map[string]any) {
		g.routeScreenMessage(pairing, pairing.phone, msg)
	})
}

func (g *Gateway) handleScreenComputer(wc *wsConn, code string) {
	pairing, ok := g.screen.lookup(code)
	if !ok {
		wc.closeWithCode(CloseInvalidSession, "pairing code not found or expired")
		return
	}

	pairing.mu.Lock()
	pairing.pc = &screenPeer{conn: wc}
	phone := pairing.phone
	pairing.mu.Unlock()

	if phone != nil {
		_ = phone.conn.Send("pairing_request", nil)
	}

	g.relayLoop(wc, func(msg map[string]any) {
		g.routeScreenMessage(pairing, pairing.pc, msg)
	})
}

func (g *Gateway) relayLoop(wc *wsConn, onMessage func(map[string]any)) {
	defer wc.Close()
	for {
		_, raw, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		_, data, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		onMessage(data)
	}
}

// routeScreenMessage relays WebRTC signaling between the phone and computer
// peer, requiring the phone's explicit approval before anything but the
// approval handshake itself is forwarded.
func (g *Gateway) routeScreenMessage(pairing *screenPairing, from *screenPeer, msg map[string]any) {
	pairing.mu.Lock()
	defer pairing.mu.Unlock()

	if msgType, _ := msg["type"].(string); msgType == "approve" && from == pairing.phone {
		if pairing.pc != nil {
			pairing.pc.approved = true
			_ = pairing.pc.conn.Send("approved", nil)
		}
		return
	}

	if !pairing.pc.isApproved() {
		return
	}

	var to *screenPeer
	if from == pairing.phone {
		to = pairing.pc
	} else {
		to = pairing.phone
	}
	if to != nil {
		_ = to.conn.Send("webrtc_signal", msg)
	}
}

func (p *screenPeer) isApproved() bool {
	if p == nil {
		return false
	}
	return p.approved
}
