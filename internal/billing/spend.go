// Package billing tracks TTS spend against a monthly rolling cap and the
// per-session credit ticker that closes a socket with 4003 when a session
// runs out of budget, per component design §4.13. There is no pack library
// specialized for "one rolling JSON counter file" — the teacher's own
// persistence concerns (gorm, a relational store) don't fit a single
// scalar-plus-ring record either, so this is a declared stdlib-only
// exception backed by encoding/json and os, matching the flat-file layout
// the external interface mandates.
package billing

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rediai/broker/internal/logging"
)

// Generation is one billed TTS call.
type Generation struct {
	Timestamp  time.Time `json:"timestamp"`
	Characters int       `json:"characters"`
	Cost       float64   `json:"cost"`
}

const maxRetainedGenerations = 100

// costPerCharacter approximates ElevenLabs' per-character pricing closely
// enough for the cap to trip at a sane point; it is not a billing-accurate
// figure.
const costPerCharacter = 0.00018

// record is the on-disk shape of the spend tracker file.
type record struct {
	Month               string       `json:"month"` // "YYYY-MM"
	TotalCharactersUsed  int          `json:"totalCharactersUsed"`
	TotalGenerations     int          `json:"totalGenerations"`
	EstimatedSpend       float64      `json:"estimatedSpend"`
	LastUpdated          time.Time    `json:"lastUpdated"`
	Generations          []Generation `json:"generations"`
}

// Tracker is the process-global spend tracker plus the per-session credit
// ledger the orchestrator's CreditLedger interface requires. Mutations are
// atomic under a single mutex, per the concurrency model's "spend tracker
// state is process-global" rule.
type Tracker struct {
	mu   sync.Mutex
	path string
	log  *logging.Logger
	rec  record

	capUSD float64

	sessionCredits map[string]float64
	creditPerTick  float64
}

// Config configures a Tracker.
type Config struct {
	Path           string
	CapUSD         float64
	StartingCredit float64       // not read: a new session always starts with 60 × CreditPerTick
	CreditPerTick  float64       // credits deducted per CreditTick interval
}

// New loads (or initializes) the spend tracker file at cfg.Path.
func New(cfg Config, log *logging.Logger) (*Tracker, error) {
	t := &Tracker{
		path:           cfg.Path,
		log:            log,
		capUSD:         cfg.CapUSD,
		sessionCredits: make(map[string]float64),
		creditPerTick:  cfg.CreditPerTick,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func currentMonth() string {
	return time.Now().Format("2006-01")
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		t.rec = record{Month: currentMonth()}
		return nil
	}
	if err != nil {
		return err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	t.rec = rec
	t.rolloverIfNewMonth()
	return nil
}

// rolloverIfNewMonth resets the counters when the calendar month has turned
// over since the last write, called under the lock.
func (t *Tracker) rolloverIfNewMonth() {
	month := currentMonth()
	if t.rec.Month != month {
		t.rec = record{Month: month}
	}
}

func (t *Tracker) save() {
	t.rec.LastUpdated = time.Now()
	data, err := json.MarshalIndent(t.rec, "", "  ")
	if err != nil {
		t.log.Errorw("spend tracker marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		t.log.Errorw("spend tracker write failed", "err", err)
	}
}

// AllowTTS reports whether the monthly cap has not yet been reached.
// Callers should check this before initiating synthesis and fall back to
// text-only or local TTS when it returns false.
func (t *Tracker) AllowTTS() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNewMonth()
	return t.capUSD <= 0 || t.rec.EstimatedSpend < t.capUSD
}

// ChargeCharacters records a TTS call's character count against the
// monthly rolling total and returns whether the cap still allows further
// synthesis.
func (t *Tracker) ChargeCharacters(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNewMonth()

	cost := float64(n) * costPerCharacter
	t.rec.TotalCharactersUsed += n
	t.rec.TotalGenerations++
	t.rec.EstimatedSpend += cost

	t.rec.Generations = append(t.rec.Generations, Generation{
		Timestamp: time.Now(), Characters: n, Cost: cost,
	})
	if len(t.rec.Generations) > maxRetainedGenerations {
		t.rec.Generations = t.rec.Generations[len(t.rec.Generations)-maxRetainedGenerations:]
	}

	t.save()
	return t.capUSD <= 0 || t.rec.EstimatedSpend < t.capUSD
}

// ResetMonth forces a rollover, used by the scheduled monthly-reset job as a
// defensive backstop alongside the lazy rollover in load/Charge/Allow.
func (t *Tracker) ResetMonth() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rec = record{Month: currentMonth()}
	t.save()
}

// RegisterSession grants a new session its starting credit balance.
func (t *Tracker) RegisterSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.sessionCredits[sessionID]; !exists {
		t.sessionCredits[sessionID] = t.startingCreditLocked()
	}
}

func (t *Tracker) startingCreditLocked() float64 {
	if t.creditPerTick <= 0 {
		return 0
	}
	return t.creditPerTick * 60 // one hour of ticks
}

// ChargeTick deducts one credit-tick's worth of balance from a session,
// implementing the per-minute credit deduction ticker of §4.13.
func (t *Tracker) ChargeTick(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessionCredits[sessionID]; !ok {
		t.sessionCredits[sessionID] = t.startingCreditLocked()
	}
	t.sessionCredits[sessionID] -= t.creditPerTick
}

// HasCredits reports whether a session still has a positive balance.
func (t *Tracker) HasCredits(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal, ok := t.sessionCredits[sessionID]
	if !ok {
		return true
	}
	return bal > 0
}

// EndSession releases a session's credit-ledger entry.
func (t *Tracker) EndSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessionCredits, sessionID)
}

// EstimatedSpend returns the current month's running total, for health/
// status reporting.
func (t *Tracker) EstimatedSpend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.EstimatedSpend
}
