// Package analytics appends one record per conversational turn to a
// per-day JSON file and produces the daily rollup aggregation of component
// design §4.14. Like billing, this is append-only flat-file logging rather
// than a queryable store, so it is a declared stdlib-only (encoding/json +
// os) exception; the scheduled rollup job is the library-backed half,
// dispatched through internal/scheduler's asynq wiring.
package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rediai/broker/internal/brain"
	"github.com/rediai/broker/internal/session"
)

// TurnRecord is the durable form of one completed or blocked turn, matching
// the orchestrator's orchestrator.TurnRecord shape plus the fields the
// component design's "Turn record" calls out for audit (§3).
type TurnRecord struct {
	SessionID    string       `json:"sessionId"`
	Timestamp    time.Time    `json:"timestamp"`
	Mode         session.Mode `json:"mode"`
	Brain        brain.Brain  `json:"brain"`
	Prompted     bool         `json:"prompted"`
	GuardVerdict string       `json:"guardVerdict"`
	BlockReason  string       `json:"blockReason,omitempty"`
	AssistantText string      `json:"assistantText"`
	LatencyMs    int64        `json:"latencyMs"`
	Cancelled    bool         `json:"cancelled"`
}

// Recorder appends turn records to per-day JSON files under Dir. cmd/broker
// adapts it to the orchestrator.TurnRecorder interface.
type Recorder struct {
	mu  sync.Mutex
	dir string
}

// NewRecorder creates a Recorder writing under dir, creating it if absent.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("analytics: create dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

func (r *Recorder) pathFor(day time.Time) string {
	return filepath.Join(r.dir, fmt.Sprintf("santa-analytics-%s.json", day.Format("2006-01-02")))
}

// RecordTurn appends one turn record to its day's file. It takes this
// package's own TurnRecord (so analytics does not depend on orchestrator's
// types), so Recorder does not satisfy orchestrator.TurnRecorder by itself;
// cmd/broker adapts at the call site.
func (r *Recorder) RecordTurn(rec TurnRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	path := r.pathFor(rec.Timestamp)

	existing := r.readDay(path)
	existing = append(existing, rec)
	r.writeDay(path, existing)
}

func (r *Recorder) readDay(path string) []TurnRecord {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return nil
	}
	var records []TurnRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

func (r *Recorder) writeDay(path string, records []TurnRecord) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// Rollup is the daily aggregation produced by ComputeRollup.
type Rollup struct {
	Day              string             `json:"day"`
	TotalTurns       int                `json:"totalTurns"`
	TurnsByMode      map[string]int     `json:"turnsByMode"`
	SuccessCount     int                `json:"successCount"`
	BlockedCount     int                `json:"blockedCount"`
	CancelledCount   int                `json:"cancelledCount"`
	AverageLatencyMs float64            `json:"averageLatencyMs"`
	BlockReasonCounts map[string]int    `json:"blockReasonCounts"`
}

// ComputeRollup reads one day's records and aggregates them per §4.14:
// by scenario/mode, success vs failure, average latency, and safety-issue
// (block-reason) frequencies.
func (r *Recorder) ComputeRollup(day time.Time) Rollup {
	r.mu.Lock()
	records := r.readDay(r.pathFor(day))
	r.mu.Unlock()

	roll := Rollup{
		Day:               day.Format("2006-01-02"),
		TurnsByMode:       make(map[string]int),
		BlockReasonCounts: make(map[string]int),
	}

	var totalLatency int64
	for _, rec := range records {
		roll.TotalTurns++
		roll.TurnsByMode[string(rec.Mode)]++
		totalLatency += rec.LatencyMs

		if rec.Cancelled {
			roll.CancelledCount++
		}
		switch rec.GuardVerdict {
		case "pass":
			roll.SuccessCount++
		case "blocked":
			roll.BlockedCount++
			if rec.BlockReason != "" {
				roll.BlockReasonCounts[rec.BlockReason]++
			}
		}
	}

	if roll.TotalTurns > 0 {
		roll.AverageLatencyMs = float64(totalLatency) / float64(roll.TotalTurns)
	}
	return roll
}

// RunDailyRollup computes and persists one day's rollup in a single call,
// the shape the scheduled rollup job drives.
func (r *Recorder) RunDailyRollup(day time.Time) error {
	return r.WriteRollup(r.ComputeRollup(day))
}

// WriteRollup persists a computed Rollup alongside the day's turn records,
// under a `-rollup.json` suffix.
func (r *Recorder) WriteRollup(roll Rollup) error {
	data, err := json.MarshalIndent(roll, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(r.dir, fmt.Sprintf("santa-analytics-%s-rollup.json", roll.Day))
	return os.WriteFile(path, data, 0o644)
}
