package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediai/broker/internal/brain"
	"github.com/rediai/broker/internal/session"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestRecorder_RecordTurnAppendsToDayFile(t *testing.T) {
	r := newTestRecorder(t)
	day := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	r.RecordTurn(TurnRecord{SessionID: "s1", Timestamp: day, Mode: session.ModeGeneral, Brain: brain.Fast, GuardVerdict: "pass", LatencyMs: 120})
	r.RecordTurn(TurnRecord{SessionID: "s1", Timestamp: day.Add(time.Minute), Mode: session.ModeGeneral, Brain: brain.Fast, GuardVerdict: "blocked", BlockReason: "too_long", LatencyMs: 80})

	records := r.readDay(r.pathFor(day))
	assert.Len(t, records, 2)
	assert.Equal(t, "pass", records[0].GuardVerdict)
	assert.Equal(t, "blocked", records[1].GuardVerdict)
}

func TestRecorder_ComputeRollupAggregatesByModeAndVerdict(t *testing.T) {
	r := newTestRecorder(t)
	day := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	r.RecordTurn(TurnRecord{Timestamp: day, Mode: session.ModeGeneral, GuardVerdict: "pass", LatencyMs: 100})
	r.RecordTurn(TurnRecord{Timestamp: day, Mode: session.ModeDriving, GuardVerdict: "pass", LatencyMs: 200})
	r.RecordTurn(TurnRecord{Timestamp: day, Mode: session.ModeGeneral, GuardVerdict: "blocked", BlockReason: "banned_phrase", LatencyMs: 50})
	r.RecordTurn(TurnRecord{Timestamp: day, Mode: session.ModeGeneral, GuardVerdict: "pass", Cancelled: true, LatencyMs: 60})

	roll := r.ComputeRollup(day)

	assert.Equal(t, 4, roll.TotalTurns)
	assert.Equal(t, 3, roll.TurnsByMode[string(session.ModeGeneral)])
	assert.Equal(t, 1, roll.TurnsByMode[string(session.ModeDriving)])
	assert.Equal(t, 3, roll.SuccessCount)
	assert.Equal(t, 1, roll.BlockedCount)
	assert.Equal(t, 1, roll.CancelledCount)
	assert.Equal(t, 1, roll.BlockReasonCounts["banned_phrase"])
	assert.InDelta(t, 102.5, roll.AverageLatencyMs, 0.01)
}

func TestRecorder_ComputeRollupEmptyDay(t *testing.T) {
	r := newTestRecorder(t)
	roll := r.ComputeRollup(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 0, roll.TotalTurns)
	assert.Equal(t, 0.0, roll.AverageLatencyMs)
}

func TestRecorder_WriteRollupPersists(t *testing.T) {
	r := newTestRecorder(t)
	day := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	r.RecordTurn(TurnRecord{Timestamp: day, Mode: session.ModeGeneral, GuardVerdict: "pass"})
	roll := r.ComputeRollup(day)
	require.NoError(t, r.WriteRollup(roll))
}
