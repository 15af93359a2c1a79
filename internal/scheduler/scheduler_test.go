package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediai/broker/internal/logging"
)

type fakeRollups struct {
	lastDay time.Time
	err     error
}

func (f *fakeRollups) RunDailyRollup(day time.Time) error {
	f.lastDay = day
	return f.err
}

type fakeRedemption struct {
	removed int
	err     error
}

func (f *fakeRedemption) SweepExpired() (int, error) { return f.removed, f.err }

type fakeSpend struct {
	resetCalled bool
}

func (f *fakeSpend) ResetMonth() { f.resetCalled = true }

func newTestService(t *testing.T) (*Service, *fakeRollups, *fakeRedemption, *fakeSpend) {
	t.Helper()
	rollups := &fakeRollups{}
	redemption := &fakeRedemption{}
	spend := &fakeSpend{}
	s := New(Config{RedisAddr: "127.0.0.1:0"}, logging.New(true), rollups, redemption, spend)
	return s, rollups, redemption, spend
}

func TestService_HandleAnalyticsRollupParsesDayAndDelegates(t *testing.T) {
	s, rollups, _, _ := newTestService(t)

	payload, err := json.Marshal(JobPayload{JobType: JobTypeAnalyticsRollup, AnalyticsDay: "2026-07-30"})
	require.NoError(t, err)

	err = s.handleAnalyticsRollup(context.Background(), asynq.NewTask(string(JobTypeAnalyticsRollup), payload))
	require.NoError(t, err)
	assert.Equal(t, "2026-07-30", rollups.lastDay.Format("2006-01-02"))
}

func TestService_HandleAnalyticsRollupRejectsBadDay(t *testing.T) {
	s, _, _, _ := newTestService(t)

	payload, err := json.Marshal(JobPayload{JobType: JobTypeAnalyticsRollup, AnalyticsDay: "not-a-date"})
	require.NoError(t, err)

	err = s.handleAnalyticsRollup(context.Background(), asynq.NewTask(string(JobTypeAnalyticsRollup), payload))
	assert.Error(t, err)
}

func TestService_HandleRedemptionSweepDelegates(t *testing.T) {
	s, _, redemption, _ := newTestService(t)
	redemption.removed = 3

	err := s.handleRedemptionSweep(context.Background(), asynq.NewTask(string(JobTypeRedemptionSweep), nil))
	require.NoError(t, err)
}

func TestService_HandleSpendMonthlyResetDelegates(t *testing.T) {
	s, _, _, spend := newTestService(t)

	err := s.handleSpendMonthlyReset(context.Background(), asynq.NewTask(string(JobTypeSpendMonthlyReset), nil))
	require.NoError(t, err)
	assert.True(t, spend.resetCalled)
}
