// Package scheduler runs the three recurring background jobs component
// design §4.14/§4.13/§4.15 describe only in prose (daily analytics rollup,
// redemption-token TTL sweep, monthly spend reset), generalizing the
// teacher's task-reminder scheduler to this broker's own job set while
// keeping its direct `hibiken/asynq` wiring.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rediai/broker/internal/logging"
)

// JobType identifies one of the recurring background jobs.
type JobType string

const (
	JobTypeAnalyticsRollup   JobType = "analytics:rollup"
	JobTypeRedemptionSweep   JobType = "redemption:sweep"
	JobTypeSpendMonthlyReset JobType = "spend:monthly_reset"
)

// JobPayload is the asynq task payload shared by all job types here; only
// AnalyticsDay is meaningful for JobTypeAnalyticsRollup.
type JobPayload struct {
	JobType      JobType `json:"jobType"`
	AnalyticsDay string  `json:"analyticsDay,omitempty"` // YYYY-MM-DD
}

// rollupComputer is the narrow shape this package actually needs from
// internal/analytics.Recorder; defined locally so scheduler doesn't import
// analytics' concrete Rollup type, only what it calls.
type rollupComputer interface {
	RunDailyRollup(day time.Time) error
}

// redemptionSweeper is the narrow shape needed from internal/redemption.Store.
type redemptionSweeper interface {
	SweepExpired() (int, error)
}

// spendResetter is the narrow shape needed from internal/billing.Tracker.
type spendResetter interface {
	ResetMonth()
}

// Config configures the asynq client/server pair.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// Service runs the scheduled jobs. Concrete collaborators are supplied at
// construction so this package has no dependency on analytics/redemption/
// billing's concrete types beyond the narrow interfaces above.
type Service struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logging.Logger

	rollups    rollupComputer
	redemption redemptionSweeper
	spend      spendResetter
}

// New constructs a Service wired to its three job collaborators.
func New(cfg Config, log *logging.Logger, rollups rollupComputer, redemption redemptionSweeper, spend spendResetter) *Service {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Logger:      NewAsynqLogger(log),
	})
	mux := asynq.NewServeMux()

	s := &Service{
		client:     client,
		server:     server,
		mux:        mux,
		log:        log,
		rollups:    rollups,
		redemption: redemption,
		spend:      spend,
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.mux.HandleFunc(string(JobTypeAnalyticsRollup), s.handleAnalyticsRollup)
	s.mux.HandleFunc(string(JobTypeRedemptionSweep), s.handleRedemptionSweep)
	s.mux.HandleFunc(string(JobTypeSpendMonthlyReset), s.handleSpendMonthlyReset)
}

// ScheduleAnalyticsRollup enqueues a rollup for the given day, to run in.
func (s *Service) ScheduleAnalyticsRollup(day time.Time, in time.Duration) error {
	return s.enqueue(JobPayload{JobType: JobTypeAnalyticsRollup, AnalyticsDay: day.Format("2006-01-02")}, in)
}

// ScheduleRedemptionSweep enqueues a redemption TTL sweep.
func (s *Service) ScheduleRedemptionSweep(in time.Duration) error {
	return s.enqueue(JobPayload{JobType: JobTypeRedemptionSweep}, in)
}

// ScheduleSpendMonthlyReset enqueues a spend-tracker monthly reset.
func (s *Service) ScheduleSpendMonthlyReset(in time.Duration) error {
	return s.enqueue(JobPayload{JobType: JobTypeSpendMonthlyReset}, in)
}

func (s *Service) enqueue(payload JobPayload, in time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("scheduler: marshal payload: %w", err)
	}
	t := asynq.NewTask(string(payload.JobType), data)
	info, err := s.client.Enqueue(t, asynq.ProcessIn(in))
	if err != nil {
		return fmt.Errorf("scheduler: enqueue %s: %w", payload.JobType, err)
	}
	s.log.Infow("scheduled job", "job_type", payload.JobType, "queue", info.Queue, "id", info.ID, "in", in)
	return nil
}

// RunRecurring starts the three jobs: a rollup of the previous day every 24
// hours counted from the call, a redemption sweep every hour, and a spend
// reset at 00:05 on the 1st of each month. Call this once after Start.
func (s *Service) RunRecurring(ctx context.Context) {
	go s.loop(ctx, 24*time.Hour, func() error {
		return s.ScheduleAnalyticsRollup(time.Now().Add(-24*time.Hour), time.Minute)
	})
	go s.loop(ctx, time.Hour, func() error {
		return s.ScheduleRedemptionSweep(time.Minute)
	})
	go s.monthlyLoop(ctx)
}

func (s *Service) loop(ctx context.Context, interval time.Duration, fire func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fire(); err != nil {
				s.log.Errorw("recurring job enqueue failed", "err", err)
			}
		}
	}
}

func (s *Service) monthlyLoop(ctx context.Context) {
	for {
		now := time.Now()
		nextMonth := time.Date(now.Year(), now.Month(), 1, 0, 5, 0, 0, now.Location()).AddDate(0, 1, 0)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(nextMonth)):
			if err := s.ScheduleSpendMonthlyReset(0); err != nil {
				s.log.Errorw("monthly reset enqueue failed", "err", err)
			}
		}
	}
}

// Start runs the asynq server in the background.
func (s *Service) Start() error {
	s.log.Infow("starting scheduler server")
	go func() {
		if err := s.server.Run(s.mux); err != nil {
			s.log.Errorw("asynq server stopped", "err", err)
		}
	}()
	return nil
}

// Stop shuts the scheduler server and client down.
func (s *Service) Stop() {
	s.server.Shutdown()
	_ = s.client.Close()
}

func (s *Service) handleAnalyticsRollup(ctx context.Context, t *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("scheduler: unmarshal analytics rollup payload: %w", err)
	}
	day, err := time.Parse("2006-01-02", payload.AnalyticsDay)
	if err != nil {
		return fmt.Errorf("scheduler: bad analytics day %q: %w", payload.AnalyticsDay, err)
	}
	if err := s.rollups.RunDailyRollup(day); err != nil {
		s.log.Errorw("analytics rollup failed", "day", payload.AnalyticsDay, "err", err)
		return err
	}
	s.log.Infow("analytics rollup complete", "day", payload.AnalyticsDay)
	return nil
}

func (s *Service) handleRedemptionSweep(ctx context.Context, t *asynq.Task) error {
	removed, err := s.redemption.SweepExpired()
	if err != nil {
		s.log.Errorw("redemption sweep failed", "err", err)
		return err
	}
	s.log.Infow("redemption sweep complete", "removed", removed)
	return nil
}

func (s *Service) handleSpendMonthlyReset(ctx context.Context, t *asynq.Task) error {
	s.spend.ResetMonth()
	s.log.Infow("spend tracker monthly reset complete")
	return nil
}
