package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TierSweeper is the minimal interface the scheduler needs from the payment use case.
type TierSweeper interface {
	// SweepTiers re-applies tiers implied by completed payments and returns how many organizations changed.
	SweepTiers(ctx context.Context, limit int) (int, error)
}

// Scheduler runs the tier sweep on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	sweeper  TierSweeper
	limit    int
	timeout  time.Duration
	log      *zerolog.Logger
	baseCtx  context.Context
	cancel   context.CancelFunc
	started  bool
}

// NewScheduler validates schedule (standard five fields or @every/@hourly descriptors).
func NewScheduler(schedule string, sweeper TierSweeper, logger *zerolog.Logger) (*Scheduler, error) {
	lg := logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: &lg}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid tier sweep schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, schedule: schedule, sweeper: sweeper, limit: 500, timeout: 30 * time.Second, log: &lg}, nil
}

// Start registers the sweep and starts the cron loop. Calling Start twice has no effect.
func (s *Scheduler) Start(parent context.Context) error {
	if s.started {
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(parent)
	if _, err := s.cron.AddFunc(s.schedule, s.RunSweep); err != nil {
		s.cancel()
		return err
	}
	s.cron.Start()
	s.started = true
	s.log.Info().Str("schedule", s.schedule).Msg("scheduled tier sweep job")
	return nil
}

// RunSweep runs one sweep with a bounded timeout.
func (s *Scheduler) RunSweep() {
	parent := s.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	fixed, err := s.sweeper.SweepTiers(ctx, s.limit)
	if err != nil {
		s.log.Error().Err(err).Msg("tier sweep failed")
		return
	}
	if fixed > 0 {
		s.log.Info().Int("organizations", fixed).Msg("tier sweep repaired organizations")
	}
}

// Stop cancels running jobs and waits for them. It is idempotent.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info().Msg("scheduler stopped")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log *zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
