package restore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/prefsd/internal/logfields"
)

// Checker runs a runtime consistency sweep; Engine implements it.
type Checker interface {
	RuntimeCheck(ctx context.Context) []SweepResult
}

// SweepScheduler runs periodic runtime consistency sweeps.
type SweepScheduler struct {
	scheduler gocron.Scheduler
	checker   Checker
	ctx       context.Context
}

func NewSweepScheduler(checker Checker) (*SweepScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &SweepScheduler{scheduler: s, checker: checker, ctx: context.Background()}, nil
}

// Schedule registers the sweep every interval and returns the job ID. Sweeps never
// overlap: a run still in progress makes the next tick wait.
func (s *SweepScheduler) Schedule(interval time.Duration) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.run),
		gocron.WithName("consistency-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeWait),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create sweep job: %w", err)
	}
	return job.ID().String(), nil
}

// Start begins the scheduler; ctx is passed to every sweep.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.ctx = ctx
	slog.Info("Starting consistency sweep scheduler")
	s.scheduler.Start()
}

func (s *SweepScheduler) Stop() error {
	slog.Info("Stopping consistency sweep scheduler")
	return s.scheduler.Shutdown()
}

func (s *SweepScheduler) run() {
	start := time.Now()
	results := s.checker.RuntimeCheck(s.ctx)
	slog.Debug("Scheduled consistency sweep done",
		logfields.Count(len(results)),
		logfields.Duration(time.Since(start)))
}
