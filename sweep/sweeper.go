// Package sweep runs the background loops that keep the system moving:
// draining the event queue, promoting due scheduled executions, and
// purging settled queue entries on a cron schedule.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/journey"
	"github.com/xraph/journey/queue"
)

// Drainer drains and purges the event queue. queue.Queue satisfies this.
type Drainer interface {
	Process(ctx context.Context, batchSize int) (queue.Report, error)
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// Promoter promotes due scheduled executions. engine.Engine satisfies this.
type Promoter interface {
	ProcessScheduledExecutions(ctx context.Context) (int, error)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithTickInterval sets how often the sweeper drains the queue and
// promotes scheduled executions.
func WithTickInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.tickInterval = d }
}

// WithConfig sets the batch size and retention from cfg.
func WithConfig(cfg journey.Config) Option {
	return func(s *Sweeper) {
		s.batchSize = cfg.SweepBatchSize
		s.retention = cfg.QueueRetention
	}
}

// WithPurgeSchedule sets the cron expression for the purge pass.
// Standard 5-field cron and descriptors like "@every 1h" are accepted.
func WithPurgeSchedule(expr string) Option {
	return func(s *Sweeper) { s.purgeExpr = expr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// cronParser supports standard 5-field cron and descriptors like "@every 1h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Sweeper drives the queue drain and the execution sweep on a tick
// loop, and the retention purge on a cron schedule. One Sweeper per
// process.
type Sweeper struct {
	queue    Drainer
	promoter Promoter
	logger   *slog.Logger

	tickInterval time.Duration
	batchSize    int
	retention    time.Duration
	purgeExpr    string
	purgeSched   cronlib.Schedule
	nextPurge    time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Sweeper. Either dependency may be nil, in which case
// the corresponding pass is skipped.
func New(drainer Drainer, promoter Promoter, opts ...Option) (*Sweeper, error) {
	cfg := journey.DefaultConfig()
	s := &Sweeper{
		queue:        drainer,
		promoter:     promoter,
		logger:       slog.Default(),
		tickInterval: 1 * time.Second,
		batchSize:    cfg.SweepBatchSize,
		retention:    cfg.QueueRetention,
		purgeExpr:    "@every 1h",
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	sched, err := ParseSchedule(s.purgeExpr)
	if err != nil {
		return nil, err
	}
	s.purgeSched = sched
	s.nextPurge = sched.Next(time.Now().UTC())
	return s, nil
}

// Start launches the tick goroutine.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("sweeper started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.String("purge_schedule", s.purgeExpr),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for the loop to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick runs one sweep pass: drain the queue, promote due executions,
// and purge if the cron schedule says it is time. Exported so callers
// can drive the sweeper manually in tests or one-shot tools.
func (s *Sweeper) Tick(ctx context.Context) {
	if s.queue != nil {
		report, err := s.queue.Process(ctx, s.batchSize)
		if err != nil {
			s.logger.Error("queue drain error", slog.String("error", err.Error()))
		} else if report.Processed+report.Retried+report.DeadLettered > 0 {
			s.logger.Debug("queue drained",
				slog.Int("processed", report.Processed),
				slog.Int("retried", report.Retried),
				slog.Int("dead_lettered", report.DeadLettered),
			)
		}
	}

	if s.promoter != nil {
		promoted, err := s.promoter.ProcessScheduledExecutions(ctx)
		if err != nil {
			s.logger.Error("execution sweep error", slog.String("error", err.Error()))
		} else if promoted > 0 {
			s.logger.Debug("executions promoted", slog.Int("count", promoted))
		}
	}

	now := time.Now().UTC()
	if s.queue != nil && !s.nextPurge.After(now) {
		s.nextPurge = s.purgeSched.Next(now)
		purged, err := s.queue.Purge(ctx, s.retention)
		if err != nil {
			s.logger.Error("queue purge error", slog.String("error", err.Error()))
		} else if purged > 0 {
			s.logger.Info("queue purged", slog.Int64("removed", purged))
		}
	}
}
