// Package jobs runs the node's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outpost/internal/repository"
	"outpost/internal/service"

	"github.com/robfig/cron/v3"
)

// DefaultCleanupSchedule is how often expired key-value rows are purged.
const DefaultCleanupSchedule = "@every 60m"

const jobTimeout = 5 * time.Minute

// TopicReconciler applies a topic source file.
type TopicReconciler interface {
	ReconcileAccountsForTopics(ctx context.Context, src *service.TopicSource) (repository.ReconcileStats, error)
}

// Expirer removes key-value rows whose TTL has passed.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config selects which jobs run and when.
type Config struct {
	// TopicSourcePath is the YAML topic file; empty disables topic sync.
	TopicSourcePath string
	TopicSchedule   string
	CleanupSchedule string
}

// Scheduler owns the cron runner and the job bodies.
type Scheduler struct {
	cron   *cron.Cron
	cfg    Config
	topics TopicReconciler
	kv     Expirer
	logger *slog.Logger
	now    func() time.Time
}

// New registers the configured jobs. Nothing runs until Start.
func New(cfg Config, topics TopicReconciler, kv Expirer, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = DefaultCleanupSchedule
	}
	cronLogger := cronLog{logger: logger.With(slog.String("component", "jobs"))}
	s := &Scheduler{
		cron: cron.New(cron.WithLogger(cronLogger), cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		cfg:    cfg,
		topics: topics,
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}

	if _, err := s.cron.AddFunc(cfg.CleanupSchedule, s.runCleanup); err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}
	if cfg.TopicSourcePath != "" && topics != nil {
		if _, err := s.cron.AddFunc(cfg.TopicSchedule, s.runTopicSync); err != nil {
			return nil, fmt.Errorf("topic sync schedule %q: %w", cfg.TopicSchedule, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// SyncTopics loads the topic file and reconciles topic membership.
func (s *Scheduler) SyncTopics(ctx context.Context) (repository.ReconcileStats, error) {
	if s.cfg.TopicSourcePath == "" || s.topics == nil {
		return repository.ReconcileStats{}, nil
	}
	src, err := service.LoadTopicSource(s.cfg.TopicSourcePath)
	if err != nil {
		return repository.ReconcileStats{}, err
	}
	return s.topics.ReconcileAccountsForTopics(ctx, src)
}

// PurgeExpired deletes expired key-value rows.
func (s *Scheduler) PurgeExpired(ctx context.Context) (int64, error) {
	return s.kv.DeleteExpired(ctx, s.now())
}

func (s *Scheduler) runTopicSync() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	stats, err := s.SyncTopics(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "topic sync failed", slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "topic sync finished",
		slog.Int("topics", stats.TopicsUpserted),
		slog.Int64("mappings_added", stats.MappingsAdded),
		slog.Int64("mappings_removed", stats.MappingsRemoved),
	)
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "key-value cleanup failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired key-value rows removed", slog.Int64("count", n))
	}
}

// cronLog adapts slog to cron.Logger.
type cronLog struct {
	logger *slog.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
