package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/convert-cache/internal/domain"
	"github.com/vertextoedge/convert-cache/internal/domain/vo"
	"go.uber.org/zap"
)

// TaskPruner drops finished task records
type TaskPruner interface {
	PruneTaskStates(maxAge time.Duration) int
}

// StatsReporter summarizes the cache
type StatsReporter interface {
	Stats(ctx context.Context) (*domain.CacheStats, error)
}

// Config contains maintenance service configuration
type Config struct {
	// PruneInterval is how often finished task records are pruned
	PruneInterval time.Duration

	// TaskStateMaxAge is how long a finished task record is kept
	TaskStateMaxAge time.Duration

	// StatsInterval is how often cache size and usage are logged
	StatsInterval time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		PruneInterval:   10 * time.Minute,
		TaskStateMaxAge: 24 * time.Hour,
		StatsInterval:   time.Hour,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config *Config
	tasks  TaskPruner
	stats  StatsReporter
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, tasks TaskPruner, stats StatsReporter, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = 10 * time.Minute
	}
	if cfg.TaskStateMaxAge == 0 {
		cfg.TaskStateMaxAge = 24 * time.Hour
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = time.Hour
	}

	return &Service{
		config: cfg,
		tasks:  tasks,
		stats:  stats,
		logger: logger,
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("prune_interval", s.config.PruneInterval),
		zap.Duration("task_state_max_age", s.config.TaskStateMaxAge),
		zap.Duration("stats_interval", s.config.StatsInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	pruneTicker := time.NewTicker(s.config.PruneInterval)
	defer pruneTicker.Stop()

	statsTicker := time.NewTicker(s.config.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pruneTicker.C:
			s.pruneTaskStates()
		case <-statsTicker.C:
			s.reportStats(ctx)
		}
	}
}

// pruneTaskStates drops finished task records older than TaskStateMaxAge
func (s *Service) pruneTaskStates() {
	if pruned := s.tasks.PruneTaskStates(s.config.TaskStateMaxAge); pruned > 0 {
		s.logger.Info("pruned finished task records", zap.Int("count", pruned))
	}
}

func (s *Service) reportStats(ctx context.Context) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to collect cache stats", zap.Error(err))
		return
	}
	s.logger.Info("cache stats",
		zap.String("cache", stats.CacheName),
		zap.Int("entries", stats.Entries),
		zap.Stringer("size", vo.FileSizeFromMB(stats.SizeMB)),
		zap.Stringer("usage", vo.FileSizeFromMB(stats.UsageMB)),
		zap.Int("skipped_keys", stats.SkippedKeys))
}
