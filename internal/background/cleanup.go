package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventPruner deletes security events past their retention
type EventPruner interface {
	PruneEvents(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically prunes security events past retention
type CleanupManager struct {
	pruner    EventPruner
	retention time.Duration
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager. A non-positive retention
// defers to the pruner's configured retention.
func NewCleanupManager(
	pruner EventPruner,
	retention time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		pruner:    pruner,
		retention: retention,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop is called or ctx is done.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := cm.pruner.PruneEvents(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to prune security events", slog.Any("error", err))
		return
	}

	if deleted > 0 {
		cm.logger.Info("security event cleanup completed", slog.Int64("rows_deleted", deleted))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
