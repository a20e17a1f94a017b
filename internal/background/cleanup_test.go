package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingPruner struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
	err       error
}

func (p *countingPruner) PruneEvents(ctx context.Context, retention time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.retention = retention
	return 3, p.err
}

func (p *countingPruner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupManager_RunsOnStartAndStops(t *testing.T) {
	pruner := &countingPruner{}
	cm := NewCleanupManager(pruner, 48*time.Hour, testLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return pruner.Calls() == 1 }, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
	assert.Equal(t, 48*time.Hour, pruner.retention)
}

func TestCleanupManager_TicksAndSurvivesErrors(t *testing.T) {
	pruner := &countingPruner{err: errors.New("db down")}
	cm := NewCleanupManager(pruner, 0, testLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return pruner.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored context cancellation")
	}
}
