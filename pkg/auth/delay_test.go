package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/pkg/auth"
	"github.com/stretchr/testify/assert"
)

func TestNewFailureDelay_ZeroIsNil(t *testing.T) {
	d := auth.NewFailureDelay(0, 0)

	assert.Nil(t, d)
	assert.Zero(t, d.Target())

	start := time.Now()
	d.WaitFrom(context.Background(), start)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestFailureDelay_TargetRange(t *testing.T) {
	d := auth.NewFailureDelay(100*time.Millisecond, 50*time.Millisecond)

	for i := 0; i < 50; i++ {
		target := d.Target()
		assert.GreaterOrEqual(t, target, 100*time.Millisecond)
		assert.Less(t, target, 150*time.Millisecond)
	}
}

func TestFailureDelay_WaitFrom_PadsToFloor(t *testing.T) {
	d := auth.NewFailureDelay(60*time.Millisecond, 0)

	start := time.Now()
	d.WaitFrom(context.Background(), start)

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestFailureDelay_WaitFrom_SkipsWhenAlreadySlow(t *testing.T) {
	d := auth.NewFailureDelay(50*time.Millisecond, 0)

	before := time.Now()
	d.WaitFrom(context.Background(), before.Add(-time.Second))

	assert.Less(t, time.Since(before), 10*time.Millisecond)
}

func TestFailureDelay_WaitFrom_HonorsContext(t *testing.T) {
	d := auth.NewFailureDelay(time.Second, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.WaitFrom(ctx, start)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
