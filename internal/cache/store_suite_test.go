package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behavior every Store backend must share
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put get forget", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "k1", "v1", time.Minute))
		v, ok, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, s.Forget(ctx, "k1", "never-set"))
		has, err := s.Has(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("increment counts from one", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			n, err := s.Increment(ctx, "counter", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		n, err := GetInt(ctx, s, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.Increment(ctx, "concurrent", time.Minute)
			}()
		}
		wg.Wait()
		n, err := GetInt(ctx, s, "concurrent")
		require.NoError(t, err)
		assert.Equal(t, int64(50), n)
	})

	t.Run("add is set-if-absent", func(t *testing.T) {
		added, err := s.Add(ctx, "marker", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.Add(ctx, "marker", "2", time.Minute)
		require.NoError(t, err)
		assert.False(t, added)

		v, _, _ := s.Get(ctx, "marker")
		assert.Equal(t, "1", v)
	})

	t.Run("json roundtrip", func(t *testing.T) {
		type rec struct {
			Count int  `json:"count"`
			Perm  bool `json:"perm"`
		}
		require.NoError(t, PutJSON(ctx, s, "json", rec{Count: 4, Perm: true}, 0))

		var got rec
		ok, err := GetJSON(ctx, s, "json", &got)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, rec{Count: 4, Perm: true}, got)
	})

	t.Run("lock excludes second holder", func(t *testing.T) {
		release, err := s.Lock(ctx, "resource", time.Second)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = s.Lock(waitCtx, "resource", time.Second)
		assert.Error(t, err)

		release()
		release2, err := s.Lock(ctx, "resource", time.Second)
		require.NoError(t, err)
		release2()
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
