package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/testutil"
	"github.com/revharvest/revharvest/internal/worker"
)

// echoHarvest pretends every key harvested cleanly.
func echoHarvest(_ context.Context, key string) (*store.Session, error) {
	return &store.Session{LookupKey: key, State: store.StateCompleted}, nil
}

func TestPoolRun_OrderPreserved(t *testing.T) {
	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("mx%02d.ionos.de", i)
	}

	pool := worker.NewPool(5, testutil.NopLogger())
	results := pool.Run(context.Background(), keys, echoHarvest)
	require.Len(t, results, len(keys))

	for i, r := range results {
		assert.Equal(t, keys[i], r.Key)
		require.NotNil(t, r.Session)
		assert.Equal(t, keys[i], r.Session.LookupKey)
		assert.NoError(t, r.Err)
	}
}

func TestPoolRun_ErrorPerKey(t *testing.T) {
	keys := []string{"mx01.ionos.de", "bad.example", "ns1.hetzner.com"}
	fn := func(_ context.Context, key string) (*store.Session, error) {
		if key == "bad.example" {
			return nil, errors.New("no sessions for you")
		}
		return &store.Session{LookupKey: key}, nil
	}

	pool := worker.NewPool(3, testutil.NopLogger())
	results := pool.Run(context.Background(), keys, fn)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Session)
	assert.NoError(t, results[2].Err)
}

func TestPoolRun_AllErrors(t *testing.T) {
	sentinel := errors.New("provider down")
	fn := func(_ context.Context, _ string) (*store.Session, error) {
		return nil, sentinel
	}

	pool := worker.NewPool(2, testutil.NopLogger())
	results := pool.Run(context.Background(), []string{"a.example", "b.example", "c.example"}, fn)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, sentinel)
	}
}

func TestPoolRun_SingleKey(t *testing.T) {
	pool := worker.NewPool(10, testutil.NopLogger())
	results := pool.Run(context.Background(), []string{"only.example"}, echoHarvest)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Session)
	assert.Equal(t, "only.example", results[0].Session.LookupKey)
	assert.NoError(t, results[0].Err)
}

func TestPoolRun_EmptyKeys(t *testing.T) {
	pool := worker.NewPool(5, testutil.NopLogger())
	results := pool.Run(context.Background(), []string{}, echoHarvest)
	assert.Empty(t, results)
}

func TestPoolRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := worker.NewPool(2, testutil.NopLogger())
	results := pool.Run(ctx, []string{"a.example", "b.example"}, echoHarvest)

	// Every key still gets a result; unstarted jobs carry the ctx error.
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestPoolRun_ConcurrencyOne(t *testing.T) {
	keys := []string{"x.example", "y.example", "z.example"}
	pool := worker.NewPool(1, testutil.NopLogger())
	results := pool.Run(context.Background(), keys, echoHarvest)
	require.Len(t, results, 3)
	for i, r := range results {
		require.NotNil(t, r.Session)
		assert.Equal(t, keys[i], r.Session.LookupKey)
	}
}

func TestPoolRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, key string) (*store.Session, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &store.Session{LookupKey: key}, nil
	}

	keys := make([]string, 8)
	for i := range keys {
		keys[i] = fmt.Sprintf("host%d.example", i)
	}

	pool := worker.NewPool(2, testutil.NopLogger())
	results := pool.Run(context.Background(), keys, fn)
	require.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestNewPool_ClampsSize(t *testing.T) {
	pool := worker.NewPool(0, testutil.NopLogger())
	results := pool.Run(context.Background(), []string{"a.example", "b.example"}, echoHarvest)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}
