package corpus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes-ai/opennotes-sub009/internal/corpus"
)

func TestCachedCounterServesFreshValue(t *testing.T) {
	var calls atomic.Int32
	c := corpus.NewCachedCounter(func(ctx context.Context) (int64, error) {
		calls.Add(1)
		return 1234, nil
	}, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		n, err := c.CountPublishedNotes(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1234), n)
	}
	assert.Equal(t, int32(1), calls.Load(), "within the TTL only the first call hits upstream")
}

func TestCachedCounterExpires(t *testing.T) {
	var calls atomic.Int32
	c := corpus.NewCachedCounter(func(ctx context.Context) (int64, error) {
		calls.Add(1)
		return int64(calls.Load()) * 100, nil
	}, 10*time.Millisecond, nil)
	ctx := context.Background()

	n, err := c.CountPublishedNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	time.Sleep(25 * time.Millisecond)

	n, err = c.CountPublishedNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedCounterDeduplicatesConcurrentRefresh(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	c := corpus.NewCachedCounter(func(ctx context.Context) (int64, error) {
		calls.Add(1)
		<-gate
		return 777, nil
	}, time.Minute, nil)

	const waiters = 20
	var wg sync.WaitGroup
	results := make([]int64, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.CountPublishedNotes(context.Background())
		}()
	}

	// Let the waiters pile up on the single in-flight fetch, then release.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(777), results[i])
	}
	assert.Equal(t, int32(1), calls.Load(), "concurrent refreshes must collapse into one query")
}

func TestCachedCounterDoesNotCacheErrors(t *testing.T) {
	sentinel := errors.New("connection refused")
	var calls atomic.Int32
	c := corpus.NewCachedCounter(func(ctx context.Context) (int64, error) {
		if calls.Add(1) == 1 {
			return 0, sentinel
		}
		return 42, nil
	}, time.Minute, nil)
	ctx := context.Background()

	_, err := c.CountPublishedNotes(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)

	// The failure was not cached; the retry succeeds and is then cached.
	n, err := c.CountPublishedNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedCounterCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	c := corpus.NewCachedCounter(func(ctx context.Context) (int64, error) {
		<-gate
		return 1, nil
	}, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.CountPublishedNotes(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "waiters stop waiting when their context ends")
}

func TestCachedCounterInvalidate(t *testing.T) {
	var calls atomic.Int32
	c := corpus.NewCachedCounter(func(ctx context.Context) (int64, error) {
		calls.Add(1)
		return 5, nil
	}, time.Minute, nil)
	ctx := context.Background()

	_, err := c.CountPublishedNotes(ctx)
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.CountPublishedNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
