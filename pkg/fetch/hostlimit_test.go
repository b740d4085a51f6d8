package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/product-scout/pkg/utils"
)

func TestHostLimiter_CapsEachHost(t *testing.T) {
	limiter := NewHostLimiter(2, 0, testLogger())
	host := "shop.example.com"

	require.NoError(t, limiter.Acquire(context.Background(), host))
	require.NoError(t, limiter.Acquire(context.Background(), host))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Acquire(ctx, host), context.DeadlineExceeded, "third caller waits until ctx expires")

	limiter.Release(host)
	require.NoError(t, limiter.Acquire(context.Background(), host))

	limiter.Release(host)
	limiter.Release(host)
}

func TestHostLimiter_HostsAreIndependent(t *testing.T) {
	limiter := NewHostLimiter(1, 0, testLogger())

	require.NoError(t, limiter.Acquire(context.Background(), "a.example.com"))
	require.NoError(t, limiter.Acquire(context.Background(), "b.example.com"))
	assert.Equal(t, 2, limiter.Hosts())

	limiter.Release("a.example.com")
	limiter.Release("b.example.com")
}

func TestHostLimiter_WaitCap(t *testing.T) {
	limiter := NewHostLimiter(1, 30*time.Millisecond, testLogger())
	host := "busy.example.com"
	require.NoError(t, limiter.Acquire(context.Background(), host))
	defer limiter.Release(host)

	err := limiter.Acquire(context.Background(), host)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSemaphoreTimeout))
	assert.Equal(t, "Resource_SemaphoreTimeout", utils.CategorizeError(err))
}

func TestHostLimiter_CancelledCallerIsNotATimeout(t *testing.T) {
	limiter := NewHostLimiter(1, time.Second, testLogger())
	host := "busy.example.com"
	require.NoError(t, limiter.Acquire(context.Background(), host))
	defer limiter.Release(host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Acquire(ctx, host)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, utils.ErrSemaphoreTimeout))
}

func TestHostLimiter_ZeroLimitUsesDefault(t *testing.T) {
	limiter := NewHostLimiter(0, 0, testLogger())
	host := "default.example.com"
	for range defaultPerHost {
		require.NoError(t, limiter.Acquire(context.Background(), host))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Acquire(ctx, host))

	for range defaultPerHost {
		limiter.Release(host)
	}
}

func TestHostLimiter_SweepKeepsBusyHosts(t *testing.T) {
	limiter := NewHostLimiter(1, 0, testLogger())

	require.NoError(t, limiter.Acquire(context.Background(), "held.example.com"))
	for _, host := range []string{"a.example.com", "b.example.com"} {
		require.NoError(t, limiter.Acquire(context.Background(), host))
		limiter.Release(host)
	}

	time.Sleep(5 * time.Millisecond)
	limiter.sweep(time.Millisecond)
	assert.Equal(t, 1, limiter.Hosts(), "a held host survives the sweep")

	limiter.Release("held.example.com")
	time.Sleep(5 * time.Millisecond)
	limiter.sweep(time.Millisecond)
	assert.Equal(t, 0, limiter.Hosts())
}

func TestHostLimiter_RunSweeperStopsOnCancel(t *testing.T) {
	limiter := NewHostLimiter(1, 0, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		limiter.RunSweeper(ctx, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSweeper kept running after cancellation")
	}
}

func TestHostLimiter_ConcurrentUse(t *testing.T) {
	limiter := NewHostLimiter(3, 0, testLogger())
	host := "concurrent.example.com"

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background(), host); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			limiter.Release(host)
		}()
	}
	wg.Wait()

	time.Sleep(5 * time.Millisecond)
	limiter.sweep(time.Millisecond)
	assert.Equal(t, 0, limiter.Hosts())
}

func TestHostLimiter_ReleaseUntrackedHost(t *testing.T) {
	limiter := NewHostLimiter(1, 0, testLogger())
	limiter.Release("never-acquired.example.com")
	assert.Equal(t, 0, limiter.Hosts())
}
