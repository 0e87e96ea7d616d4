package syncx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex(t *testing.T) {
	t.Run("lock and unlock", func(t *testing.T) {
		m := NewMutex()
		require.NoError(t, m.Lock(context.Background()))
		assert.False(t, m.TryLock())
		require.NoError(t, m.Unlock())
		assert.True(t, m.TryLock())
		require.NoError(t, m.Unlock())
	})

	t.Run("unlock without lock", func(t *testing.T) {
		m := NewMutex()
		assert.ErrorIs(t, m.Unlock(), ErrNotLocked)
	})

	t.Run("bounded acquisition times out", func(t *testing.T) {
		m := NewMutex()
		require.True(t, m.TryLock())

		start := time.Now()
		err := m.LockTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

		assert.ErrorIs(t, m.LockTimeout(0), ErrLockTimeout)
	})

	t.Run("context cancellation", func(t *testing.T) {
		m := NewMutex()
		require.True(t, m.TryLock())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, m.Lock(ctx), context.DeadlineExceeded)
	})

	t.Run("mutual exclusion", func(t *testing.T) {
		m := NewMutex()
		counter := 0
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := m.LockTimeout(time.Second); err != nil {
					t.Error(err)
					return
				}
				counter++
				_ = m.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, counter)
	})
}

func TestEvent(t *testing.T) {
	t.Run("wait timeout on unset event", func(t *testing.T) {
		e := NewEvent()
		assert.False(t, e.IsSet())
		assert.False(t, e.WaitTimeout(10*time.Millisecond))
		assert.False(t, e.WaitTimeout(0))
	})

	t.Run("set releases all waiters", func(t *testing.T) {
		e := NewEvent()
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, e.Wait(context.Background()))
			}()
		}
		e.Set()
		e.Set()
		wg.Wait()

		assert.True(t, e.IsSet())
		assert.True(t, e.WaitTimeout(time.Millisecond))
		select {
		case <-e.Done():
		default:
			t.Fatal("Done channel should be closed")
		}
	})
}
