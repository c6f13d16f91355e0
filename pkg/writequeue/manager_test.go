package writequeue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_SerializesSameGroup(t *testing.T) {
	m := New(nil, nil)
	defer m.Shutdown(context.Background())

	var running atomic.Int32
	var maxRunning atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Execute(context.Background(), "content/", func() error {
				n := running.Add(1)
				for {
					cur := maxRunning.Load()
					if n <= cur || maxRunning.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestExecute_DifferentGroupsDoNotBlock(t *testing.T) {
	m := New(nil, nil)
	defer m.Shutdown(context.Background())

	release := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- m.Execute(context.Background(), "properties/p1", func() error {
			<-release
			return nil
		})
	}()

	done := make(chan error, 1)
	go func() {
		done <- m.Execute(context.Background(), "images/hero", func() error { return nil })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write on another group waited for an unrelated group")
	}

	close(release)
	require.NoError(t, <-blocked)
	assert.Equal(t, 2, m.QueueCount())
}

func TestExecute_ReturnsFnError(t *testing.T) {
	m := New(nil, nil)
	defer m.Shutdown(context.Background())

	err := m.Execute(context.Background(), "design/", func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_Timeout(t *testing.T) {
	m := New(&Config{WriteTimeout: 20 * time.Millisecond}, nil)
	defer m.Shutdown(context.Background())

	err := m.Execute(context.Background(), "content/", func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, ErrWriteTimeout)
}

func TestExecute_AfterShutdown(t *testing.T) {
	m := New(nil, nil)
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Execute(context.Background(), "content/", func() error { return nil })
	assert.ErrorIs(t, err, ErrWriteQueueClosed)
	assert.True(t, m.IsClosed())
}

func TestExecute_RecoversPanic(t *testing.T) {
	m := New(nil, nil)
	defer m.Shutdown(context.Background())

	err := m.Execute(context.Background(), "content/", func() error { panic("boom") })
	assert.Error(t, err)

	err = m.Execute(context.Background(), "content/", func() error { return nil })
	assert.NoError(t, err)
}
