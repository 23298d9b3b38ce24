package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsHandlersInReverseOrder(t *testing.T) {
	m := NewShutdownManager(time.Second)

	var order []string
	for _, name := range []string{"archive", "graph", "recognizer"} {
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"recognizer", "graph", "archive"}, order)
}

func TestShutdownCancelsContextAndClosesDone(t *testing.T) {
	m := NewShutdownManager(time.Second)
	assert.NoError(t, m.Context().Err())
	assert.NoError(t, m.Err())

	m.Shutdown()

	assert.Error(t, m.Context().Err())
	select {
	case <-m.Done():
	default:
		t.Fatal("done should be closed after shutdown")
	}
}

func TestShutdownJoinsErrors(t *testing.T) {
	m := NewShutdownManager(time.Second)
	m.RegisterCloser("archive", func() error { return errors.New("db locked") })
	m.Register("graph", func(context.Context) error { return nil })

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: db locked")
	assert.Equal(t, err, m.Err())
}

func TestShutdownRecoversHandlerPanic(t *testing.T) {
	m := NewShutdownManager(time.Second)
	var ran atomic.Bool
	m.RegisterCloser("first", func() error {
		ran.Store(true)
		return nil
	})
	m.RegisterCloser("broken", func() error { panic("boom") })

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in shutdown.broken")
	assert.True(t, ran.Load(), "handlers after a panic still run")
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	m := NewShutdownManager(50 * time.Millisecond)
	var skippedRan atomic.Bool
	m.RegisterCloser("skipped", func() error {
		skippedRan.Store(true)
		return nil
	})
	m.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	})

	start := time.Now()
	err := m.Shutdown()

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, skippedRan.Load())
}

func TestShutdownOnlyOnce(t *testing.T) {
	m := NewShutdownManager(time.Second)
	var calls atomic.Int32
	m.RegisterCloser("once", func() error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Shutdown()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestListenForSignalsStop(t *testing.T) {
	m := NewShutdownManager(time.Second)
	stop := m.ListenForSignals()
	stop()
	stop()

	assert.NoError(t, m.Context().Err())
}
