package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/runtime/agent/telemetry"
)

func TestBusFanOutPerAction(t *testing.T) {
	bus := New()

	subA := bus.Subscribe("action-1")
	defer subA.Close()
	subB := bus.Subscribe("action-2")
	defer subB.Close()

	bus.Publish(NewTaskStartedEvent("action-1", "task-1", 1))

	select {
	case evt := <-subA.Events():
		require.Equal(t, EventTaskStarted, evt.Name)
		require.Equal(t, "task-1", evt.TaskID)
	default:
		t.Fatal("expected event for action-1 subscriber")
	}

	select {
	case <-subB.Events():
		t.Fatal("action-2 subscriber should not receive action-1 events")
	default:
	}
}

func TestBusDropsWhenQueueFull(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("action-1")
	defer sub.Close()

	for i := 0; i < defaultQueueSize+10; i++ {
		bus.Publish(NewTaskStartedEvent("action-1", "task-1", int64(i)))
	}

	require.Len(t, sub.events, defaultQueueSize)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("action-1")
	sub.Close()

	bus.Publish(NewTaskStartedEvent("action-1", "task-1", 1))

	_, open := <-sub.Events()
	require.False(t, open)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	bus := New()
	sub := bus.Subscribe("action-1")
	require.NotPanics(t, func() {
		sub.Close()
		sub.Close()
	})
}

// TestPublishNeverPanicsRacingConcurrentClose guards against a send on a
// closed subscriber channel: a disconnect (Close) racing a publish must
// never select the send case on an already/concurrently-closing channel.
func TestPublishNeverPanicsRacingConcurrentClose(t *testing.T) {
	bus := New()

	require.NotPanics(t, func() {
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			sub := bus.Subscribe("action-1")
			wg.Add(2)
			go func() {
				defer wg.Done()
				bus.Publish(NewTaskStartedEvent("action-1", "task-1", 1))
			}()
			go func() {
				defer wg.Done()
				sub.Close()
			}()
		}
		wg.Wait()
	})
}

type recordingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *recordingLogger) Debug(context.Context, string, ...any) {}
func (l *recordingLogger) Info(context.Context, string, ...any)  {}
func (l *recordingLogger) Warn(context.Context, string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *recordingLogger) Error(context.Context, string, ...any) {}

var _ telemetry.Logger = (*recordingLogger)(nil)

func TestBusLogsWarningWhenDroppingOverflowedEvent(t *testing.T) {
	logger := &recordingLogger{}
	bus := New(WithLogger(logger))
	sub := bus.Subscribe("action-1")
	defer sub.Close()

	for i := 0; i < defaultQueueSize+10; i++ {
		bus.Publish(NewTaskStartedEvent("action-1", "task-1", int64(i)))
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Greater(t, logger.warns, 0)
}
