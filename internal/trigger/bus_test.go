package trigger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/thumbor-attrs/internal/trigger"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBus(t *testing.T, bufferSize int) *trigger.Bus {
	return trigger.NewBus(zaptest.NewLogger(t), bufferSize)
}

func TestBus_DeliversOnlySubscribedSignals(t *testing.T) {
	b := newTestBus(t, 4)
	defer b.Shutdown()

	soft, unsubSoft := b.Subscribe(trigger.Refresh)
	defer unsubSoft()
	both, unsubBoth := b.Subscribe(trigger.Refresh, trigger.RefreshHard)
	defer unsubBoth()

	ctx := context.Background()
	require.NoError(t, b.Post(ctx, trigger.RefreshHard, "SIGHUP"))
	require.NoError(t, b.Post(ctx, trigger.Refresh, "fsnotify"))

	msg := <-both
	assert.Equal(t, trigger.RefreshHard, msg.Signal)
	assert.Equal(t, "SIGHUP", msg.Source)
	assert.NotEmpty(t, msg.ID)
	b.Acknowledge(msg)

	msg = <-both
	assert.Equal(t, trigger.Refresh, msg.Signal)
	b.Acknowledge(msg)

	msg = <-soft
	assert.Equal(t, trigger.Refresh, msg.Signal)
	b.Acknowledge(msg)

	select {
	case extra := <-soft:
		t.Fatalf("unexpected delivery of %s", extra.Signal)
	default:
	}
}

func TestBus_PostWithoutSubscribers(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()
	assert.NoError(t, b.Post(context.Background(), trigger.Refresh, "test"))
}

func TestBus_Post_Cancellation(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(trigger.Refresh)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Post(ctx, trigger.Refresh, "test") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Post did not return after cancellation")
	}

	select {
	case <-ch:
		t.Error("message delivered after cancellation")
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newTestBus(t, 1)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(trigger.Refresh)
	unsubscribe()
	require.NoError(t, b.Post(context.Background(), trigger.Refresh, "test"))

	select {
	case <-ch:
		t.Error("unsubscribed channel received a message")
	default:
	}
}

func TestBus_ShutdownDrainsUnreadMessages(t *testing.T) {
	b := newTestBus(t, 2)
	ch, _ := b.Subscribe(trigger.Refresh)

	require.NoError(t, b.Post(context.Background(), trigger.Refresh, "a"))
	require.NoError(t, b.Post(context.Background(), trigger.Refresh, "b"))

	finished := make(chan struct{})
	go func() {
		b.Shutdown()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Shutdown blocked on unread buffered messages")
	}

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel is closed")
	assert.Error(t, b.Post(context.Background(), trigger.Refresh, "late"))

	closed, _ := b.Subscribe(trigger.Refresh)
	_, ok = <-closed
	assert.False(t, ok)
}

func TestBus_ShutdownWaitsForAcknowledgement(t *testing.T) {
	b := newTestBus(t, 1)
	ch, _ := b.Subscribe(trigger.RefreshHard)
	require.NoError(t, b.Post(context.Background(), trigger.RefreshHard, "SIGHUP"))

	msg := <-ch
	var wg sync.WaitGroup
	wg.Add(1)
	shutdownDone := make(chan struct{})
	go func() {
		defer wg.Done()
		b.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the message was acknowledged")
	case <-time.After(30 * time.Millisecond):
	}

	b.Acknowledge(msg)
	wg.Wait()
}
