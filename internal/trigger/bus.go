// internal/trigger/bus.go
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Signal names a request to re-run a rewrite pass.
type Signal string

const (
	// Refresh processes elements that have not been processed yet.
	Refresh Signal = "refresh"
	// RefreshHard clears every processed marker and processes all elements again.
	RefreshHard Signal = "refresh-hard"
)

// Message is a signal delivered to subscribers.
type Message struct {
	ID        string
	Timestamp time.Time
	Signal    Signal
	// Source describes what raised the signal, e.g. "fsnotify" or "SIGHUP".
	Source string
}

// Bus fans signals out to subscribers. Every delivered message must be
// acknowledged so Shutdown can wait for in-progress passes.
type Bus struct {
	logger *zap.Logger

	subscribers map[Signal][]chan Message
	mu          sync.RWMutex
	bufferSize  int

	processingWg  sync.WaitGroup
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// NewBus creates a bus whose subscriber channels hold bufferSize messages.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("trigger_bus"),
		subscribers:  make(map[Signal][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post delivers the signal to every subscriber of it. It blocks while a
// subscriber's buffer is full.
func (b *Bus) Post(ctx context.Context, sig Signal, source string) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post %s: trigger bus is shut down", sig)
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Signal:    sig,
		Source:    source,
	}
	b.logger.Debug("Posting signal", zap.String("signal", string(sig)), zap.String("source", source), zap.String("id", msg.ID))

	b.mu.RLock()
	subs := append([]chan Message(nil), b.subscribers[sig]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return fmt.Errorf("failed to post %s: bus is shutting down", sig)
		}
	}
	return nil
}

// Subscribe returns a channel receiving the given signals and a function
// that removes the subscription. The channel is closed by Shutdown.
func (b *Bus) Subscribe(signals ...Signal) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdownLocked() {
		closed := make(chan Message)
		close(closed)
		return closed, func() {}
	}
	if len(signals) == 0 {
		panic("must subscribe to at least one signal")
	}

	ch := make(chan Message, b.bufferSize)
	subscribed := append([]Signal(nil), signals...)
	for _, sig := range subscribed {
		b.subscribers[sig] = append(b.subscribers[sig], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, sig := range subscribed {
			subs := b.subscribers[sig]
			for i, c := range subs {
				if c != ch {
					continue
				}
				subs = append(subs[:i], subs[i+1:]...)
				if len(subs) == 0 {
					delete(b.subscribers, sig)
				} else {
					b.subscribers[sig] = subs
				}
				break
			}
		}
	}
	return ch, unsubscribe
}

func (b *Bus) isShutdownLocked() bool {
	b.shutdownMu.Lock()
	defer b.shutdownMu.Unlock()
	return b.isShutdown
}

// Acknowledge marks a received message as handled.
func (b *Bus) Acknowledge(Message) {
	b.processingWg.Done()
}

// Shutdown stops accepting posts, closes subscriber channels and waits
// until every delivered message has been acknowledged.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		unique := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		// Buffered messages nobody will read count as handled.
		drained := 0
		for ch := range unique {
			for range ch {
				drained++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[Signal][]chan Message)
		b.mu.Unlock()

		if drained > 0 {
			b.logger.Debug("Drained buffered signals during shutdown.", zap.Int("count", drained))
		}
		b.processingWg.Wait()
		b.logger.Debug("Trigger bus shut down.")
	})
}
